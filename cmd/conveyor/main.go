// Command conveyor runs one pipeline to completion and prints the per-stage
// breakdown. It is the local/one-shot counterpart of conveyord.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/notify"
	"github.com/conveyorci/conveyor/internal/pipeline"
)

func main() {
	var (
		pipelinePath = flag.String("f", "pipeline.yaml", "pipeline file")
		branch       = flag.String("branch", "main", "branch being built")
		commit       = flag.String("commit", "", "commit hash being built")
		configPath   = flag.String("config", "", "optional config file")
		verbose      = flag.Bool("v", false, "log stage output")
	)
	flag.Parse()

	_ = godotenv.Load()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	spec, err := pipeline.Load(*pipelinePath)
	if err != nil {
		log.Fatalf("Failed to load pipeline: %v", err)
	}
	plan, err := pipeline.Build(spec)
	if err != nil {
		log.Fatalf("Invalid pipeline: %v", err)
	}

	exec, err := buildExecutor(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to configure engine: %v", err)
	}

	rc := engine.NewRunContext(*branch, *commit, uuid.New().String())
	res, err := exec.Run(context.Background(), plan, rc)
	if err != nil {
		log.Fatalf("Run aborted: %v", err)
	}

	printBreakdown(res, *verbose)

	if res.Status != engine.RunSucceeded {
		os.Exit(1)
	}
}

func buildExecutor(cfg *config.Config, logger *slog.Logger) (*engine.Executor, error) {
	stageTimeout, err := config.Duration(cfg.Engine.StageTimeout)
	if err != nil {
		return nil, err
	}
	probeTimeout, err := config.Duration(cfg.Health.Timeout)
	if err != nil {
		return nil, err
	}
	probeInterval, err := config.Duration(cfg.Health.Interval)
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := config.Duration(cfg.Notify.Timeout)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Discard{}
	if cfg.Notify.URL != "" {
		notifier = notify.NewWebhook(notify.WebhookConfig{
			URL:     cfg.Notify.URL,
			Channel: cfg.Notify.Channel,
			Timeout: notifyTimeout,
			Retries: cfg.Notify.Retries,
		})
	}

	return engine.New(engine.Options{
		Runner:        &engine.ShellRunner{MaxOutputBytes: cfg.Engine.OutputCapBytes},
		Notifier:      notifier,
		Artifacts:     artifact.NewCollector(cfg.Engine.ArtifactDir),
		Logger:        logger,
		WorkDir:       cfg.Engine.WorkDir,
		StageTimeout:  stageTimeout,
		ProbeTimeout:  probeTimeout,
		ProbeInterval: probeInterval,
	}), nil
}

func printBreakdown(res *engine.RunResult, verbose bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATE\tEXIT\tDURATION")
	printStages(w, res.Stages, "")
	printStages(w, res.Hooks, "")
	w.Flush()

	fmt.Printf("\nrun %s: %s\n", res.ID, res.Status)

	if !verbose {
		return
	}
	for _, st := range res.Stages {
		if len(st.Stdout) > 0 {
			fmt.Printf("\n--- %s stdout ---\n%s", st.Name, st.Stdout)
		}
		if len(st.Stderr) > 0 {
			fmt.Printf("\n--- %s stderr ---\n%s", st.Name, st.Stderr)
		}
	}
}

func printStages(w *tabwriter.Writer, stages []engine.StageResult, indent string) {
	for _, st := range stages {
		fmt.Fprintf(w, "%s%s\t%s\t%d\t%s\n", indent, st.Name, st.State, st.ExitCode, st.Duration.Round(time.Millisecond))
		printStages(w, st.Children, indent+"  ")
	}
}
