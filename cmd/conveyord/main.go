// Command conveyord is the long-running pipeline service. It exposes the
// run-control HTTP API, executes runs asynchronously, and persists results.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/gate"
	"github.com/conveyorci/conveyor/internal/notify"
	"github.com/conveyorci/conveyor/internal/server"
	"github.com/conveyorci/conveyor/internal/storage"
	"github.com/conveyorci/conveyor/internal/storage/memory"
	"github.com/conveyorci/conveyor/internal/storage/sqlite"
	"github.com/conveyorci/conveyor/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONVEYOR_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("conveyor", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open run store: %v", err)
	}
	defer store.Close()

	approvals := gate.NewRegistry()

	// runCtx bounds asynchronous runs; cancelling it on shutdown stops
	// in-flight stages.
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	exec, err := buildExecutor(cfg, store, approvals, logger)
	if err != nil {
		log.Fatalf("Failed to configure engine: %v", err)
	}

	srv := server.New(cfg.Server.Port, logger, cfg.Server.AuthToken)
	h := &server.Handler{
		Runs:      server.NewRunService(runCtx, store, exec, logger),
		Store:     store,
		Approvals: approvals,
	}
	h.Mount(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	stopRuns()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
	}
}

func openStore(cfg *config.Config) (storage.RunStore, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		return sqlite.New(cfg.Storage.SQLite.Path)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func buildExecutor(cfg *config.Config, store storage.RunStore, approvals *gate.Registry, logger *slog.Logger) (*engine.Executor, error) {
	stageTimeout, err := config.Duration(cfg.Engine.StageTimeout)
	if err != nil {
		return nil, err
	}
	approvalTimeout, err := config.Duration(cfg.Approval.Timeout)
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
		Runner:          &engine.ShellRunner{MaxOutputBytes: cfg.Engine.OutputCapBytes},
		Approvals:       approvals,
		Notifier:        notifier,
		Artifacts:       artifact.NewCollector(cfg.Engine.ArtifactDir),
		Listener:        &server.StoreListener{Store: store, Logger: logger},
		Logger:          logger,
		WorkDir:         cfg.Engine.WorkDir,
		StageTimeout:    stageTimeout,
		ApprovalTimeout: approvalTimeout,
		ProbeTimeout:    probeTimeout,
		ProbeInterval:   probeInterval,
	}), nil
}
