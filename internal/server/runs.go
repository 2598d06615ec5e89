package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/pipeline"
	"github.com/conveyorci/conveyor/internal/storage"
)

// RunService triggers pipeline runs and tracks their state. Runs execute on
// their own goroutine; the trigger request returns as soon as the run is
// recorded.
type RunService struct {
	store   storage.RunStore
	exec    *engine.Executor
	logger  *slog.Logger
	baseCtx context.Context
}

// NewRunService creates a run service. baseCtx bounds the lifetime of
// asynchronous runs; cancel it to stop in-flight work on shutdown.
func NewRunService(baseCtx context.Context, store storage.RunStore, exec *engine.Executor, logger *slog.Logger) *RunService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RunService{
		store:   store,
		exec:    exec,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// TriggerRequest describes a run to start. Exactly one of Pipeline (inline
// YAML) or Path (pipeline file on the server) must be set.
type TriggerRequest struct {
	Pipeline string `json:"pipeline,omitempty"`
	Path     string `json:"path,omitempty"`
	Branch   string `json:"branch"`
	Commit   string `json:"commit,omitempty"`
}

// Trigger validates the pipeline, records the run, and starts it
// asynchronously.
func (s *RunService) Trigger(ctx context.Context, req TriggerRequest) (*storage.RunRecord, error) {
	var (
		spec *pipeline.Spec
		err  error
	)
	switch {
	case req.Pipeline != "" && req.Path != "":
		return nil, &pipeline.MalformedSpecError{Msg: "specify either an inline pipeline or a path, not both"}
	case req.Pipeline != "":
		spec, err = pipeline.Parse([]byte(req.Pipeline))
	case req.Path != "":
		spec, err = pipeline.Load(req.Path)
	default:
		return nil, &pipeline.MalformedSpecError{Msg: "no pipeline given"}
	}
	if err != nil {
		return nil, err
	}

	plan, err := pipeline.Build(spec)
	if err != nil {
		return nil, err
	}

	rec := &storage.RunRecord{
		ID:       uuid.New().String(),
		Pipeline: plan.Name,
		Branch:   req.Branch,
		Commit:   req.Commit,
		Status:   string(engine.StagePending),
	}
	if err := s.store.CreateRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	go s.execute(plan, rec)

	return rec, nil
}

func (s *RunService) execute(plan *pipeline.Plan, rec *storage.RunRecord) {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.store.UpdateRunStatus(ctx, rec.ID, string(engine.StageRunning)); err != nil {
		s.logger.Error("failed to mark run running",
			slog.String("run_id", rec.ID),
			slog.String("error", err.Error()))
	}

	rc := engine.NewRunContext(rec.Branch, rec.Commit, rec.ID)
	if _, err := s.exec.Run(ctx, plan, rc); err != nil {
		s.logger.Error("run aborted",
			slog.String("run_id", rec.ID),
			slog.String("error", err.Error()))
		if err := s.store.UpdateRunStatus(context.Background(), rec.ID, string(engine.RunFailed)); err != nil {
			s.logger.Error("failed to mark run failed", slog.String("run_id", rec.ID))
		}
	}
	// Terminal status and stage results are persisted by the store listener
	// when the executor reports RunFinished.
}

// StoreListener persists stage transitions and final results as the
// executor reports them.
type StoreListener struct {
	Store  storage.RunStore
	Logger *slog.Logger
}

func (l *StoreListener) StageTransition(runID, stage string, state engine.StageState) {
	// Only suspension is interesting mid-run at the run level; stage rows
	// are written once, when the run finishes.
	if state != engine.StageAwaitingApproval && state != engine.StageRunning {
		return
	}
	if err := l.Store.UpdateRunStatus(context.Background(), runID, string(state)); err != nil && l.Logger != nil {
		l.Logger.Error("failed to update run status",
			slog.String("run_id", runID),
			slog.String("stage", stage),
			slog.String("error", err.Error()))
	}
}

func (l *StoreListener) RunFinished(result *engine.RunResult) {
	ctx := context.Background()

	if err := l.Store.SaveStageResults(ctx, result.ID, FlattenResults(result)); err != nil && l.Logger != nil {
		l.Logger.Error("failed to save stage results",
			slog.String("run_id", result.ID),
			slog.String("error", err.Error()))
	}
	if err := l.Store.UpdateRunStatus(ctx, result.ID, string(result.Status)); err != nil && l.Logger != nil {
		l.Logger.Error("failed to update run status",
			slog.String("run_id", result.ID),
			slog.String("error", err.Error()))
	}
}

var _ engine.Listener = (*StoreListener)(nil)

// FlattenResults turns a run result tree into stage rows, group members
// included, in execution order.
func FlattenResults(result *engine.RunResult) []storage.StageRecord {
	var rows []storage.StageRecord
	pos := 0

	var walk func(results []engine.StageResult, parent string)
	walk = func(results []engine.StageResult, parent string) {
		for i := range results {
			r := &results[i]
			rows = append(rows, storage.StageRecord{
				RunID:     result.ID,
				Name:      r.Name,
				Parent:    parent,
				State:     string(r.State),
				ExitCode:  r.ExitCode,
				Stdout:    string(r.Stdout),
				Stderr:    string(r.Stderr),
				Reason:    r.Reason,
				Artifacts: r.Artifacts,
				Duration:  r.Duration,
				Position:  pos,
			})
			pos++
			walk(r.Children, r.Name)
		}
	}
	walk(result.Stages, "")
	walk(result.Hooks, "")
	return rows
}
