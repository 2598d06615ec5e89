// Package engine executes validated pipeline plans.
//
// The executor runs stages strictly in declared order. Parallel groups fan
// out against a frozen context snapshot and join before the run proceeds; a
// member failure makes the whole group fail, but every member is awaited and
// every member's result is kept. After the first sequential failure the
// remaining stages are skipped, except stages marked always and the post-run
// hooks. External concerns (process spawning, approvals, probes,
// notification, artifact collection) are injected as capability interfaces
// so the engine is testable without real external tools.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/gate"
	"github.com/conveyorci/conveyor/internal/health"
	"github.com/conveyorci/conveyor/internal/notify"
	"github.com/conveyorci/conveyor/internal/pipeline"
)

// Listener observes stage lifecycle transitions and run completion. Calls
// happen on the executor's goroutine at stage boundaries.
type Listener interface {
	StageTransition(runID, stage string, state StageState)
	RunFinished(result *RunResult)
}

// ResourceBroker leases per-stage external resources (registry credentials,
// a deployment target, a scratch environment). The release func runs
// unconditionally when the stage exits, failure included.
type ResourceBroker interface {
	Acquire(ctx context.Context, stage string) (release func(), err error)
}

type nopListener struct{}

func (nopListener) StageTransition(runID, stage string, state StageState) {}
func (nopListener) RunFinished(result *RunResult)                         {}

// Options configures an Executor. Zero-value fields get working defaults.
type Options struct {
	Runner    ProcessRunner       // default: ShellRunner
	Approvals gate.ApprovalSource // default: AutoApprove
	Poller    *health.Poller
	Notifier  notify.Notifier // default: Discard
	Artifacts *artifact.Collector
	Broker    ResourceBroker
	Listener  Listener
	Logger    *slog.Logger

	// WorkDir is where stage commands run. Empty means the process cwd.
	WorkDir string
	// StageTimeout bounds stages that declare no timeout. Zero means
	// unbounded.
	StageTimeout time.Duration
	// ApprovalTimeout bounds manual-approval waits. Zero waits forever.
	ApprovalTimeout time.Duration
	// ProbeTimeout and ProbeInterval apply to probes that declare none.
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
}

// Executor runs pipeline plans.
type Executor struct {
	runner    ProcessRunner
	approvals gate.ApprovalSource
	poller    *health.Poller
	notifier  notify.Notifier
	artifacts *artifact.Collector
	broker    ResourceBroker
	listener  Listener
	logger    *slog.Logger

	workDir         string
	stageTimeout    time.Duration
	approvalTimeout time.Duration
	probeTimeout    time.Duration
	probeInterval   time.Duration
}

// New creates an executor.
func New(opts Options) *Executor {
	e := &Executor{
		runner:          opts.Runner,
		approvals:       opts.Approvals,
		poller:          opts.Poller,
		notifier:        opts.Notifier,
		artifacts:       opts.Artifacts,
		broker:          opts.Broker,
		listener:        opts.Listener,
		logger:          opts.Logger,
		workDir:         opts.WorkDir,
		stageTimeout:    opts.StageTimeout,
		approvalTimeout: opts.ApprovalTimeout,
		probeTimeout:    opts.ProbeTimeout,
		probeInterval:   opts.ProbeInterval,
	}
	if e.runner == nil {
		e.runner = &ShellRunner{}
	}
	if e.approvals == nil {
		e.approvals = gate.AutoApprove{}
	}
	if e.notifier == nil {
		e.notifier = notify.Discard{}
	}
	if e.listener == nil {
		e.listener = nopListener{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.poller == nil {
		e.poller = health.NewPoller(e.logger)
	}
	if e.probeTimeout <= 0 {
		e.probeTimeout = time.Minute
	}
	if e.probeInterval <= 0 {
		e.probeInterval = 2 * time.Second
	}
	return e
}

// Run executes the plan against the run context and returns the terminal
// result. Stage failures are reported inside the result, never as the
// returned error; the error is reserved for invalid invocations.
func (e *Executor) Run(ctx context.Context, plan *pipeline.Plan, rc *RunContext) (*RunResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}
	if rc == nil {
		return nil, fmt.Errorf("nil run context")
	}

	res := &RunResult{
		ID:       rc.Build,
		Pipeline: plan.Name,
		Started:  time.Now(),
	}

	// Pipeline-level env lands in the context at invocation start, the
	// first stage boundary.
	for k, v := range plan.Env {
		rc.SetEnv(k, v)
	}

	e.logger.Info("pipeline run started",
		slog.String("run_id", rc.Build),
		slog.String("pipeline", plan.Name),
		slog.String("branch", rc.Branch))

	failed := false
	for i := range plan.Stages {
		r := e.runStage(ctx, &plan.Stages[i], rc, failed)
		if r.Failed() {
			failed = true
		}
		if r.Artifacts != "" {
			// Boundary mutation: later stages see where the build output went.
			rc.SetEnv("CONVEYOR_ARTIFACTS_DIR", r.Artifacts)
		}
		res.Stages = append(res.Stages, r)
	}

	res.Hooks = e.runHooks(ctx, plan, rc, failed)
	for i := range res.Hooks {
		if res.Hooks[i].Failed() {
			failed = true
		}
	}

	res.Status = RunSucceeded
	if failed {
		res.Status = RunFailed
	}
	res.Finished = time.Now()

	e.logger.Info("pipeline run finished",
		slog.String("run_id", rc.Build),
		slog.String("status", string(res.Status)),
		slog.Duration("duration", res.Finished.Sub(res.Started)))

	e.listener.RunFinished(res)
	e.dispatchNotification(ctx, plan, rc, res)

	return res, nil
}

// runHooks executes the post-run stages. Hooks always run to completion:
// a hook failure marks the run failed but never skips the hooks after it.
func (e *Executor) runHooks(ctx context.Context, plan *pipeline.Plan, rc *RunContext, failed bool) []StageResult {
	hooks := make([]pipeline.Stage, 0,
		len(plan.Post.Always)+len(plan.Post.Success)+len(plan.Post.Failure))
	hooks = append(hooks, plan.Post.Always...)
	if failed {
		hooks = append(hooks, plan.Post.Failure...)
	} else {
		hooks = append(hooks, plan.Post.Success...)
	}

	if len(hooks) == 0 {
		return nil
	}
	out := make([]StageResult, 0, len(hooks))
	for i := range hooks {
		out = append(out, e.runStage(ctx, &hooks[i], rc, false))
	}
	return out
}

func (e *Executor) runStage(ctx context.Context, st *pipeline.Stage, rc *RunContext, skipping bool) StageResult {
	res := StageResult{Name: st.Name, State: StagePending}

	if skipping && !st.Always {
		return e.finish(rc, res, StageSkipped, "earlier stage failed")
	}

	if st.Gate != nil {
		decision, err := st.Gate.Evaluate(rc.gateContext())
		if err != nil {
			// Fail closed and say why, rather than running a stage whose
			// condition was never understood.
			e.logger.Error("gate configuration error",
				slog.String("run_id", rc.Build),
				slog.String("stage", st.Name),
				slog.String("error", err.Error()))
			return e.finish(rc, res, StageSkipped, "gate configuration error: "+err.Error())
		}
		if decision == gate.Skip {
			return e.finish(rc, res, StageSkipped, "gate predicate not satisfied")
		}
	}

	if st.Approval {
		e.listener.StageTransition(rc.Build, st.Name, StageAwaitingApproval)
		e.logger.Info("stage awaiting approval",
			slog.String("run_id", rc.Build),
			slog.String("stage", st.Name))
		waitCtx := ctx
		if e.approvalTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, e.approvalTimeout)
			defer cancel()
		}
		approved, err := e.approvals.Await(waitCtx, rc.Build, st.Name)
		if err != nil {
			return e.finish(rc, res, StageFailed, "awaiting approval: "+err.Error())
		}
		if !approved {
			return e.finish(rc, res, StageSkipped, "approval rejected")
		}
	}

	e.listener.StageTransition(rc.Build, st.Name, StageRunning)
	start := time.Now()

	if e.broker != nil {
		release, err := e.broker.Acquire(ctx, st.Name)
		if err != nil {
			res.Duration = time.Since(start)
			return e.finish(rc, res, StageFailed, "acquiring stage resources: "+err.Error())
		}
		defer release()
	}

	switch {
	case st.IsGroup():
		res = e.runGroup(ctx, st, rc, res)
	case st.Probe != nil:
		res = e.runProbe(ctx, st, res)
	default:
		res = e.runCommand(ctx, st, rc, res)
	}

	res.Duration = time.Since(start)
	e.listener.StageTransition(rc.Build, st.Name, res.State)
	return res
}

// runGroup fans the members out against a frozen snapshot and joins them all
// before combining results with failure dominance.
func (e *Executor) runGroup(ctx context.Context, st *pipeline.Stage, rc *RunContext, res StageResult) StageResult {
	snapshot := rc.Snapshot()
	results := make([]StageResult, len(st.Group))

	var wg sync.WaitGroup
	for i := range st.Group {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.runStage(ctx, &st.Group[i], snapshot, false)
		}(i)
	}
	wg.Wait()

	res.Children = results

	var failedMembers []string
	for i := range results {
		if results[i].Failed() {
			failedMembers = append(failedMembers, results[i].Name)
		}
	}
	if len(failedMembers) > 0 {
		groupErr := &GroupError{Group: st.Name, Failed: failedMembers}
		res.State = StageFailed
		res.Reason = groupErr.Error()
		return res
	}

	res.State = StageSucceeded
	return res
}

func (e *Executor) runProbe(ctx context.Context, st *pipeline.Stage, res StageResult) StageResult {
	timeout := st.Probe.Timeout
	if timeout == 0 {
		timeout = e.probeTimeout
	}
	interval := st.Probe.Interval
	if interval == 0 {
		interval = e.probeInterval
	}

	probe := &health.HTTPProbe{URL: st.Probe.URL, Token: st.Probe.Token}
	if err := e.poller.Poll(ctx, probe, timeout, interval); err != nil {
		res.State = StageFailed
		res.Reason = err.Error()
		return res
	}

	res.State = StageSucceeded
	return res
}

func (e *Executor) runCommand(ctx context.Context, st *pipeline.Stage, rc *RunContext, res StageResult) StageResult {
	timeout := st.Timeout
	if timeout == 0 {
		timeout = e.stageTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pres, err := e.runner.Run(ctx, Command{
		Script: st.Command,
		Env:    e.stageEnv(st, rc),
		Dir:    e.workDir,
	})
	if err != nil {
		res.State = StageFailed
		res.Reason = err.Error()
		return res
	}

	res.ExitCode = pres.ExitCode
	res.Stdout = pres.Stdout
	res.Stderr = pres.Stderr
	res.Truncated = pres.Truncated

	if pres.ExitCode != 0 {
		execErr := &StageExecutionError{Stage: st.Name, ExitCode: pres.ExitCode}
		res.State = StageFailed
		res.Reason = execErr.Error()
		return res
	}

	if st.Artifacts != "" && e.artifacts != nil {
		src := st.Artifacts
		if !filepath.IsAbs(src) {
			src = filepath.Join(e.workDir, src)
		}
		dest, err := e.artifacts.Collect(rc.Build, st.Name, src)
		if err != nil {
			res.State = StageFailed
			res.Reason = "collecting artifacts: " + err.Error()
			return res
		}
		res.Artifacts = dest
	}

	res.State = StageSucceeded
	return res
}

// stageEnv merges the run context overlay, the stage's own env, and the
// run identity variables into KEY=VALUE form.
func (e *Executor) stageEnv(st *pipeline.Stage, rc *RunContext) []string {
	merged := rc.Env()
	for k, v := range st.Env {
		merged[k] = v
	}
	merged["CONVEYOR_BRANCH"] = rc.Branch
	merged["CONVEYOR_COMMIT"] = rc.Commit
	merged["CONVEYOR_BUILD_ID"] = rc.Build

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// finish records a terminal state reached before the stage body ran.
func (e *Executor) finish(rc *RunContext, res StageResult, state StageState, reason string) StageResult {
	res.State = state
	res.Reason = reason
	e.listener.StageTransition(rc.Build, res.Name, state)
	return res
}

// dispatchNotification reports the run outcome best-effort. Delivery
// failures are logged and never alter the run's status.
func (e *Executor) dispatchNotification(ctx context.Context, plan *pipeline.Plan, rc *RunContext, res *RunResult) {
	event := notify.Event{
		Outcome:  string(res.Status),
		Pipeline: plan.Name,
		Build:    rc.Build,
		Branch:   rc.Branch,
		Finished: res.Finished,
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn("notification delivery failed",
			slog.String("run_id", rc.Build),
			slog.String("error", err.Error()))
	}
}
