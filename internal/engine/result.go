package engine

import "time"

// StageState is the lifecycle state of a stage within one run.
//
// Transitions: Pending -> AwaitingApproval -> Running -> Succeeded | Failed,
// with Skipped reachable from Pending (gate held, earlier failure) and from
// AwaitingApproval (approval rejected).
type StageState string

const (
	StagePending          StageState = "pending"
	StageAwaitingApproval StageState = "awaiting_approval"
	StageRunning          StageState = "running"
	StageSucceeded        StageState = "succeeded"
	StageFailed           StageState = "failed"
	StageSkipped          StageState = "skipped"
)

// Terminal reports whether the state is final.
func (s StageState) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped:
		return true
	}
	return false
}

// RunStatus is the single terminal status of a pipeline run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StageResult is the immutable record of one stage once it reaches a
// terminal state.
type StageResult struct {
	Name      string        `json:"name"`
	State     StageState    `json:"state"`
	ExitCode  int           `json:"exit_code"`
	Stdout    []byte        `json:"stdout,omitempty"`
	Stderr    []byte        `json:"stderr,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration"`
	Artifacts string        `json:"artifacts,omitempty"`

	// Children holds per-member results for parallel groups. A group's own
	// state is the failure-dominant combination of its members.
	Children []StageResult `json:"children,omitempty"`
}

// Failed reports whether the stage ended in failure.
func (r *StageResult) Failed() bool { return r.State == StageFailed }

// RunResult is the outcome of one pipeline invocation: a single terminal
// status plus the per-stage breakdown, including post-run hooks.
type RunResult struct {
	ID       string        `json:"id"`
	Pipeline string        `json:"pipeline"`
	Status   RunStatus     `json:"status"`
	Stages   []StageResult `json:"stages"`
	Hooks    []StageResult `json:"hooks,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
}

// Stage returns the result for a named stage, searching group members too.
func (r *RunResult) Stage(name string) *StageResult {
	if res := findStage(r.Stages, name); res != nil {
		return res
	}
	return findStage(r.Hooks, name)
}

func findStage(results []StageResult, name string) *StageResult {
	for i := range results {
		if results[i].Name == name {
			return &results[i]
		}
		if res := findStage(results[i].Children, name); res != nil {
			return res
		}
	}
	return nil
}
