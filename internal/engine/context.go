package engine

import (
	"github.com/conveyorci/conveyor/internal/gate"
)

// RunContext is the per-invocation state a pipeline runs against: the branch
// and commit being built, the build identifier, and accumulated environment
// overrides.
//
// Only the executor mutates a RunContext, and only at stage boundaries,
// never while a parallel group is in flight. Group members receive a frozen
// Snapshot and cannot write back.
type RunContext struct {
	Branch string
	Commit string
	Build  string

	env map[string]string
}

// NewRunContext creates a run context with an empty environment overlay.
func NewRunContext(branch, commit, build string) *RunContext {
	return &RunContext{
		Branch: branch,
		Commit: commit,
		Build:  build,
		env:    make(map[string]string),
	}
}

// SetEnv records an environment override. Called by the executor at stage
// boundaries only.
func (rc *RunContext) SetEnv(key, value string) {
	if rc.env == nil {
		rc.env = make(map[string]string)
	}
	rc.env[key] = value
}

// Env returns a copy of the accumulated environment overrides.
func (rc *RunContext) Env() map[string]string {
	cp := make(map[string]string, len(rc.env))
	for k, v := range rc.env {
		cp[k] = v
	}
	return cp
}

// Snapshot returns a frozen copy for concurrent readers. Mutating the
// snapshot never affects the original.
func (rc *RunContext) Snapshot() *RunContext {
	return &RunContext{
		Branch: rc.Branch,
		Commit: rc.Commit,
		Build:  rc.Build,
		env:    rc.Env(),
	}
}

// gateContext adapts the run context for predicate evaluation.
func (rc *RunContext) gateContext() gate.Context {
	return gate.Context{
		Branch: rc.Branch,
		Commit: rc.Commit,
		Build:  rc.Build,
		Env:    rc.Env(),
	}
}
