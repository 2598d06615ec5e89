package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStageExecution is the sentinel a stage command failure unwraps to.
var ErrStageExecution = errors.New("stage execution failed")

// ErrGroupFailure is the sentinel a parallel group failure unwraps to.
var ErrGroupFailure = errors.New("parallel group failed")

// StageExecutionError reports a stage whose command exited non-zero. The
// exit code is the process's, propagated verbatim.
type StageExecutionError struct {
	Stage    string
	ExitCode int
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("%s: stage %q exited with code %d", ErrStageExecution.Error(), e.Stage, e.ExitCode)
}

func (e *StageExecutionError) Unwrap() error { return ErrStageExecution }

// GroupError reports a parallel group in which at least one member failed.
// It is raised only after every member has joined.
type GroupError struct {
	Group  string
	Failed []string
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%s: group %q: failed members: %s",
		ErrGroupFailure.Error(), e.Group, strings.Join(e.Failed, ", "))
}

func (e *GroupError) Unwrap() error { return ErrGroupFailure }
