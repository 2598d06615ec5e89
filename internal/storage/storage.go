// Package storage persists pipeline runs and their per-stage breakdowns.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunRecord is the persisted metadata for one pipeline invocation.
type RunRecord struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	Branch    string    `json:"branch"`
	Commit    string    `json:"commit"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageRecord is the persisted terminal result of one stage. Group members
// are stored as their own rows with Parent set to the group stage.
type StageRecord struct {
	RunID     string        `json:"run_id"`
	Name      string        `json:"name"`
	Parent    string        `json:"parent,omitempty"`
	State     string        `json:"state"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Artifacts string        `json:"artifacts,omitempty"`
	Duration  time.Duration `json:"duration"`
	Position  int           `json:"position"`
}

// ListOptions bounds run listings.
type ListOptions struct {
	Pipeline string
	Limit    int
}

// RunStore records runs and stage results.
type RunStore interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRunStatus(ctx context.Context, id, status string) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]*RunRecord, error)

	SaveStageResults(ctx context.Context, runID string, stages []StageRecord) error
	ListStageResults(ctx context.Context, runID string) ([]StageRecord, error)

	Close() error
}
