// Package memory is an in-memory RunStore for tests and one-shot runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conveyorci/conveyor/internal/storage"
)

// Store is an in-memory implementation of storage.RunStore.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*storage.RunRecord
	stages map[string][]storage.StageRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		runs:   make(map[string]*storage.RunRecord),
		stages: make(map[string][]storage.StageRecord),
	}
}

func (s *Store) CreateRun(ctx context.Context, run *storage.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return storage.ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.RunRecord
	for _, run := range s.runs {
		if opts.Pipeline != "" && run.Pipeline != opts.Pipeline {
			continue
		}
		cp := *run
		result = append(result, &cp)
	}

	// Newest first, matching the SQL store's ordering.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *Store) SaveStageResults(ctx context.Context, runID string, stages []storage.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[runID]; !exists {
		return storage.ErrNotFound
	}
	s.stages[runID] = append([]storage.StageRecord(nil), stages...)
	return nil
}

func (s *Store) ListStageResults(ctx context.Context, runID string) ([]storage.StageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.runs[runID]; !exists {
		return nil, storage.ErrNotFound
	}
	return append([]storage.StageRecord(nil), s.stages[runID]...), nil
}

func (s *Store) Close() error { return nil }

var _ storage.RunStore = (*Store)(nil)
