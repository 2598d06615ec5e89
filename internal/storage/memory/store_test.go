package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conveyorci/conveyor/internal/storage"
)

func TestStoreRunLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	run := &storage.RunRecord{
		ID:       "run-1",
		Pipeline: "web-app",
		Branch:   "main",
		Commit:   "abc123",
		Status:   "pending",
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.CreateRun(ctx, run); err == nil {
		t.Error("CreateRun() accepted a duplicate ID")
	}

	if err := s.UpdateRunStatus(ctx, "run-1", "running"); err != nil {
		t.Fatalf("UpdateRunStatus() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != "running" || got.Pipeline != "web-app" {
		t.Errorf("GetRun() = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt was not stamped")
	}
}

func TestStoreNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateRunStatus(ctx, "nope", "running"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateRunStatus() error = %v, want ErrNotFound", err)
	}
	if err := s.SaveStageResults(ctx, "nope", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SaveStageResults() error = %v, want ErrNotFound", err)
	}
	if _, err := s.ListStageResults(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ListStageResults() error = %v, want ErrNotFound", err)
	}
}

func TestStoreListRuns(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, pipeline := range []string{"web-app", "web-app", "worker"} {
		run := &storage.RunRecord{
			ID:       string(rune('a' + i)),
			Pipeline: pipeline,
			Status:   "succeeded",
		}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		// Distinct creation times so the newest-first order is observable.
		time.Sleep(time.Millisecond)
	}

	all, err := s.ListRuns(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != "c" {
		t.Errorf("first run = %s, want newest (c)", all[0].ID)
	}

	filtered, err := s.ListRuns(ctx, storage.ListOptions{Pipeline: "web-app"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 {
		t.Errorf("filtered len = %d, want 2", len(filtered))
	}

	limited, err := s.ListRuns(ctx, storage.ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}

func TestStoreStageResults(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateRun(ctx, &storage.RunRecord{ID: "run-1", Pipeline: "p"}); err != nil {
		t.Fatal(err)
	}

	rows := []storage.StageRecord{
		{RunID: "run-1", Name: "build", State: "succeeded", Position: 0},
		{RunID: "run-1", Name: "lint", Parent: "checks", State: "failed", ExitCode: 1, Position: 1},
	}
	if err := s.SaveStageResults(ctx, "run-1", rows); err != nil {
		t.Fatalf("SaveStageResults() error = %v", err)
	}

	got, err := s.ListStageResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListStageResults() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Parent != "checks" || got[1].ExitCode != 1 {
		t.Errorf("stage row = %+v", got[1])
	}

	// The stored slice is a copy, not an alias of the caller's.
	rows[0].State = "mutated"
	got, _ = s.ListStageResults(ctx, "run-1")
	if got[0].State != "succeeded" {
		t.Error("stored rows alias the caller's slice")
	}
}
