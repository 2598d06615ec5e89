package gate

import (
	"context"
	"fmt"
	"sync"
)

// ApprovalSource resolves manual-approval gates. Await blocks until the gate
// is approved or rejected, or until ctx is done. There is no implicit
// timeout; callers bound the wait through ctx.
type ApprovalSource interface {
	Await(ctx context.Context, runID, stage string) (approved bool, err error)
}

// AutoApprove approves every gate immediately. It is the approval source for
// one-shot CLI runs, where nobody is around to click a button.
type AutoApprove struct{}

func (AutoApprove) Await(ctx context.Context, runID, stage string) (bool, error) {
	return true, nil
}

var _ ApprovalSource = AutoApprove{}

// Registry is an ApprovalSource resolved externally, one decision per
// run/stage pair. The engine parks on Await while the control API calls
// Resolve when an operator decides.
type Registry struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

// NewRegistry creates an empty approval registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]chan bool)}
}

func approvalKey(runID, stage string) string {
	return runID + "/" + stage
}

// Await registers the run/stage pair and blocks until Resolve is called for
// it or ctx is done.
func (r *Registry) Await(ctx context.Context, runID, stage string) (bool, error) {
	key := approvalKey(runID, stage)

	r.mu.Lock()
	if _, exists := r.pending[key]; exists {
		r.mu.Unlock()
		return false, fmt.Errorf("approval for %s already pending", key)
	}
	ch := make(chan bool, 1)
	r.pending[key] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
	}()

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve delivers a decision for a pending gate. It reports whether a waiter
// was found.
func (r *Registry) Resolve(runID, stage string, approved bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.pending[approvalKey(runID, stage)]
	if !ok {
		return false
	}
	ch <- approved
	return true
}

// Pending lists the run/stage pairs currently awaiting a decision.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	return keys
}

var _ ApprovalSource = (*Registry)(nil)
