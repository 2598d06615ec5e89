package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// DefaultOutputCap bounds captured output per stream when no cap is
// configured. Output past the cap is dropped, not an error; the result is
// flagged truncated.
const DefaultOutputCap = 1 << 20 // 1 MiB

// Command is one external process invocation on behalf of a stage.
type Command struct {
	Script string
	Env    []string // appended to the parent environment
	Dir    string
}

// ProcessResult is the captured outcome of a spawned process.
type ProcessResult struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Truncated bool
}

// ProcessRunner spawns external processes for stages. It is a capability
// interface so the engine is testable without a shell: a non-nil error means
// the process could not be run at all; a non-zero exit code is a normal
// result, not an error.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (*ProcessResult, error)
}

// ShellRunner runs commands through `sh -c`, capturing stdout and stderr up
// to a byte cap per stream.
type ShellRunner struct {
	// MaxOutputBytes caps each captured stream. Zero means DefaultOutputCap.
	MaxOutputBytes int
}

// Run spawns the command and waits for it, returning the verbatim exit code.
func (r *ShellRunner) Run(ctx context.Context, cmd Command) (*ProcessResult, error) {
	limit := r.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultOutputCap
	}

	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)

	proc := exec.CommandContext(ctx, "sh", "-c", cmd.Script)
	proc.Dir = cmd.Dir
	proc.Stdout = stdout
	proc.Stderr = stderr
	proc.Env = append(os.Environ(), cmd.Env...)

	err := proc.Run()
	res := &ProcessResult{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("spawning %q: %w", cmd.Script, err)
	}

	return res, nil
}

var _ ProcessRunner = (*ShellRunner)(nil)

// cappedBuffer keeps the first limit bytes written and counts the rest as
// truncation. Writes never fail, so a chatty process is not killed by its
// own logging.
type cappedBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining := b.limit - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
