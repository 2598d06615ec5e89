// Package health polls a readiness probe until it succeeds or a deadline
// expires. The deadline is mandatory; the poller never retries forever.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrProbeTimeout is the sentinel a poll deadline failure unwraps to.
var ErrProbeTimeout = errors.New("probe timed out")

// TimeoutError reports that no successful probe was observed before the
// deadline. Attempts counts how many probes were made.
type TimeoutError struct {
	Timeout  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s after %s (%d attempts)", ErrProbeTimeout.Error(), e.Timeout, e.Attempts)
}

func (e *TimeoutError) Unwrap() error { return ErrProbeTimeout }

// IsTimeout reports whether err is a poll deadline failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrProbeTimeout)
}

// Probe is a single synchronous readiness check. A false result and a non-nil
// error are both treated as transient non-success; the poller retries either
// until its deadline.
type Probe interface {
	Check(ctx context.Context) (ok bool, err error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (bool, error)

func (f ProbeFunc) Check(ctx context.Context) (bool, error) { return f(ctx) }

// Poller repeatedly invokes a probe at a fixed interval within a bounded
// timeout, short-circuiting on the first success.
type Poller struct {
	logger *slog.Logger
}

// NewPoller creates a poller. A nil logger disables logging.
func NewPoller(logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{logger: logger}
}

// Poll probes immediately, then every interval, until the probe succeeds or
// timeout elapses. Probe errors are logged and retried, never fatal. A zero
// or negative timeout fails immediately without attempting a probe. Returns
// nil on success and a *TimeoutError when the deadline is exhausted.
func (p *Poller) Poll(ctx context.Context, probe Probe, timeout, interval time.Duration) error {
	if timeout <= 0 {
		return &TimeoutError{Timeout: timeout}
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	attempts := 0
	for {
		attempts++
		ok, err := probe.Check(ctx)
		if ok && err == nil {
			return nil
		}
		if err != nil {
			p.logger.Debug("probe attempt failed",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
		}

		tick := time.NewTimer(interval)
		select {
		case <-deadline.C:
			tick.Stop()
			return &TimeoutError{Timeout: timeout, Attempts: attempts}
		case <-ctx.Done():
			tick.Stop()
			return &TimeoutError{Timeout: timeout, Attempts: attempts}
		case <-tick.C:
		}
	}
}

// HTTPProbe fetches a URL and succeeds when the response body contains
// Token. Any transport error, non-2xx status, or missing token is a
// non-success.
type HTTPProbe struct {
	URL    string
	Token  string
	Client *http.Client
}

// Check performs one HTTP probe.
func (p *HTTPProbe) Check(ctx context.Context) (bool, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, fmt.Errorf("creating probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return false, fmt.Errorf("reading probe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	token := p.Token
	if token == "" {
		token = "ok"
	}
	return strings.Contains(string(body), token), nil
}

var _ Probe = (*HTTPProbe)(nil)
