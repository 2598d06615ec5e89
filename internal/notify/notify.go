// Package notify dispatches run-outcome events to an external channel.
//
// Delivery is best-effort: a failed notification surfaces as a DeliveryError
// for logging but never changes the outcome of the run it describes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event is the structured payload delivered to a channel when a run
// finishes.
type Event struct {
	Outcome  string    `json:"outcome"`
	Pipeline string    `json:"pipeline"`
	Build    string    `json:"build"`
	Branch   string    `json:"branch,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Finished time.Time `json:"finished"`
}

// Notifier delivers events. Implementations must return a *DeliveryError for
// transport failures so callers can recognize them as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// ErrDelivery is the sentinel notification transport failures unwrap to.
var ErrDelivery = errors.New("notification delivery failed")

// DeliveryError wraps a transport failure for a specific channel.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: channel %q: %v", ErrDelivery.Error(), e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return ErrDelivery }

// IsDelivery reports whether err is a notification transport failure.
func IsDelivery(err error) bool {
	return errors.Is(err, ErrDelivery)
}

// Discard is a Notifier that drops every event. It is the default when no
// channel is configured.
type Discard struct{}

func (Discard) Notify(ctx context.Context, event Event) error { return nil }

var _ Notifier = Discard{}
