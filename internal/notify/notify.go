// Package notify publishes job status transitions to external subscribers.
package notify

import (
	"context"
	"time"

	"github.com/seantiz/cairoprove/internal/model"
)

// Event describes one job status transition.
type Event struct {
	JobID   uint64       `json:"job_id"`
	Status  model.Status `json:"status"`
	Message string       `json:"message,omitempty"`
	At      time.Time    `json:"at"`
}

// Publisher delivers events. Delivery is best effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	// Ping checks that the backing transport is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error { return nil }
