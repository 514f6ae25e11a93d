package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart       EventType = "start"
	EventStop        EventType = "stop"
	EventStartFailed EventType = "start_failed"
)

// Event is one service lifecycle transition observed by the controller.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Session    string    `json:"session"`
	Service    string    `json:"service"`
	PID        int       `json:"pid,omitempty"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader returns the most recent events, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Nop discards every event. It is used when history is disabled.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

func (Nop) Recent(context.Context, int) ([]Event, error) { return nil, nil }

func (Nop) Close() error { return nil }

// DefaultLimit bounds Recent when the caller passes a non-positive limit.
const DefaultLimit = 20

// Limit returns n, or DefaultLimit when n is not positive.
func Limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}
