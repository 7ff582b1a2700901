package history

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of sweep event.
type EventType string

const (
	EventSweep    EventType = "sweep"
	EventResource EventType = "resource"
)

// Resource outcomes. A pruned resource is not counted as kept or failed.
const (
	OutcomeKept    = "kept"
	OutcomeFailed  = "failed"
	OutcomePruned  = "pruned"
	OutcomeSkipped = "skipped"
)

// Sweep outcomes.
const (
	SweepCompleted   = "completed"
	SweepInterrupted = "interrupted"
)

// Event is one row of sweep history exported to external systems. Sweep
// events carry the tallies; resource events carry the per-resource result.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	SweepID    string    `json:"sweep_id"`
	ResourceID string    `json:"resource_id,omitempty"`
	Outcome    string    `json:"outcome"`
	State      string    `json:"state,omitempty"`
	Started    bool      `json:"started,omitempty"`
	Error      string    `json:"error,omitempty"`
	Kept       int       `json:"kept,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Pruned     int       `json:"pruned,omitempty"`
	Total      int       `json:"total,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Emit sends e to every sink. Sink failures are logged and never returned.
func Emit(ctx context.Context, logger *slog.Logger, sinks []Sink, e Event) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			logger.Warn("History sink failed", "type", e.Type, "sweep_id", e.SweepID, "error", err)
		}
	}
}

// CloseAll closes every sink that holds resources.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
