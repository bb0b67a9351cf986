// Package journal records an append-only audit trail of bot activity:
// orders placed, positions opened and closed, risk halts, and errors.
package journal

import (
	"context"
	"time"
)

// Event types written by the engine.
const (
	TypeOrder     = "order"
	TypePosition  = "position"
	TypeSignal    = "signal"
	TypeRisk      = "risk"
	TypeReconcile = "reconcile"
	TypeError     = "error"
)

// Event is a single journal entry.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// Writer is the write half of the journal, all most callers need.
type Writer interface {
	LogEvent(ctx context.Context, e Event) error
}

// Journaler persists and queries events.
type Journaler interface {
	Writer
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}

// Log stamps and writes one event.
func Log(ctx context.Context, j Writer, eventType, description string, data map[string]any) error {
	return j.LogEvent(ctx, Event{
		Time:        time.Now().UTC(),
		Type:        eventType,
		Description: description,
		Data:        data,
	})
}
