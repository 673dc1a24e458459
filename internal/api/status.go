package api

import (
	"context"
	"sync"

	"github.com/MikeSquared-Agency/archivist/internal/backup"
)

// StatusTracker remembers the progress of the current run and the outcome
// of the last finished one.
type StatusTracker struct {
	mu      sync.Mutex
	current *backup.Event
	last    *backup.Event
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{}
}

func (t *StatusTracker) Report(_ context.Context, ev backup.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case backup.EventCompleted, backup.EventFailed:
		t.current = nil
		t.last = &ev
	default:
		t.current = &ev
	}
}

// Status is the JSON body of GET /api/v1/backups/status.
type Status struct {
	Running bool          `json:"running"`
	Current *backup.Event `json:"current,omitempty"`
	Last    *backup.Event `json:"last,omitempty"`
}

func (t *StatusTracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Running: t.current != nil,
		Current: t.current,
		Last:    t.last,
	}
}
