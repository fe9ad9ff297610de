package store

import (
	"context"
	"time"

	"github.com/victormasson21/voice-agent/internal/record"
)

// DefaultRecentLimit is how many records ListRecent returns when limit <= 0.
const DefaultRecentLimit = 5

// Entry is one persisted session record.
type Entry struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Kind            string        `json:"kind"`
	DurationSeconds int           `json:"duration_seconds"`
	Record          record.Record `json:"record"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Store persists session records keyed by user.
type Store interface {
	Append(ctx context.Context, userID string, durationSeconds int, rec record.Record) error
	ListRecent(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// Journals returns the journal records among entries, preserving order.
func Journals(entries []Entry) []record.Journal {
	out := make([]record.Journal, 0, len(entries))
	for _, e := range entries {
		if j, ok := e.Record.(record.Journal); ok {
			out = append(out, j)
		}
	}
	return out
}
