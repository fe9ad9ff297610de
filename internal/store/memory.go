package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victormasson21/voice-agent/internal/record"
)

// Memory is an in-process Store, used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: map[string][]Entry{}, now: time.Now}
}

func (m *Memory) Append(_ context.Context, userID string, durationSeconds int, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = append(m.entries[userID], Entry{
		ID:              uuid.NewString(),
		UserID:          userID,
		Kind:            rec.Kind(),
		DurationSeconds: durationSeconds,
		Record:          rec,
		CreatedAt:       m.now().UTC(),
	})
	return nil
}

func (m *Memory) ListRecent(_ context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entries[userID]
	out := make([]Entry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
