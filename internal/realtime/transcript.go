package realtime

import (
	"sync"

	"github.com/victormasson21/voice-agent/internal/record"
)

// transcript keeps conversation items in creation order. Transcriptions
// arrive out of order (user audio is transcribed asynchronously), so content
// is filled into the slot reserved when the item was created.
type transcript struct {
	mu    sync.Mutex
	order []string
	items map[string]*record.Turn
}

func newTranscript() *transcript {
	return &transcript{items: map[string]*record.Turn{}}
}

func (t *transcript) reserve(id string, role record.Role) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; ok {
		return
	}
	t.order = append(t.order, id)
	t.items[id] = &record.Turn{Role: role}
}

func (t *transcript) fill(id string, role record.Role, content string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, ok := t.items[id]
	if !ok {
		t.order = append(t.order, id)
		turn = &record.Turn{Role: role}
		t.items[id] = turn
	}
	turn.Content = content
}

// snapshot returns the non-empty turns in order.
func (t *transcript) snapshot() []record.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]record.Turn, 0, len(t.order))
	for _, id := range t.order {
		turn := t.items[id]
		if turn.Content == "" {
			continue
		}
		out = append(out, *turn)
	}
	return out
}
