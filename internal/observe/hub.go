package observe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrFeedClosed indicates the session feed has ended.
var ErrFeedClosed = errors.New("observe: feed closed")

// subBuffer is how many envelopes a slow observer may lag before drops.
const subBuffer = 16

// Envelope is the frame exchanged with observers in both directions.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub holds one feed per live session.
type Hub struct {
	log   *slog.Logger
	mu    sync.Mutex
	feeds map[string]*Feed
}

// NewHub returns an empty hub. A nil log uses the default logger.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log.With("component", "observe"), feeds: map[string]*Feed{}}
}

// Open creates the feed for sessionID, or returns the existing one.
func (h *Hub) Open(sessionID string) *Feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[sessionID]; ok {
		return f
	}
	f := &Feed{
		id:       sessionID,
		log:      h.log.With("session_id", sessionID),
		subs:     map[chan []byte]struct{}{},
		handlers: map[string][]func([]byte){},
		last:     map[string][]byte{},
	}
	h.feeds[sessionID] = f
	return f
}

// Lookup returns the feed for sessionID if it is live.
func (h *Hub) Lookup(sessionID string) (*Feed, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[sessionID]
	return f, ok
}

// Close ends the feed for sessionID and disconnects its observers.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	f, ok := h.feeds[sessionID]
	delete(h.feeds, sessionID)
	h.mu.Unlock()
	if ok {
		f.close()
	}
}

// Feed fans one session's side-channel traffic out to observers and routes
// observer messages back to the session's topic handlers.
type Feed struct {
	id  string
	log *slog.Logger

	mu       sync.Mutex
	subs     map[chan []byte]struct{}
	handlers map[string][]func([]byte)
	last     map[string][]byte
	closed   bool
}

// Publish broadcasts payload under topic. Slow observers miss frames rather
// than block the session.
func (f *Feed) Publish(_ context.Context, topic string, payload []byte) error {
	frame, err := json.Marshal(Envelope{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	f.last[topic] = frame
	for ch := range f.subs {
		select {
		case ch <- frame:
		default:
			f.log.Debug("observer lagging, frame dropped", "topic", topic)
		}
	}
	return nil
}

// OnData registers fn for observer messages on topic.
func (f *Feed) OnData(topic string, fn func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = append(f.handlers[topic], fn)
}

// Deliver hands an observer message to the handlers registered for its topic.
func (f *Feed) Deliver(env Envelope) {
	f.mu.Lock()
	fns := append([]func([]byte){}, f.handlers[env.Topic]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(env.Payload)
	}
}

// subscribe returns a channel primed with the latest frame of each topic.
func (f *Feed) subscribe() (chan []byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	ch := make(chan []byte, subBuffer)
	topics := make([]string, 0, len(f.last))
	for t := range f.last {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		select {
		case ch <- f.last[t]:
		default:
		}
	}
	f.subs[ch] = struct{}{}
	return ch, true
}

func (f *Feed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
	}
	f.subs = map[chan []byte]struct{}{}
}
