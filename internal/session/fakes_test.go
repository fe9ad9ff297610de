package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victormasson21/voice-agent/internal/realtime"
	"github.com/victormasson21/voice-agent/internal/record"
)

var errBoom = errors.New("boom")

type fakeModel struct {
	mu         sync.Mutex
	startErr   error
	startGate  chan struct{}
	replyErr   func(call int) error
	replyDelay time.Duration
	replies    []string
	replyAt    []time.Time
	closeErr   error
	history    []record.Turn
	onClose    []func()
	cfg        realtime.SessionConfig
	closeCalls int
}

func (m *fakeModel) Start(ctx context.Context, cfg realtime.SessionConfig) error {
	if m.startGate != nil {
		select {
		case <-m.startGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return m.startErr
}

func (m *fakeModel) GenerateReply(ctx context.Context, instructions string) error {
	m.mu.Lock()
	m.replies = append(m.replies, instructions)
	m.replyAt = append(m.replyAt, time.Now())
	call := len(m.replies)
	fn := m.replyErr
	delay := m.replyDelay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fn != nil {
		return fn(call)
	}
	return nil
}

func (m *fakeModel) History() []record.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Turn(nil), m.history...)
}

func (m *fakeModel) OnClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	m.closeCalls++
	first := m.closeCalls == 1
	fns := append([]func(){}, m.onClose...)
	m.mu.Unlock()
	if first {
		for _, fn := range fns {
			fn()
		}
	}
	return m.closeErr
}

// dropTransport fires the close callbacks as if the remote side hung up.
func (m *fakeModel) dropTransport() {
	m.mu.Lock()
	fns := append([]func(){}, m.onClose...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *fakeModel) tool(name string) (realtime.Tool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.cfg.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return realtime.Tool{}, false
}

func (m *fakeModel) replyLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.replies...)
}

func (m *fakeModel) replyTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.replyAt...)
}

func (m *fakeModel) closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

type fakeSummarizer struct {
	calls  atomic.Int32
	fail   int32 // number of leading calls that fail
	panics bool
	rec    record.Record
	aux    atomic.Value
}

func (s *fakeSummarizer) Summarize(_ context.Context, turns []record.Turn, aux string) (record.Record, error) {
	n := s.calls.Add(1)
	s.aux.Store(aux)
	if s.panics {
		panic("summarizer exploded")
	}
	if n <= s.fail {
		return nil, errBoom
	}
	return s.rec, nil
}

func (s *fakeSummarizer) Fallback() record.Record { return record.JournalFallback() }

type savedRecord struct {
	userID  string
	seconds int
	rec     record.Record
}

type fakeStore struct {
	mu    sync.Mutex
	err   error
	saved []savedRecord
}

func (s *fakeStore) Append(_ context.Context, userID string, seconds int, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, savedRecord{userID: userID, seconds: seconds, rec: rec})
	return nil
}

func (s *fakeStore) records() []savedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedRecord(nil), s.saved...)
}

type published struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []published
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload)})
	return p.err
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeSignals struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
}

func (s *fakeSignals) OnData(topic string, fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[string][]func([]byte){}
	}
	s.handlers[topic] = append(s.handlers[topic], fn)
}

func (s *fakeSignals) emit(topic string, payload []byte) {
	s.mu.Lock()
	fns := append([]func([]byte){}, s.handlers[topic]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

type harness struct {
	model    *fakeModel
	summ     *fakeSummarizer
	store    *fakeStore
	pub      *fakePublisher
	signals  *fakeSignals
	releases atomic.Int32
}

var sampleTurns = []record.Turn{
	{Role: record.RoleAssistant, Content: "How was today?"},
	{Role: record.RoleUser, Content: "Busy, but I went for a run."},
}

var sampleJournal = record.Journal{
	Mood:      "energised",
	Tone:      "upbeat",
	Topics:    []string{"exercise"},
	Decisions: []string{"run again tomorrow"},
}

func newHarness() *harness {
	return &harness{
		model:   &fakeModel{history: append([]record.Turn(nil), sampleTurns...)},
		summ:    &fakeSummarizer{rec: sampleJournal},
		store:   &fakeStore{},
		pub:     &fakePublisher{},
		signals: &fakeSignals{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Model:      h.model,
		Summarizer: h.summ,
		Store:      h.store,
		Publisher:  h.pub,
		Signals:    h.signals,
		Release:    func() { h.releases.Add(1) },
	}
}

func testConfig() Config {
	return Config{
		SessionID:       "s-1",
		UserID:          "u-1",
		Flow:            "journal",
		Agent:           realtime.SessionConfig{Instructions: "be kind"},
		EndCallTool:     true,
		Opening:         "say hello",
		WrapUp:          "wrap up",
		GreetingBackoff: time.Millisecond,
		SummaryBackoff:  time.Millisecond,
		ResultTopic:     TopicRecord,
	}
}
