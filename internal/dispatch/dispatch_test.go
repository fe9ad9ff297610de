package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victormasson21/voice-agent/internal/observe"
	"github.com/victormasson21/voice-agent/internal/persona"
	"github.com/victormasson21/voice-agent/internal/realtime"
	"github.com/victormasson21/voice-agent/internal/record"
	"github.com/victormasson21/voice-agent/internal/session"
	"github.com/victormasson21/voice-agent/internal/store"
	"github.com/victormasson21/voice-agent/internal/summary"
)

type stubModel struct {
	mu      sync.Mutex
	cfg     realtime.SessionConfig
	onClose []func()
	closed  bool
}

func (m *stubModel) Start(_ context.Context, cfg realtime.SessionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return nil
}

func (m *stubModel) GenerateReply(context.Context, string) error { return nil }

func (m *stubModel) History() []record.Turn {
	return []record.Turn{
		{Role: record.RoleAssistant, Content: "Hello there."},
		{Role: record.RoleUser, Content: "Hi, I had a good day."},
	}
}

func (m *stubModel) OnClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

func (m *stubModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *stubModel) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *stubModel) config() realtime.SessionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

type stubSummarizer struct {
	mu  sync.Mutex
	rec record.Record
	aux []string
}

func (s *stubSummarizer) Summarize(_ context.Context, _ []record.Turn, aux string) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aux = append(s.aux, aux)
	return s.rec, nil
}

func (s *stubSummarizer) Fallback() record.Record { return s.rec }

func (s *stubSummarizer) auxSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.aux...)
}

type stubRoom struct {
	mu           sync.Mutex
	topics       []string
	handlers     map[string][]func([]byte)
	onDisconnect []func()
	closes       int
}

func (r *stubRoom) Publish(_ context.Context, topic string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func (r *stubRoom) OnData(topic string, fn func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[string][]func([]byte){}
	}
	r.handlers[topic] = append(r.handlers[topic], fn)
}

func (r *stubRoom) OnDisconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

func (r *stubRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *stubRoom) disconnect() {
	r.mu.Lock()
	fns := append([]func(){}, r.onDisconnect...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (r *stubRoom) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func (r *stubRoom) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

type fixture struct {
	d       *Dispatcher
	store   *store.Memory
	hub     *observe.Hub
	journal *stubSummarizer
	trainer *stubSummarizer

	mu     sync.Mutex
	models []*stubModel
	rooms  []*stubRoom
}

func newFixture(t *testing.T, cfg Config, withCatalog bool) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(),
		hub:     observe.NewHub(slog.Default()),
		journal: &stubSummarizer{rec: record.Journal{Mood: "calm", Tone: "even", Topics: []string{"work"}, Decisions: []string{}}},
		trainer: &stubSummarizer{rec: record.ScorecardFallback()},
	}
	deps := Deps{
		NewModel: func(*slog.Logger) (session.Model, error) {
			m := &stubModel{}
			f.mu.Lock()
			f.models = append(f.models, m)
			f.mu.Unlock()
			return m, nil
		},
		JoinRoom: func(string, *slog.Logger) (Room, error) {
			r := &stubRoom{}
			f.mu.Lock()
			f.rooms = append(f.rooms, r)
			f.mu.Unlock()
			return r, nil
		},
		Hub:   f.hub,
		Store: f.store,
		Summarizers: summary.NewRouter(map[string]summary.Summarizer{
			FlowJournal: f.journal,
			FlowTrainer: f.trainer,
		}),
	}
	if withCatalog {
		cat, err := persona.Load("../../context")
		require.NoError(t, err)
		deps.Catalog = cat
	}
	f.d = New(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		f.d.Shutdown(ctx)
	})
	return f
}

func (f *fixture) model(i int) *stubModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models[i]
}

func (f *fixture) room(i int) *stubRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[i]
}

func fastConfig() Config {
	return Config{
		GreetingBackoff: time.Millisecond,
		SummaryBackoff:  time.Millisecond,
	}
}

func waitActive(t *testing.T, d *Dispatcher, id string) *session.Controller {
	t.Helper()
	var ctrl *session.Controller
	require.Eventually(t, func() bool {
		c, ok := d.Lookup(id)
		if !ok || c.State() != session.Active {
			return false
		}
		ctrl = c
		return true
	}, 2*time.Second, time.Millisecond)
	return ctrl
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	require.Eventually(t, func() bool { return d.Active() == 0 }, 3*time.Second, time.Millisecond)
}

func TestDispatchJournalRunsToRecord(t *testing.T) {
	f := newFixture(t, fastConfig(), false)

	id, err := f.d.Dispatch(context.Background(), Request{UserID: "u-1", Room: "room-a"})
	require.NoError(t, err)
	ctrl := waitActive(t, f.d, id)

	cfg := f.model(0).config()
	assert.Contains(t, cfg.Instructions, "journaling companion")
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "end_call", cfg.Tools[0].Name)

	_, ok := f.hub.Lookup(id)
	assert.True(t, ok)

	require.NoError(t, f.d.End(id))
	<-ctrl.Done()
	waitIdle(t, f.d)

	assert.Equal(t, session.ReasonSignal, ctrl.Reason())
	entries, err := f.store.ListRecent(context.Background(), "u-1", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, record.KindJournal, entries[0].Kind)

	_, ok = f.hub.Lookup(id)
	assert.False(t, ok, "feed closed on release")
	assert.Equal(t, 1, f.room(0).closeCount())
	assert.Contains(t, f.room(0).published(), session.TopicRecord)
}

func TestDispatchJournalUsesRecentSessions(t *testing.T) {
	f := newFixture(t, fastConfig(), false)
	require.NoError(t, f.store.Append(context.Background(), "u-1", 60, record.Journal{Mood: "tired", Tone: "flat"}))

	id, err := f.d.Dispatch(context.Background(), Request{UserID: "u-1", Flow: FlowJournal})
	require.NoError(t, err)
	waitActive(t, f.d, id)

	cfg := f.model(0).config()
	assert.Contains(t, cfg.Instructions, "PREVIOUS SESSIONS")
	assert.Contains(t, cfg.Instructions, "tired")
}

func TestDispatchJournalWithNotes(t *testing.T) {
	cfg := fastConfig()
	cfg.Notes = true
	f := newFixture(t, cfg, false)

	id, err := f.d.Dispatch(context.Background(), Request{UserID: "u-1"})
	require.NoError(t, err)
	waitActive(t, f.d, id)

	var names []string
	for _, tool := range f.model(0).config().Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"save_note", "get_notes", "end_call"}, names)
}

func TestDispatchTrainerUsesScenario(t *testing.T) {
	f := newFixture(t, fastConfig(), true)
	recipient := 0

	id, err := f.d.Dispatch(context.Background(), Request{
		UserID:         "trainee-1",
		Flow:           FlowTrainer,
		PersonaID:      "worried-daughter",
		RecipientIndex: &recipient,
	})
	require.NoError(t, err)
	ctrl := waitActive(t, f.d, id)

	assert.Contains(t, f.model(0).config().Instructions, "Sarah Mitchell")

	require.NoError(t, f.d.End(id))
	<-ctrl.Done()

	aux := f.trainer.auxSeen()
	require.Len(t, aux, 1)
	assert.NotEmpty(t, aux[0])
	assert.Empty(t, f.journal.auxSeen())

	entries, err := f.d.Recent(context.Background(), "trainee-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, record.KindScorecard, entries[0].Kind)
}

func TestDispatchRejectsBadRequests(t *testing.T) {
	f := newFixture(t, fastConfig(), false)

	_, err := f.d.Dispatch(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMissingUser)

	_, err = f.d.Dispatch(context.Background(), Request{UserID: "u", Flow: "karaoke"})
	assert.ErrorIs(t, err, ErrUnknownFlow)

	_, err = f.d.Dispatch(context.Background(), Request{UserID: "u", Flow: FlowTrainer})
	assert.ErrorIs(t, err, ErrUnknownFlow, "trainer needs a catalog")

	assert.ErrorIs(t, f.d.End("missing"), ErrUnknownSession)
}

func TestDispatchUnknownPersonaFreesSlot(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrent = 1
	f := newFixture(t, cfg, true)

	_, err := f.d.Dispatch(context.Background(), Request{UserID: "u", Flow: FlowTrainer, PersonaID: "nobody"})
	require.Error(t, err)

	_, err = f.d.Dispatch(context.Background(), Request{UserID: "u"})
	assert.NoError(t, err)
}

func TestDispatchAdmissionControl(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrent = 1
	f := newFixture(t, cfg, false)

	id, err := f.d.Dispatch(context.Background(), Request{UserID: "u-1"})
	require.NoError(t, err)
	ctrl := waitActive(t, f.d, id)

	_, err = f.d.Dispatch(context.Background(), Request{UserID: "u-2"})
	assert.ErrorIs(t, err, ErrAtCapacity)

	require.NoError(t, f.d.End(id))
	<-ctrl.Done()
	waitIdle(t, f.d)

	_, err = f.d.Dispatch(context.Background(), Request{UserID: "u-2"})
	assert.NoError(t, err)
}

func TestDispatchJoinFailureFreesSlot(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrent = 1
	f := newFixture(t, cfg, false)
	f.d.deps.JoinRoom = func(string, *slog.Logger) (Room, error) { return nil, errors.New("no route") }

	_, err := f.d.Dispatch(context.Background(), Request{UserID: "u", Room: "r"})
	require.Error(t, err)
	assert.Equal(t, 0, f.d.Active())
	assert.True(t, f.model(0).isClosed())

	_, err = f.d.Dispatch(context.Background(), Request{UserID: "u"})
	assert.NoError(t, err)
}

func TestRoomDisconnectClosesSession(t *testing.T) {
	f := newFixture(t, fastConfig(), false)

	id, err := f.d.Dispatch(context.Background(), Request{UserID: "u-1", Room: "room-a"})
	require.NoError(t, err)
	ctrl := waitActive(t, f.d, id)

	f.room(0).disconnect()
	<-ctrl.Done()
	assert.Equal(t, session.ReasonTransport, ctrl.Reason())
}

func TestObserverEndCallSignal(t *testing.T) {
	f := newFixture(t, fastConfig(), false)

	id, err := f.d.Dispatch(context.Background(), Request{UserID: "u-1"})
	require.NoError(t, err)
	ctrl := waitActive(t, f.d, id)

	feed, ok := f.hub.Lookup(id)
	require.True(t, ok)
	feed.Deliver(observe.Envelope{Topic: session.TopicEndCall})

	<-ctrl.Done()
	assert.Equal(t, session.ReasonSignal, ctrl.Reason())
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	f := newFixture(t, fastConfig(), false)

	var ctrls []*session.Controller
	for _, user := range []string{"a", "b", "c"} {
		id, err := f.d.Dispatch(context.Background(), Request{UserID: user})
		require.NoError(t, err)
		ctrls = append(ctrls, waitActive(t, f.d, id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.d.Shutdown(ctx))

	for _, c := range ctrls {
		assert.Equal(t, session.Terminated, c.State())
		assert.Equal(t, session.ReasonShutdown, c.Reason())
	}
	assert.Equal(t, 0, f.d.Active())

	_, err := f.d.Dispatch(context.Background(), Request{UserID: "late"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}
