// Package dispatch admits session requests, wires each session's
// collaborators and tracks live sessions until they finish.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/victormasson21/voice-agent/internal/metrics"
	"github.com/victormasson21/voice-agent/internal/observe"
	"github.com/victormasson21/voice-agent/internal/persona"
	"github.com/victormasson21/voice-agent/internal/prompts"
	"github.com/victormasson21/voice-agent/internal/realtime"
	"github.com/victormasson21/voice-agent/internal/session"
	"github.com/victormasson21/voice-agent/internal/store"
	"github.com/victormasson21/voice-agent/internal/summary"
)

const (
	FlowJournal = "journal"
	FlowTrainer = "trainer"

	defaultMaxConcurrent = 50
)

var (
	ErrAtCapacity     = errors.New("dispatch: at capacity")
	ErrShuttingDown   = errors.New("dispatch: shutting down")
	ErrUnknownFlow    = errors.New("dispatch: unknown flow")
	ErrUnknownSession = errors.New("dispatch: unknown session")
	ErrMissingUser    = errors.New("dispatch: user_id is required")
)

// Request asks for a new session in a room.
type Request struct {
	UserID         string `json:"user_id"`
	Room           string `json:"room"`
	Flow           string `json:"flow"`
	PersonaID      string `json:"persona_id,omitempty"`
	RecipientIndex *int   `json:"recipient_index,omitempty"`
}

// Room is the client side channel a session publishes to and listens on.
type Room interface {
	session.Publisher
	session.Signals
	OnDisconnect(fn func())
	Close() error
}

// ModelFactory returns a fresh realtime conversation for one session.
type ModelFactory func(log *slog.Logger) (session.Model, error)

// RoomJoiner connects the agent to a named room.
type RoomJoiner func(name string, log *slog.Logger) (Room, error)

// Config holds the per-session tunables applied to every dispatch.
type Config struct {
	MaxConcurrent      int
	MaxDuration        time.Duration
	WrapUpGrace        time.Duration
	GreetingAttempts   int
	GreetingBackoff    time.Duration
	SummaryAttempts    int
	SummaryBackoff     time.Duration
	PostProcessTimeout time.Duration
	RecentLimit        int
	Notes              bool
	Voice              string
}

// Deps are shared by every session. JoinRoom, Hub and Catalog are optional;
// without a catalog the trainer flow is unavailable.
type Deps struct {
	NewModel    ModelFactory
	JoinRoom    RoomJoiner
	Hub         *observe.Hub
	Store       store.Store
	Summarizers *summary.Router[summary.Summarizer]
	Catalog     *persona.Catalog
	Logger      *slog.Logger
}

// Dispatcher starts sessions and keeps track of the live ones.
type Dispatcher struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	sem    chan struct{}
	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session.Controller
}

// New returns a dispatcher admitting at most cfg.MaxConcurrent sessions.
func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = store.DefaultRecentLimit
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With("component", "dispatch"),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		sessions: map[string]*session.Controller{},
	}
}

// Dispatch admits req, wires its session and runs it in the background.
// It returns the new session id once the session goroutine is launched.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	if req.UserID == "" {
		return "", ErrMissingUser
	}
	if req.Flow == "" {
		req.Flow = FlowJournal
	}
	if !d.deps.Summarizers.Has(req.Flow) || (req.Flow == FlowTrainer && d.deps.Catalog == nil) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFlow, req.Flow)
	}
	if d.ctx.Err() != nil {
		return "", ErrShuttingDown
	}

	select {
	case d.sem <- struct{}{}:
	default:
		metrics.SessionsRejected.Inc()
		return "", ErrAtCapacity
	}
	admitted := true
	defer func() {
		if admitted {
			<-d.sem
		}
	}()

	id := uuid.NewString()
	log := d.deps.Logger.With("session_id", id, "user_id", req.UserID, "flow", req.Flow)

	cfg, err := d.sessionConfig(ctx, id, req, log)
	if err != nil {
		return "", err
	}
	summarizer, err := d.deps.Summarizers.Route(req.Flow)
	if err != nil {
		return "", err
	}
	model, err := d.deps.NewModel(log)
	if err != nil {
		return "", fmt.Errorf("create model: %w", err)
	}

	var (
		pubs    session.Publishers
		signals session.SignalSet
		rm      Room
	)
	if d.deps.Hub != nil {
		feed := d.deps.Hub.Open(id)
		pubs = append(pubs, feed)
		signals = append(signals, feed)
	}
	if d.deps.JoinRoom != nil && req.Room != "" {
		rm, err = d.deps.JoinRoom(req.Room, log)
		if err != nil {
			d.closeFeed(id)
			model.Close()
			return "", fmt.Errorf("join room %q: %w", req.Room, err)
		}
		pubs = append(pubs, rm)
		signals = append(signals, rm)
	}

	release := func() {
		if rm != nil {
			if err := rm.Close(); err != nil {
				log.Warn("room close failed", "error", err)
			}
		}
		d.closeFeed(id)
		d.forget(id)
		<-d.sem
	}

	ctrl, err := session.New(cfg, session.Deps{
		Model:      model,
		Summarizer: summarizer,
		Store:      d.deps.Store,
		Publisher:  pubs,
		Signals:    signals,
		Release:    release,
		Logger:     d.deps.Logger,
	})
	if err != nil {
		if rm != nil {
			rm.Close()
		}
		d.closeFeed(id)
		model.Close()
		return "", err
	}
	if rm != nil {
		rm.OnDisconnect(func() { ctrl.RequestClose(session.ReasonTransport) })
	}

	d.mu.Lock()
	d.sessions[id] = ctrl
	d.mu.Unlock()
	admitted = false

	metrics.SessionsTotal.WithLabelValues(req.Flow).Inc()
	log.Info("session dispatched", "room", req.Room)

	d.wg.Go(func() {
		if err := ctrl.Run(d.ctx); err != nil {
			log.Error("session failed", "error", err)
		}
	})
	return id, nil
}

func (d *Dispatcher) sessionConfig(ctx context.Context, id string, req Request, log *slog.Logger) (session.Config, error) {
	cfg := session.Config{
		SessionID:          id,
		UserID:             req.UserID,
		Flow:               req.Flow,
		EndCallTool:        true,
		WrapUp:             prompts.WrapUp,
		MaxDuration:        d.cfg.MaxDuration,
		WrapUpGrace:        d.cfg.WrapUpGrace,
		GreetingAttempts:   d.cfg.GreetingAttempts,
		GreetingBackoff:    d.cfg.GreetingBackoff,
		SummaryAttempts:    d.cfg.SummaryAttempts,
		SummaryBackoff:     d.cfg.SummaryBackoff,
		PostProcessTimeout: d.cfg.PostProcessTimeout,
	}
	cfg.Agent.Voice = d.cfg.Voice

	switch req.Flow {
	case FlowTrainer:
		recipient := -1
		if req.RecipientIndex != nil {
			recipient = *req.RecipientIndex
		}
		p, care, err := d.deps.Catalog.Scenario(req.PersonaID, recipient)
		if err != nil {
			return cfg, err
		}
		instructions, err := prompts.Roleplay(p, care, d.deps.Catalog.Knowledge())
		if err != nil {
			return cfg, fmt.Errorf("build roleplay prompt: %w", err)
		}
		log.Info("scenario selected", "persona", p.ID, "care_type", care.CareType)
		cfg.Agent.Instructions = instructions
		cfg.Opening = prompts.TrainerOpening
		cfg.AuxContext = string(d.deps.Catalog.Knowledge().TraineeKnowledgeBase)
		cfg.ResultTopic = session.TopicScorecard

	default:
		entries, err := d.deps.Store.ListRecent(ctx, req.UserID, d.cfg.RecentLimit)
		if err != nil {
			log.Warn("load recent sessions failed, starting fresh", "error", err)
		}
		recent := store.Journals(entries)
		cfg.Agent.Instructions = prompts.Journal(recent)
		cfg.Opening = prompts.JournalOpening
		if len(recent) > 0 {
			cfg.Opening = prompts.JournalReturningOpening
		}
		if d.cfg.Notes {
			cfg.Agent.Instructions = prompts.WithNotes(cfg.Agent.Instructions)
			cfg.Agent.Tools = new(session.Notebook).Tools()
			if len(recent) == 0 {
				cfg.Opening = prompts.NotesOpening
			}
		}
		cfg.ResultTopic = session.TopicRecord
	}
	return cfg, nil
}

// End delivers an external end-of-call signal to a live session.
func (d *Dispatcher) End(id string) error {
	ctrl, ok := d.Lookup(id)
	if !ok {
		return ErrUnknownSession
	}
	if ctrl.RequestClose(session.ReasonSignal) {
		d.log.Info("end requested", "session_id", id)
	}
	return nil
}

// Lookup returns a live session by id.
func (d *Dispatcher) Lookup(id string) (*session.Controller, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctrl, ok := d.sessions[id]
	return ctrl, ok
}

// Active reports the number of sessions not yet finished.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Recent lists the user's latest records, newest first.
func (d *Dispatcher) Recent(ctx context.Context, userID string, limit int) ([]store.Entry, error) {
	if limit <= 0 {
		limit = d.cfg.RecentLimit
	}
	return d.deps.Store.ListRecent(ctx, userID, limit)
}

// Shutdown closes every live session and waits for their post-processing,
// or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := d.wg.WaitAndRecover(); r != nil {
			d.log.Error("session goroutine panicked", "panic", r.Value)
		}
	}()
	select {
	case <-done:
		d.log.Info("all sessions finished")
		return nil
	case <-ctx.Done():
		d.log.Warn("shutdown timed out", "active", d.Active())
		return ctx.Err()
	}
}

func (d *Dispatcher) closeFeed(id string) {
	if d.deps.Hub != nil {
		d.deps.Hub.Close(id)
	}
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
}

// NewRealtimeFactory builds models from a realtime client template.
func NewRealtimeFactory(cfg realtime.Config) ModelFactory {
	return func(log *slog.Logger) (session.Model, error) {
		c := cfg
		c.Logger = log
		client, err := realtime.New(c)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
