package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/victormasson21/voice-agent/internal/realtime"
	"github.com/victormasson21/voice-agent/internal/record"
)

var (
	ErrNoTerminationPath = errors.New("session: needs the end_call tool or a max duration")
	ErrMissingUser       = errors.New("session: user id is required")
	ErrMissingDependency = errors.New("session: model, summarizer and store are required")
	ErrAlreadyStarted    = errors.New("session: already started")
)

const (
	DefaultWrapUpGrace        = 15 * time.Second
	DefaultGreetingAttempts   = 3
	DefaultGreetingBackoff    = time.Second
	DefaultSummaryAttempts    = 2
	DefaultSummaryBackoff     = time.Second
	DefaultPostProcessTimeout = 60 * time.Second
)

// Model is the realtime conversation the session drives.
type Model interface {
	Start(ctx context.Context, cfg realtime.SessionConfig) error
	GenerateReply(ctx context.Context, instructions string) error
	History() []record.Turn
	OnClose(fn func())
	Close() error
}

// Summarizer turns a finished conversation into the record to persist.
type Summarizer interface {
	Summarize(ctx context.Context, turns []record.Turn, aux string) (record.Record, error)
	Fallback() record.Record
}

// Store persists the session record.
type Store interface {
	Append(ctx context.Context, userID string, durationSeconds int, rec record.Record) error
}

// Config describes one session. Zero durations and counts take defaults.
type Config struct {
	SessionID string
	UserID    string
	Flow      string

	Agent       realtime.SessionConfig
	EndCallTool bool
	Opening     string
	WrapUp      string

	MaxDuration time.Duration
	WrapUpGrace time.Duration

	GreetingAttempts   int
	GreetingBackoff    time.Duration
	SummaryAttempts    int
	SummaryBackoff     time.Duration
	PostProcessTimeout time.Duration

	// AuxContext is passed to the summarizer alongside the transcript.
	AuxContext  string
	ResultTopic string
}

// Deps are the collaborators of one session. Publisher, Signals and Release
// are optional.
type Deps struct {
	Model      Model
	Summarizer Summarizer
	Store      Store
	Publisher  Publisher
	Signals    Signals
	Release    func()
	Logger     *slog.Logger
}

func (c Config) validate() error {
	if c.UserID == "" {
		return ErrMissingUser
	}
	if !c.EndCallTool && c.MaxDuration <= 0 {
		return ErrNoTerminationPath
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.WrapUpGrace <= 0 {
		c.WrapUpGrace = DefaultWrapUpGrace
	}
	if c.GreetingAttempts <= 0 {
		c.GreetingAttempts = DefaultGreetingAttempts
	}
	if c.GreetingBackoff <= 0 {
		c.GreetingBackoff = DefaultGreetingBackoff
	}
	if c.SummaryAttempts <= 0 {
		c.SummaryAttempts = DefaultSummaryAttempts
	}
	if c.SummaryBackoff <= 0 {
		c.SummaryBackoff = DefaultSummaryBackoff
	}
	if c.PostProcessTimeout <= 0 {
		c.PostProcessTimeout = DefaultPostProcessTimeout
	}
	if c.ResultTopic == "" {
		c.ResultTopic = TopicRecord
	}
	return c
}
