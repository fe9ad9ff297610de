// Package session drives one voice session from connect to persisted record.
//
// A Controller starts the realtime conversation, greets the user, bounds the
// session length, and funnels every way a call can end (the end_call tool, a
// side-channel message, the timer, the transport dropping, shutdown) into one
// close request. The first request wins; post-processing then runs exactly
// once in the background and Done reports when it has finished.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/victormasson21/voice-agent/internal/metrics"
	"github.com/victormasson21/voice-agent/internal/realtime"
	"github.com/victormasson21/voice-agent/internal/record"
)

// Controller owns the lifecycle of one session.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	state     atomic.Int32
	started   atomic.Bool
	armed     atomic.Bool
	startedAt time.Time

	closing  chan struct{}
	done     chan struct{}
	termOnce sync.Once

	mu      sync.Mutex
	reason  Reason
	pending Reason // close requested while connecting
	result  record.Record
}

// New validates cfg and returns a controller in the Connecting state.
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Model == nil || deps.Summarizer == nil || deps.Store == nil {
		return nil, ErrMissingDependency
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With("session_id", cfg.SessionID, "user_id", cfg.UserID, "flow", cfg.Flow),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.state.Store(int32(Connecting))
	return c, nil
}

// ID is the session id assigned at dispatch.
func (c *Controller) ID() string { return c.cfg.SessionID }

// UserID is the user the session belongs to.
func (c *Controller) UserID() string { return c.cfg.UserID }

// State is the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Done is closed once the session has been released.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Reason reports what closed the session, empty while it is live.
func (c *Controller) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Result is the record persisted for the session, nil if none was.
func (c *Controller) Result() record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Run starts the session, greets the user and blocks until post-processing
// has finished. Cancelling ctx closes the session.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	c.GenerateOpening(ctx, c.cfg.Opening)

	select {
	case <-c.done:
	case <-ctx.Done():
		c.RequestClose(ReasonShutdown)
		<-c.done
	}
	return nil
}

// Start connects the realtime conversation and moves to Active. On failure
// the session is released without post-processing.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.startedAt = time.Now()

	agent := c.cfg.Agent
	agent.Tools = append([]realtime.Tool(nil), agent.Tools...)
	if c.cfg.EndCallTool {
		agent.Tools = append(agent.Tools, c.endCallTool())
	}

	c.deps.Model.OnClose(c.transportClosed)
	if err := c.deps.Model.Start(ctx, agent); err != nil {
		c.log.Error("session start failed", "error", err)
		metrics.Errors.WithLabelValues("start").Inc()
		c.abort()
		return fmt.Errorf("start realtime session: %w", err)
	}

	c.mu.Lock()
	c.state.Store(int32(Active))
	pending := c.pending
	c.mu.Unlock()
	metrics.SessionsActive.Inc()
	c.log.Info("session started", "max_duration", c.cfg.MaxDuration, "tools", len(agent.Tools))

	if pending != "" {
		c.log.Info("close requested while connecting", "reason", pending)
		c.RequestClose(pending)
		return nil
	}

	if c.deps.Signals != nil {
		c.deps.Signals.OnData(TopicEndCall, func([]byte) {
			if c.RequestClose(ReasonSignal) {
				c.log.Info("end_call received")
			}
		})
	}
	c.publish(ctx, TopicAgentStatus, statusPayload("ready"))

	if c.cfg.MaxDuration > 0 {
		c.ArmAutoClose(c.cfg.MaxDuration, c.cfg.WrapUpGrace)
	}
	return nil
}

func (c *Controller) transportClosed() {
	if c.RequestClose(ReasonTransport) {
		c.log.Info("transport closed")
	}
}

// GenerateOpening asks the model to speak first. Failures are retried with a
// fixed backoff, then logged; the session carries on either way.
func (c *Controller) GenerateOpening(ctx context.Context, instructions string) {
	if instructions == "" {
		return
	}
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(c.cfg.GreetingAttempts-1), retry.NewConstant(c.cfg.GreetingBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if c.State() != Active {
			return nil
		}
		attempts++
		if err := c.deps.Model.GenerateReply(ctx, instructions); err != nil {
			metrics.GreetingAttempts.WithLabelValues("failed").Inc()
			c.log.Warn("greeting attempt failed", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		metrics.GreetingAttempts.WithLabelValues("ok").Inc()
		return nil
	})
	if err != nil {
		c.log.Error("greeting failed, continuing without it", "attempts", attempts, "error", err)
	}
}

// ArmAutoClose schedules the time limit: at maxDuration a still-active
// session is asked to wrap up, and it is closed at maxDuration+grace even if
// the wrap-up reply is still running. Both steps check the state first, so a
// session already closing is left alone.
func (c *Controller) ArmAutoClose(maxDuration, grace time.Duration) {
	if maxDuration <= 0 || !c.armed.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if !c.wait(maxDuration) || c.State() != Active {
			return
		}
		c.log.Info("max duration reached, wrapping up", "grace", grace)
		deadline := time.Now().Add(grace)

		if c.cfg.WrapUp != "" {
			ctx, cancel := context.WithDeadline(context.Background(), deadline)
			if err := c.deps.Model.GenerateReply(ctx, c.cfg.WrapUp); err != nil {
				c.log.Warn("wrap-up failed", "error", err)
			}
			cancel()
		}

		if !c.wait(time.Until(deadline)) || c.State() != Active {
			return
		}
		c.RequestClose(ReasonTimeout)
	}()
}

// wait sleeps for d and reports false if the session started closing first.
func (c *Controller) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.closing:
		return false
	}
}

// RequestClose moves an active session to Closing and starts termination in
// the background. A request made while the session is still connecting is
// held and applied as soon as Start succeeds. It reports whether this call
// made (or queued) the transition; every later or concurrent call is a no-op.
func (c *Controller) RequestClose(reason Reason) bool {
	if queued, ok := c.deferClose(reason); ok {
		return queued
	}
	if !c.state.CompareAndSwap(int32(Active), int32(Closing)) {
		return false
	}
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	close(c.closing)

	metrics.CloseReasons.WithLabelValues(string(reason)).Inc()
	c.log.Info("session closing", "reason", reason)
	go c.termOnce.Do(c.terminate)
	return true
}

// deferClose records reason while connecting. ok is false once the session
// has left Connecting; queued is false if an earlier request is already held.
func (c *Controller) deferClose(reason Reason) (queued, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Connecting {
		return false, false
	}
	if c.pending != "" {
		return false, true
	}
	c.pending = reason
	return true, true
}

func (c *Controller) terminate() {
	elapsed := time.Since(c.startedAt)

	c.step("close_transport", func() {
		if err := c.deps.Model.Close(); err != nil {
			c.log.Warn("transport close failed", "error", err)
		}
	})
	c.state.Store(int32(Terminated))
	metrics.SessionsActive.Dec()
	metrics.SessionDuration.Observe(elapsed.Seconds())

	c.postProcess(elapsed)
	c.finish()
	c.log.Info("session terminated", "duration", elapsed.Round(time.Second))
}

// abort ends a session that never became active.
func (c *Controller) abort() {
	c.termOnce.Do(func() {
		c.state.Store(int32(Terminated))
		c.step("close_transport", func() {
			if err := c.deps.Model.Close(); err != nil {
				c.log.Warn("transport close failed", "error", err)
			}
		})
		c.finish()
	})
}

func (c *Controller) finish() {
	c.step("release", func() {
		if c.deps.Release != nil {
			c.deps.Release()
		}
	})
	close(c.done)
}

// postProcess summarizes, persists and reports the session. Each step is
// isolated; only an empty transcript skips the rest.
func (c *Controller) postProcess(elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PostProcessTimeout)
	defer cancel()

	var turns []record.Turn
	c.step("snapshot", func() { turns = record.NonEmpty(c.deps.Model.History()) })
	if len(turns) == 0 {
		c.log.Info("empty transcript, nothing to record")
		return
	}

	c.publish(ctx, c.cfg.ResultTopic, statusPayload("evaluating"))

	var rec record.Record
	c.step("summarize", func() { rec = c.summarize(ctx, turns) })
	if rec == nil {
		rec = c.deps.Summarizer.Fallback()
	}
	c.mu.Lock()
	c.result = rec
	c.mu.Unlock()

	seconds := int(elapsed / time.Second)
	c.step("persist", func() {
		if err := c.deps.Store.Append(ctx, c.cfg.UserID, seconds, rec); err != nil {
			metrics.Errors.WithLabelValues("persist").Inc()
			c.log.Error("persist session record failed", "error", err)
			return
		}
		c.log.Info("session record saved", "kind", rec.Kind(), "duration_seconds", seconds, "turns", len(turns))
	})

	payload, err := resultPayload(rec)
	if err != nil {
		c.log.Error("encode result failed", "error", err)
		return
	}
	c.publish(ctx, c.cfg.ResultTopic, payload)
}

func (c *Controller) summarize(ctx context.Context, turns []record.Turn) record.Record {
	var rec record.Record
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(c.cfg.SummaryAttempts-1), retry.NewConstant(c.cfg.SummaryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := c.deps.Summarizer.Summarize(ctx, turns, c.cfg.AuxContext)
		if err != nil {
			metrics.SummaryAttempts.WithLabelValues(c.cfg.Flow, "failed").Inc()
			c.log.Warn("summary attempt failed", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		metrics.SummaryAttempts.WithLabelValues(c.cfg.Flow, "ok").Inc()
		rec = r
		return nil
	})
	if err != nil || rec == nil {
		metrics.SummaryFallbacks.WithLabelValues(c.cfg.Flow).Inc()
		c.log.Error("summary failed, using fallback record", "attempts", attempts, "error", err)
		return c.deps.Summarizer.Fallback()
	}
	return rec
}

func (c *Controller) publish(ctx context.Context, topic string, payload []byte) {
	if c.deps.Publisher == nil {
		return
	}
	c.step("publish", func() {
		if err := c.deps.Publisher.Publish(ctx, topic, payload); err != nil {
			metrics.Errors.WithLabelValues("publish").Inc()
			c.log.Warn("publish failed", "topic", topic, "error", err)
		}
	})
}

// step runs fn, recording its latency and containing any panic.
func (c *Controller) step(stage string, fn func()) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			metrics.Errors.WithLabelValues(stage).Inc()
			c.log.Error("post-processing step panicked", "stage", stage, "panic", r)
		}
	}()
	fn()
}
