package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_sessions_active",
		Help: "Currently active voice sessions",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_sessions_total",
		Help: "Sessions dispatched, by flow",
	}, []string{"flow"})

	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_sessions_rejected_total",
		Help: "Dispatch requests refused at capacity",
	})

	CloseReasons = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_session_close_total",
		Help: "Session close transitions by trigger",
	}, []string{"reason"})

	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_session_duration_seconds",
		Help:    "Wall time from session start to close",
		Buckets: []float64{30, 60, 120, 300, 600, 900, 1800},
	})

	GreetingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_greeting_attempts_total",
		Help: "Opening generation attempts by outcome",
	}, []string{"outcome"})

	SummaryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_summary_attempts_total",
		Help: "Summarizer attempts by flow and outcome",
	}, []string{"flow", "outcome"})

	SummaryFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_summary_fallbacks_total",
		Help: "Sessions persisted with the fallback record",
	}, []string{"flow"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_postprocess_stage_duration_seconds",
		Help:    "Post-processing latency per stage",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage"})
)
