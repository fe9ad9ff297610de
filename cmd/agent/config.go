package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/victormasson21/voice-agent/internal/realtime"
	"github.com/victormasson21/voice-agent/internal/room"
	"github.com/victormasson21/voice-agent/internal/session"
	"github.com/victormasson21/voice-agent/internal/store"
	"github.com/victormasson21/voice-agent/internal/summary"
)

type config struct {
	port     string
	logLevel slog.Level

	openAIKey     string
	realtimeURL   string
	realtimeModel string
	realtimeVoice string
	replyTimeout  time.Duration

	summaryModel       string
	summaryTemperature float64

	livekit room.Config

	databaseURL string
	contextDir  string

	maxDuration        time.Duration
	wrapUpGrace        time.Duration
	greetingAttempts   int
	greetingBackoff    time.Duration
	summaryAttempts    int
	summaryBackoff     time.Duration
	postProcessTimeout time.Duration
	maxConcurrent      int
	recentLimit        int
	notesTools         bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("REALTIME_URL", realtime.DefaultURL)
	v.SetDefault("REALTIME_MODEL", realtime.DefaultModel)
	v.SetDefault("REALTIME_VOICE", realtime.DefaultVoice)
	v.SetDefault("REPLY_TIMEOUT", 30*time.Second)
	v.SetDefault("SUMMARY_MODEL", summary.DefaultModel)
	v.SetDefault("SUMMARY_TEMPERATURE", summary.DefaultTemperature)
	v.SetDefault("LIVEKIT_URL", "")
	v.SetDefault("LIVEKIT_API_KEY", "")
	v.SetDefault("LIVEKIT_API_SECRET", "")
	v.SetDefault("AGENT_IDENTITY", "voice-agent")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("CONTEXT_DIR", "context")
	v.SetDefault("SESSION_MAX_DURATION", 10*time.Minute)
	v.SetDefault("SESSION_WRAPUP_GRACE", session.DefaultWrapUpGrace)
	v.SetDefault("GREETING_ATTEMPTS", session.DefaultGreetingAttempts)
	v.SetDefault("GREETING_BACKOFF", session.DefaultGreetingBackoff)
	v.SetDefault("SUMMARY_ATTEMPTS", session.DefaultSummaryAttempts)
	v.SetDefault("SUMMARY_BACKOFF", session.DefaultSummaryBackoff)
	v.SetDefault("POST_PROCESS_TIMEOUT", session.DefaultPostProcessTimeout)
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 50)
	v.SetDefault("RECENT_SESSIONS_LIMIT", store.DefaultRecentLimit)
	v.SetDefault("NOTES_TOOLS", false)
}

// loadConfig reads defaults, then CONFIG_FILE if set, then the environment.
func loadConfig() (config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v.GetString("LOG_LEVEL")))); err != nil {
		return config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := config{
		port:               v.GetString("PORT"),
		logLevel:           level,
		openAIKey:          v.GetString("OPENAI_API_KEY"),
		realtimeURL:        v.GetString("REALTIME_URL"),
		realtimeModel:      v.GetString("REALTIME_MODEL"),
		realtimeVoice:      v.GetString("REALTIME_VOICE"),
		replyTimeout:       v.GetDuration("REPLY_TIMEOUT"),
		summaryModel:       v.GetString("SUMMARY_MODEL"),
		summaryTemperature: v.GetFloat64("SUMMARY_TEMPERATURE"),
		livekit: room.Config{
			URL:       v.GetString("LIVEKIT_URL"),
			APIKey:    v.GetString("LIVEKIT_API_KEY"),
			APISecret: v.GetString("LIVEKIT_API_SECRET"),
			Identity:  v.GetString("AGENT_IDENTITY"),
		},
		databaseURL:        v.GetString("DATABASE_URL"),
		contextDir:         v.GetString("CONTEXT_DIR"),
		maxDuration:        v.GetDuration("SESSION_MAX_DURATION"),
		wrapUpGrace:        v.GetDuration("SESSION_WRAPUP_GRACE"),
		greetingAttempts:   v.GetInt("GREETING_ATTEMPTS"),
		greetingBackoff:    v.GetDuration("GREETING_BACKOFF"),
		summaryAttempts:    v.GetInt("SUMMARY_ATTEMPTS"),
		summaryBackoff:     v.GetDuration("SUMMARY_BACKOFF"),
		postProcessTimeout: v.GetDuration("POST_PROCESS_TIMEOUT"),
		maxConcurrent:      v.GetInt("MAX_CONCURRENT_SESSIONS"),
		recentLimit:        v.GetInt("RECENT_SESSIONS_LIMIT"),
		notesTools:         v.GetBool("NOTES_TOOLS"),
	}
	return cfg, nil
}
