package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/victormasson21/voice-agent/internal/dispatch"
	"github.com/victormasson21/voice-agent/internal/observe"
	"github.com/victormasson21/voice-agent/internal/persona"
	"github.com/victormasson21/voice-agent/internal/realtime"
	"github.com/victormasson21/voice-agent/internal/room"
	"github.com/victormasson21/voice-agent/internal/store"
	"github.com/victormasson21/voice-agent/internal/summary"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})))

	if cfg.openAIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	records, closeStore := openStore(initCtx, cfg.databaseURL)
	initCancel()
	defer closeStore()

	catalog, err := persona.Load(cfg.contextDir)
	if err != nil {
		slog.Warn("context not loaded, trainer flow disabled", "dir", cfg.contextDir, "error", err)
	}

	summarizers, err := buildSummarizers(cfg, catalog)
	if err != nil {
		slog.Error("build summarizers", "error", err)
		os.Exit(1)
	}

	hub := observe.NewHub(slog.Default())

	var joinRoom dispatch.RoomJoiner
	if cfg.livekit.Enabled() {
		joinRoom = func(name string, log *slog.Logger) (dispatch.Room, error) {
			r, err := room.Join(cfg.livekit, name, log)
			if err != nil {
				return nil, err
			}
			return r, nil
		}
		slog.Info("livekit enabled", "url", cfg.livekit.URL, "identity", cfg.livekit.Identity)
	}

	dispatcher := dispatch.New(dispatch.Config{
		MaxConcurrent:      cfg.maxConcurrent,
		MaxDuration:        cfg.maxDuration,
		WrapUpGrace:        cfg.wrapUpGrace,
		GreetingAttempts:   cfg.greetingAttempts,
		GreetingBackoff:    cfg.greetingBackoff,
		SummaryAttempts:    cfg.summaryAttempts,
		SummaryBackoff:     cfg.summaryBackoff,
		PostProcessTimeout: cfg.postProcessTimeout,
		RecentLimit:        cfg.recentLimit,
		Notes:              cfg.notesTools,
		Voice:              cfg.realtimeVoice,
	}, dispatch.Deps{
		NewModel: dispatch.NewRealtimeFactory(realtime.Config{
			URL:          cfg.realtimeURL,
			APIKey:       cfg.openAIKey,
			Model:        cfg.realtimeModel,
			Voice:        cfg.realtimeVoice,
			ReplyTimeout: cfg.replyTimeout,
		}),
		JoinRoom:    joinRoom,
		Hub:         hub,
		Store:       records,
		Summarizers: summarizers,
		Catalog:     catalog,
		Logger:      slog.Default(),
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{dispatcher: dispatcher, hub: hub})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("agent starting", "addr", addr, "max_concurrent", cfg.maxConcurrent, "flows", summarizers.Names())

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	// ListenAndServe returns as soon as Shutdown starts; wait for the sessions.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.postProcessTimeout+30*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		slog.Warn("sessions still running at exit", "error", err)
	}

	slog.Info("agent stopped")
}

// openStore connects to Postgres and applies migrations, or falls back to
// the in-memory store when no database is configured.
func openStore(ctx context.Context, dsn string) (store.Store, func()) {
	if dsn == "" {
		slog.Warn("DATABASE_URL not set, session records are kept in memory")
		return store.NewMemory(), func() {}
	}
	pg, err := store.Open(ctx, dsn)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := pg.Migrate(ctx); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}
	return pg, pg.Close
}

func buildSummarizers(cfg config, catalog *persona.Catalog) (*summary.Router[summary.Summarizer], error) {
	llm := summary.NewAgentCompleter(cfg.openAIKey, cfg.summaryModel, cfg.summaryTemperature)

	extractor, err := summary.NewExtractor(llm)
	if err != nil {
		return nil, err
	}
	backends := map[string]summary.Summarizer{dispatch.FlowJournal: extractor}

	if catalog != nil {
		rubric := catalog.Rubric()
		evaluator, err := summary.NewEvaluator(llm, rubric.Raw, len(rubric.Criteria))
		if err != nil {
			return nil, err
		}
		backends[dispatch.FlowTrainer] = evaluator
	}
	return summary.NewRouter(backends), nil
}
