package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/victormasson21/voice-agent/internal/dispatch"
	"github.com/victormasson21/voice-agent/internal/observe"
)

type deps struct {
	dispatcher *dispatch.Dispatcher
	hub        *observe.Hub
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/sessions", d.handleDispatch)
	mux.HandleFunc("DELETE /api/sessions/{id}", d.handleEnd)
	mux.HandleFunc("GET /api/users/{id}/sessions", d.handleRecent)
	mux.Handle("GET /ws/sessions/{id}", d.hub)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d deps) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id, err := d.dispatcher.Dispatch(r.Context(), req)
	switch {
	case errors.Is(err, dispatch.ErrAtCapacity), errors.Is(err, dispatch.ErrShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, dispatch.ErrMissingUser), errors.Is(err, dispatch.ErrUnknownFlow):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("dispatch failed", "user_id", req.UserID, "flow", req.Flow, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"session_id": id})
}

func (d deps) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := d.dispatcher.End(r.PathValue("id")); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "closing"})
}

func (d deps) handleRecent(w http.ResponseWriter, r *http.Request) {
	entries, err := d.dispatcher.Recent(r.Context(), r.PathValue("id"), queryInt(r, "limit", 0))
	if err != nil {
		slog.Error("list sessions", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"sessions": entries})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
