// Package api exposes a read-only status surface plus a manual-close hook
// over HTTP. It observes the engine; it never drives the cycle.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalyst-bot/internal/engine"
	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/marketdata"
)

// Server serves /status, /metrics and /close.
type Server struct {
	eng  *engine.Engine
	feed *marketdata.Feed
	srv  *http.Server
}

func NewServer(addr string, eng *engine.Engine, feed *marketdata.Feed, reg *prometheus.Registry) *Server {
	s := &Server{eng: eng, feed: feed}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/close", s.handleClose)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{
		"portfolio": s.eng.Snapshot(),
		"feed":      s.feed.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		logger.Warn(r.Context(), "Status encode failed", "error", err)
	}
}

// handleClose flags a position for manual close on the next cycle. The
// close itself happens inside the monitoring pass, never here.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		http.Error(w, "ticker required", http.StatusBadRequest)
		return
	}
	s.eng.RequestClose(ticker)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"ticker": ticker, "status": "close_requested"})
}
