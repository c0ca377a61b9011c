// Package server exposes health, status, metrics and manual poll endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/poll"
)

// Poller interface for triggering a cycle on demand.
type Poller interface {
	Cycle(ctx context.Context) (*poll.Report, error)
}

// Status interface for reading the tracked submissions.
type Status interface {
	Entries() []stickybot.Tracked
}

// Server handles HTTP requests.
type Server struct {
	poller    Poller
	status    Status
	logger    *slog.Logger
	subreddit string
}

// Config holds server configuration.
type Config struct {
	Poller    Poller
	Status    Status
	Logger    *slog.Logger
	Subreddit string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		poller:    cfg.Poller,
		status:    cfg.Status,
		logger:    cfg.Logger,
		subreddit: cfg.Subreddit,
	}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute, // A manual poll runs a full cycle
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

type failedAction struct {
	Action stickybot.Action `json:"action"`
	Error  string           `json:"error"`
}

type pollResponse struct {
	Error      string             `json:"error,omitempty"`
	Status     string             `json:"status"`
	Actions    []stickybot.Action `json:"actions,omitempty"`
	Failed     []failedAction     `json:"failed,omitempty"`
	DurationMS int64              `json:"duration_ms"`
	Fetched    int                `json:"fetched"`
	Tracked    int                `json:"tracked"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	report, err := s.poller.Cycle(r.Context())
	if err != nil {
		s.logger.Error("Poll cycle failed", "error", err)
		status := http.StatusInternalServerError
		if stickybot.IsFetchError(err) {
			status = http.StatusBadGateway
		}
		s.writeJSON(w, status, pollResponse{Status: "skipped", Error: err.Error()})
		return
	}

	resp := pollResponse{
		Status:     "completed",
		Actions:    report.Actions,
		DurationMS: report.Duration.Milliseconds(),
		Fetched:    report.Fetched,
		Tracked:    report.Tracked,
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, failedAction{Action: f.Action, Error: fmt.Sprint(f.Err)})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type statusEntry struct {
	stickybot.Tracked
	Sort string `json:"sort"`
}

type statusResponse struct {
	Subreddit string        `json:"subreddit"`
	Tracked   []statusEntry `json:"tracked"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.status.Entries()
	resp := statusResponse{
		Subreddit: s.subreddit,
		Tracked:   make([]statusEntry, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Tracked = append(resp.Tracked, statusEntry{Tracked: e, Sort: e.Sort()})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
