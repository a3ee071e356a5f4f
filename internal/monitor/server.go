// Package monitor exposes the upload metrics ledger for dashboards: a JSON
// snapshot endpoint and a websocket push feed. The feed is observational
// only; nothing in the upload path reads from it.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/upload"
)

// defaultPushInterval is how often the websocket feed pushes a snapshot.
const defaultPushInterval = 2 * time.Second

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// MetricsSource provides ledger snapshots. upload.Orchestrator implements it.
type MetricsSource interface {
	Metrics() []upload.AttemptRecord
}

// Server serves the metrics snapshot and push feed.
type Server struct {
	source   MetricsSource
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a metrics server. A non-positive interval uses the
// default push interval.
func NewServer(source MetricsSource, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if interval <= 0 {
		interval = defaultPushInterval
	}

	return &Server{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Handler returns the HTTP routes: GET /metrics and GET /metrics/ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", s.handleSnapshot)
	mux.HandleFunc("GET /metrics/ws", s.handleFeed)

	return mux
}

// Serve runs the metrics server on addr until the context is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("metrics server listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("monitor: shutting down: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("monitor: serving metrics: %w", err)
	}
}

// handleSnapshot writes the current ledger snapshot as JSON.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snapshot := s.source.Metrics()
	if snapshot == nil {
		snapshot = []upload.AttemptRecord{}
	}

	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Warn("encoding metrics snapshot failed", slog.String("error", err.Error()))
	}
}

// handleFeed upgrades to a websocket and pushes snapshots on an interval
// until the client disconnects.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))

		return
	}
	defer conn.CloseNow() //nolint:errcheck // best-effort close on exit

	s.logger.Debug("metrics feed client connected", slog.String("remote", r.RemoteAddr))

	ctx := r.Context()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Push an immediate snapshot so clients do not wait a full interval.
	if err := wsjson.Write(ctx, conn, s.source.Metrics()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")

			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, s.source.Metrics()); err != nil {
				s.logger.Debug("metrics feed client disconnected",
					slog.String("remote", r.RemoteAddr),
				)

				return
			}
		}
	}
}
