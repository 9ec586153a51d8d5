// Package server exposes the latest scan results and process metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"spread-scanner/internal/cache"
	"spread-scanner/internal/export"
	"spread-scanner/internal/scanner"
)

// LatestCycleSource is the shared snapshot written by a scanning process.
type LatestCycleSource interface {
	LatestCycle(ctx context.Context) (export.Cycle, error)
}

// Options configure the HTTP boundary. History is consulted first, then the
// shared snapshot; either may be nil.
type Options struct {
	Addr     string
	History  *scanner.History
	Snapshot LatestCycleSource
	Metrics  http.Handler
}

// Server serves health, metrics and the latest ranked opportunities.
type Server struct {
	opts    Options
	handler http.Handler
	logger  zerolog.Logger
	started time.Time
}

// New builds the server and its routes.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	s := &Server{
		opts:    opts,
		logger:  logger.With().Str("component", "http").Logger(),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/cycles/latest", s.handleLatest)
	mux.HandleFunc("GET /api/opportunities.csv", s.handleCSV)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	s.handler = corsMiddleware(mux)
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) latest(ctx context.Context) (export.Cycle, bool, error) {
	if s.opts.History != nil {
		if res, ok := s.opts.History.Latest(); ok {
			return export.NewCycle(res), true, nil
		}
	}
	if s.opts.Snapshot != nil {
		doc, err := s.opts.Snapshot.LatestCycle(ctx)
		if errors.Is(err, cache.ErrNotFound) {
			return export.Cycle{}, false, nil
		}
		if err != nil {
			return export.Cycle{}, false, err
		}
		return doc, true, nil
	}
	return export.Cycle{}, false, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if doc, ok, err := s.latest(r.Context()); err == nil && ok {
		response["last_cycle"] = doc.ID
		response["last_cycle_at"] = doc.FinishedAt
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	doc, ok, err := s.latest(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load latest cycle")
		http.Error(w, "latest cycle unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "no completed cycle yet", http.StatusNotFound)
		return
	}
	doc.Opportunities = limit(doc.Opportunities, r)
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	doc, ok, err := s.latest(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load latest cycle")
		http.Error(w, "latest cycle unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "no completed cycle yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="opportunities.csv"`)
	if err := export.WriteRecordsCSV(w, limit(doc.Opportunities, r)); err != nil {
		s.logger.Warn().Err(err).Msg("write csv response")
	}
}

// limit applies the optional ?top=N query parameter.
func limit(records []export.Record, r *http.Request) []export.Record {
	n, err := strconv.Atoi(r.URL.Query().Get("top"))
	if err != nil || n <= 0 || n >= len(records) {
		return records
	}
	return records[:n]
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn().Err(err).Msg("encode json response")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
