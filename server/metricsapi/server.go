// Package metricsapi serves the Prometheus registry and a small status
// document over HTTP, next to the filter's stdin/stdout protocol loop.
package metricsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/migadu/filter-contentstrings/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Server represents the metrics HTTP server
type Server struct {
	addr     string
	path     string
	version  string
	matchers int
	started  time.Time
	server   *http.Server
}

// ServerOptions holds configuration options for the metrics server
type ServerOptions struct {
	Addr     string
	Path     string
	Version  string
	Matchers int
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Matchers      int     `json:"matchers"`
}

// New creates a new metrics server
func New(options ServerOptions) (*Server, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("metrics server address is required")
	}
	path := options.Path
	if path == "" {
		path = "/metrics"
	}
	if path == "/status" {
		return nil, fmt.Errorf("metrics path %q collides with the status endpoint", path)
	}

	return &Server{
		addr:     options.Addr,
		path:     path,
		version:  options.Version,
		matchers: options.Matchers,
		started:  time.Now(),
	}, nil
}

// Start runs the metrics server until ctx is cancelled. Failures are reported
// on errChan.
func Start(ctx context.Context, options ServerOptions, errChan chan error) {
	server, err := New(options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create metrics server: %w", err)
		return
	}

	logger.Info("Starting metrics server", "addr", server.addr, "path", server.path)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.Handle(s.path, promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	return router
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Version:       s.version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Matchers:      s.matchers,
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Metrics API request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
