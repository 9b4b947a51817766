package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/harun/oni/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricsServer exposes Prometheus metrics and a health check.
type MetricsServer struct {
	addr   string
	status func() Status
	server *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// NewMetricsServer creates a server that will listen on addr.
func NewMetricsServer(addr string, status func() Status) *MetricsServer {
	return &MetricsServer{
		addr:   addr,
		status: status,
		logger: log.Logger.With().Str("component", "metrics-server").Logger(),
	}
}

// Start binds the listener and serves in the background. Bind errors are returned.
func (s *MetricsServer) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Addr returns the bound address, which differs from the configured one for port 0.
func (s *MetricsServer) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully stops the server
func (s *MetricsServer) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.logger.Info().Msg("Metrics server stopped")
	return nil
}

func (s *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.status()
	response := map[string]interface{}{
		"status":          "ok",
		"uptime":          status.Uptime.Seconds(),
		"cached_sessions": status.Sessions.CachedSessions,
		"max_per_user":    status.Sessions.MaxSessions,
		"last_sync":       status.LastSync.String(),
		"timestamp":       time.Now().UnixMilli(),
	}
	if !status.LastSyncAt.IsZero() {
		response["last_sync_at"] = status.LastSyncAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
