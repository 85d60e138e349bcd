package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/telemetry"
)

// Server hosts the monitor endpoint: Prometheus metrics, pprof and the
// admin API share one listener.
type Server struct {
	handlers   *AdminHandlers
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a monitor server around the given handlers.
func NewServer(handlers *AdminHandlers) *Server {
	return &Server{handlers: handlers}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	httpMux := http.NewServeMux()

	// Register pprof handlers for profiling
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Optionally add metrics handler
	if mh := telemetry.GetMetricsHandler(); mh != nil {
		httpMux.Handle("/metrics", mh)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	httpMux.HandleFunc("/healthz", s.handlers.handleHealth)
	RegisterRoutes(httpMux, s.handlers)

	s.httpServer = &http.Server{Handler: httpMux}

	log.Info().Str("address", addr).Msg("Starting monitor server")
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Monitor server failed")
		}
	}()

	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the monitor server down.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Monitor server shutdown timed out")
	}
}
