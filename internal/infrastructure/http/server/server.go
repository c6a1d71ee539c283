package server

import (
	"context"
	"fmt"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Server wraps fasthttp with the shared router the handlers register on
type Server struct {
	server *fasthttp.Server
	Router *router.Router
	addr   string
	logger zerolog.Logger
}

// NewServer creates the HTTP server bound to the configured port
func NewServer(port string, logger zerolog.Logger) *Server {
	r := router.New()

	srv := &fasthttp.Server{
		Handler: r.Handler,
		Name:    "session-service",
		// Auth endpoints carry small JSON bodies only
		MaxRequestBodySize: 64 * 1024,
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
	}

	return &Server{
		server: srv,
		Router: r,
		addr:   fmt.Sprintf(":%s", port),
		logger: logger.With().Str("component", "http_server").Logger(),
	}
}

// RegisterMetrics registers the Prometheus metrics endpoint
func (s *Server) RegisterMetrics() {
	s.Router.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
}

// Start starts listening in a separate goroutine
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.addr).
		Msg("Starting HTTP server")

	go func() {
		if err := s.server.ListenAndServe(s.addr); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if err := s.server.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped gracefully")
	return nil
}
