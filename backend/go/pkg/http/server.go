// Package http provides the HTTP server and client plumbing shared by the services.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ragdesk/backend/go/internal/config"
	"ragdesk/backend/go/pkg/httpmiddleware"
	"ragdesk/backend/go/pkg/logger"
	"ragdesk/backend/go/pkg/ratelimiter"
)

// Server wraps http.Server and applies the configured middleware around its handler.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	log        *logger.Logger
}

// ServerOption defines a function for configuring a Server.
type ServerOption func(*Server)

// WithAddress sets the address for the server to listen on.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithHandler mounts h at the root, e.g. a gin engine.
func WithHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.mux.Handle("/", h)
	}
}

// WithLogger sets the access and lifecycle logger.
func WithLogger(log *logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer creates a Server. Rate limiting and circuit breaking are applied
// when enabled under cfg.Middleware.
func NewServer(cfg *config.AppConfig, opts ...ServerOption) (*Server, error) {
	srv := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.Address,
			ReadHeaderTimeout: 10 * time.Second,
		},
		mux: http.NewServeMux(),
		log: logger.Discard(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}

	middlewares := []httpmiddleware.Middleware{httpmiddleware.AccessLog(srv.log)}

	limiter, err := ratelimiter.New(cfg.Middleware.RateLimiter)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if limiter != nil {
		srv.log.WithField("algorithm", cfg.Middleware.RateLimiter.Algorithm).Info("rate limiting enabled")
		middlewares = append(middlewares, httpmiddleware.RateLimit(limiter))
	}

	if cfg.Middleware.CircuitBreaker.Enabled {
		breaker, err := createCircuitBreaker(cfg.Middleware.CircuitBreaker)
		if err != nil {
			return nil, err
		}
		srv.log.Info("circuit breaking enabled")
		middlewares = append(middlewares, httpmiddleware.CircuitBreak(breaker))
	}

	srv.httpServer.Handler = httpmiddleware.Chain(srv.mux, middlewares...)
	return srv, nil
}

// Handle registers the handler for the given pattern.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// HandleFunc registers the handler function for the given pattern.
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Handler returns the middleware-wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.WithField("address", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
