package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/internal/infra/http/middleware"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	httpServer   *http.Server
	router       Router
	config       *config.Config
	logger       *logger.Logger
	cleanupFuncs []func() // cleanup functions to call on shutdown
}

// ServerOption is a function that configures the server.
type ServerOption func(*Server)

// WithRouter sets a custom router implementation.
func WithRouter(r Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// NewServer creates a new HTTP server.
// By default, it uses Chi router. Use WithRouter option to change.
// The security pipeline is not applied here: route groups attach it per
// class in the routes package, so the server only carries the transport
// middleware every route shares.
func NewServer(cfg *config.Config, log *logger.Logger, pipeline *middleware.Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: log,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.router == nil {
		s.router = NewChiRouter()
	}

	if pipeline != nil {
		s.cleanupFuncs = append(s.cleanupFuncs, pipeline.Stop)
	}

	// Apply global middleware (order matters!)
	s.router.Use(
		middleware.RecoveryWithConfig(log, cfg.IsProduction()), // Recover from panics (no stack trace in prod)
		middleware.RequestID(),                       // Add request ID early
		middleware.CORS(&cfg.CORS),                   // CORS with config
		middleware.BodyLimit(cfg.Server.MaxBodySize), // Limit request body size
		middleware.Decompress(middleware.DefaultDecompressConfig()), // Transparent gzip/zstd request bodies
		middleware.Timeout(cfg.Server.RequestTimeout),               // Per-request timeout
		middleware.Metrics(),                                        // Prometheus metrics
		middleware.LoggerWithConfig(log, middleware.DefaultLoggerConfig()),
	)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	return s
}

// Router returns the router for registering handlers.
func (s *Server) Router() Router {
	return s.router
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *logger.Logger {
	return s.logger
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	// Stop pipeline goroutines only after in-flight requests drained.
	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
