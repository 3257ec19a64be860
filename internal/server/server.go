// Package server exposes the read-only HTTP API for inspecting the running
// bot: liveness, runtime status, completed trades, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwdevries/snipebot/internal/server/handler"
	"github.com/jwdevries/snipebot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port      int
	AuthToken string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Status *handler.StatusHandler
	Trades *handler.TradesHandler
}

// Server is the read-only HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Bearer-token auth,
// when configured, gates /api/* only; /metrics stays open for scrapers.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/health", handlers.Status.HealthCheck)
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)

	root := http.NewServeMux()
	root.Handle("/api/", middleware.Auth(cfg.AuthToken)(api))
	root.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = root
	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
