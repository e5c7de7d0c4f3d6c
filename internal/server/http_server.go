package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/voicerelay/internal/config"
	"github.com/Tyrowin/voicerelay/internal/metrics"
)

// Server bundles the hub with the HTTP server that feeds it.
type Server struct {
	cfg        *config.Config
	hub        *Hub
	httpServer *http.Server
}

// New creates a Server for cfg. appMetrics may be nil.
func New(cfg *config.Config, appMetrics *metrics.AppMetrics) *Server {
	hub := NewHub(cfg, appMetrics)
	return &Server{
		cfg:        cfg,
		hub:        hub,
		httpServer: CreateServer(cfg.ListenAddress, SetupRoutes(hub, cfg)),
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler, for serving from a test server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// StartHub starts the hub event loop in its own goroutine. It must be called
// before connections are accepted.
func (s *Server) StartHub() {
	go s.hub.Run()
	log.Infof("hub started and ready to manage WebSocket connections")
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := StartServer(s.httpServer)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, then closes every client and waits
// for the hub to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs error

	if err := ShutdownServer(ctx, s.httpServer); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := s.hub.Shutdown(s.cfg.ShutdownTimeout); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("hub: %w", err))
	}

	return errs
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// Timeouts cover the handshake only; upgraded connections manage their own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
func StartServer(server *http.Server) error {
	log.Infof("server listening on %s", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
func ShutdownServer(ctx context.Context, server *http.Server) error {
	log.Infof("shutting down HTTP server...")

	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
		return err
	}

	log.Infof("HTTP server shutdown completed")
	return nil
}
