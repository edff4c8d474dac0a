package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackzampolin/ocrpdf/internal/api"
	"github.com/jackzampolin/ocrpdf/internal/config"
	"github.com/jackzampolin/ocrpdf/internal/home"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/server/endpoints"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

// limiterResetInterval bounds how long per-client rate state is kept.
const limiterResetInterval = 5 * time.Minute

// Server is the ocrpdf HTTP server.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger
	guard      *guard

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: server.host from config)
	Host string
	// Port is the port to listen on (default: server.port from config)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the ocrpdf home directory (scratch space, stale workspace cleanup)
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
	// Rasterizer overrides the PDF rasterizer (tests)
	Rasterizer loader.Rasterizer
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := cfg.ConfigManager.Get()
	if cfg.Host == "" {
		cfg.Host = c.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = strconv.Itoa(c.Server.Port)
	}

	services, err := BuildServices(ServicesConfig{
		Config:     cfg.ConfigManager,
		Home:       cfg.Home,
		Logger:     cfg.Logger,
		Rasterizer: cfg.Rasterizer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
		guard:     newGuard(c.Server),
		services:  services,
	}

	// Watch for config changes
	prev := c
	cfg.ConfigManager.OnChange(func(next *config.Config) {
		reload(services, prev, next)
		prev = next
	})

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{MaxUploadBytes: c.MaxUploadBytes()}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	// Writes cover the whole OCR run, so they get the request timeout plus
	// slack to flush the document.
	writeTimeout := 2 * time.Minute
	if c.Server.RequestTimeout > 0 {
		writeTimeout = c.Server.RequestTimeout + 30*time.Second
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler wraps mux with the server's middleware chain.
func (s *Server) Handler(mux http.Handler) http.Handler {
	return withRequestID(withLogging(s.logger, withRecovery(s.logger, s.withServices(mux))))
}

// Start starts the server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	// Workspaces from a crashed process are never cleaned up otherwise.
	if s.home != nil && s.configMgr.Get().Server.ScratchDir == "" {
		if n, err := s.home.CleanScratch(); err != nil {
			s.logger.Warn("failed to clean scratch directory", "error", err)
		} else if n > 0 {
			s.logger.Info("removed stale workspaces", "count", n)
		}
	}

	go s.resetLimiters(ctx)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"addr", s.httpServer.Addr,
			"mode", s.services.Pipeline.Mode(),
			"dpi", s.services.Pipeline.DPI(),
			"engine", s.services.Pipeline.DefaultEngine(),
			"device", s.services.Device.Name())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

func (s *Server) resetLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterResetInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.guard.resetLimiters()
		}
	}
}

// shutdown drains in-flight requests. Each request removes its own
// workspace and releases its device lease on the way out.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	stats := s.services.Device.Stats()
	if stats.Active != 0 {
		s.logger.Warn("device leases still held at shutdown", "active", stats.Active)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Services returns the wired services.
func (s *Server) Services() *svcctx.Services {
	return s.services
}

// HTTPHandler returns the full handler, for use with httptest.
func (s *Server) HTTPHandler() http.Handler {
	return s.httpServer.Handler
}
