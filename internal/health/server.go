// Package health serves the keep-alive, health and metrics endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPortAttempts is how many consecutive ports Start tries
const DefaultPortAttempts = 5

// Checker reports the health of a dependency
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Config describes the keep-alive server
type Config struct {
	BotName      string
	Environment  string
	Port         int
	PortAttempts int
}

// Server is the keep-alive HTTP server
type Server struct {
	logger  *slog.Logger
	cfg     Config
	checker Checker
	engine  *gin.Engine
	started time.Time
	now     func() time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer builds the router. checker and gatherer may be nil.
func NewServer(logger *slog.Logger, cfg Config, checker Checker, gatherer prometheus.Gatherer) *Server {
	if cfg.PortAttempts <= 0 {
		cfg.PortAttempts = DefaultPortAttempts
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		logger:  logger,
		cfg:     cfg,
		checker: checker,
		engine:  engine,
		started: time.Now(),
		now:     time.Now,
	}

	engine.GET("/", s.handleAlive)
	engine.GET("/healthz", s.handleHealth)
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleAlive(c *gin.Context) {
	now := s.now()
	c.JSON(http.StatusOK, gin.H{
		"status":      "alive",
		"bot":         s.cfg.BotName,
		"timestamp":   now.UTC().Format(time.RFC3339),
		"message":     "Bot is running and checking for mentions",
		"uptime":      now.Sub(s.started).Seconds(),
		"environment": s.cfg.Environment,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.checker != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := s.checker.HealthCheck(ctx); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Start listens on the configured port, moving to the next port while the
// current one is in use, and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("keep-alive server already started")
	}

	listener, err := s.listen()
	if err != nil {
		return err
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Keep-alive server running", "addr", listener.Addr().String())

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Keep-alive server stopped", "error", err)
		}
	}(s.server)

	return nil
}

func (s *Server) listen() (net.Listener, error) {
	port := s.cfg.Port
	var lastErr error

	for attempt := 0; attempt < s.cfg.PortAttempts; attempt++ {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return listener, nil
		}
		lastErr = err

		if !errors.Is(err, syscall.EADDRINUSE) || port == 0 {
			break
		}
		s.logger.Warn("Port busy, trying next", "port", port, "next_port", port+1)
		port++
	}

	return nil, fmt.Errorf("could not bind keep-alive server after %d attempts from port %d: %w",
		s.cfg.PortAttempts, s.cfg.Port, lastErr)
}

// Addr returns the bound address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
