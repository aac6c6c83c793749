// Package api hosts the local OpenAI-compatible HTTP server. Hosts that cannot
// inject a custom http.RoundTripper point their SDK at this server instead.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodexBridge/internal/api/handlers"
	"github.com/router-for-me/CodexBridge/internal/api/handlers/openai"
	"github.com/router-for-me/CodexBridge/internal/api/middleware"
	"github.com/router-for-me/CodexBridge/internal/buildinfo"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/logging"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Backend is what the server needs from the provider.
type Backend interface {
	handlers.Backend
	IsAuthenticated() bool
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	backend Backend
	metrics *metrics.Collector
	cfg     atomic.Pointer[config.Config]
}

// NewServer builds the router. collector may be nil.
func NewServer(cfg *config.Config, backend Backend, collector *metrics.Collector) *Server {
	s := &Server{
		engine:  gin.New(),
		backend: backend,
		metrics: collector,
	}
	s.cfg.Store(cfg)
	s.engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", s.serveMetrics)

	openaiHandlers := openai.NewOpenAIAPIHandler(s.backend)
	v1 := s.engine.Group("/v1")
	v1.Use(middleware.APIKeyAuth(s.apiKeys))
	{
		v1.GET("/models", openaiHandlers.OpenAIModels)
		v1.POST("/responses", openaiHandlers.Responses)
		v1.POST("/responses/input_tokens", openaiHandlers.InputTokens)
		v1.POST("/chat/completions", openaiHandlers.ChatCompletions)
	}
	s.engine.NoRoute(func(c *gin.Context) {
		handlers.WriteError(c, http.StatusNotFound, fmt.Sprintf("unknown route %s %s", c.Request.Method, c.Request.URL.Path))
	})
}

func (s *Server) health(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"authenticated": s.backend.IsAuthenticated(),
		"version":       buildinfo.Version,
	})
}

func (s *Server) serveMetrics(c *gin.Context) {
	if s.metrics == nil || !s.cfg.Load().MetricsEnabled {
		c.Status(http.StatusNotFound)
		return
	}
	logging.SkipGinRequestLogging(c)
	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) apiKeys() []string {
	return s.cfg.Load().APIKeys
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// UpdateConfig applies a reloaded configuration. API keys and the metrics
// switch take effect on the next request; the listen address does not change.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	old := s.cfg.Swap(cfg)
	if old != nil && (old.Host != cfg.Host || old.Port != cfg.Port) {
		log.Warnf("listen address change to %s requires a restart", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	}
	log.Debugf("api server config updated: %d api keys", len(cfg.APIKeys))
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Infof("API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	log.Info("API server stopped")
	return nil
}
