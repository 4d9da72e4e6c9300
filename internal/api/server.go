// Package api exposes a small read-only status server for operators
// and dashboards. It never places or cancels orders.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/logging"
)

// StatusSource is the runtime surface the server reads from.
type StatusSource interface {
	Snapshot() map[string]interface{}
	SignalState() string
}

// Server serves the status endpoints.
type Server struct {
	cfg    *config.Config
	source StatusSource
	router *gin.Engine
	http   *http.Server
	logger *logging.Logger
}

// NewServer builds the router and its routes.
func NewServer(cfg *config.Config, source StatusSource) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		cfg:    cfg,
		source: source,
		router: router,
		logger: logging.WithComponent("api"),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/signal", s.handleSignal)
		api.GET("/config", s.handleConfig)
		api.GET("/ratelimit", s.handleRateLimit)
	}
}

// Start runs the server in the background. Failures after startup are
// logged, not fatal; the bot trades without its status surface.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Status API listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status API stopped", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if s.http == nil {
		return
	}
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("Status API shutdown error", "error", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleSignal(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": s.source.SignalState(),
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Redacted())
}

func (s *Server) handleRateLimit(c *gin.Context) {
	c.JSON(http.StatusOK, binance.GetRateLimiter().GetStatus())
}
