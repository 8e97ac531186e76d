// Package api exposes the health-series HTTP surface on gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/johnayoung/go-health-series/internal/gaps"
	"github.com/johnayoung/go-health-series/internal/generator"
	"github.com/johnayoung/go-health-series/internal/metrics"
	"github.com/johnayoung/go-health-series/internal/query"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// Dependencies are the services the handlers call.
type Dependencies struct {
	Store     storage.FullStorage
	Query     *query.Service
	Detector  gaps.GapDetector
	Generator *generator.Generator
	Metrics   *metrics.MetricsCollector
}

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	deps    Dependencies
	cfg     config.ServerConfig
	engine  *gin.Engine
	http    *http.Server
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

// NewServer builds the router. metricsCfg decides whether the Prometheus
// exposition route is mounted.
func NewServer(cfg config.ServerConfig, metricsCfg config.MetricsConfig, deps Dependencies) (*Server, error) {
	if deps.Store == nil || deps.Query == nil {
		return nil, errors.New("api server requires a store and a query service")
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	limit := rate.Limit(cfg.GenerateRateLimit)
	if cfg.GenerateRateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.GenerateBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		engine:  gin.New(),
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		logger:  slog.Default().With("component", "api"),
	}

	s.engine.Use(
		gin.Recovery(),
		corsMiddleware(cfg.CORSAllowedOrigins),
		RequestIDMiddleware(),
		s.loggingMiddleware(),
		s.metricsMiddleware(),
	)
	s.routes(metricsCfg)

	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.engine,
		ReadTimeout:  config.ParseDurationOr(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: config.ParseDurationOr(cfg.WriteTimeout, 60*time.Second),
	}
	return s, nil
}

func (s *Server) routes(metricsCfg config.MetricsConfig) {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", s.handleMetrics)
	s.engine.GET("/users", s.handleUsers)
	s.engine.GET("/data", s.handleData)
	s.engine.GET("/gaps", s.handleGaps)
	s.engine.POST("/generate-data", s.rateLimit(), s.handleGenerate)
	s.engine.POST("/enroll-user", s.handleEnroll)
	s.engine.GET("/enrolled-users", s.handleEnrolledUsers)
	s.engine.DELETE("/users/:user_id", s.handleDeleteUser)

	if metricsCfg.Enabled && s.deps.Metrics != nil {
		path := metricsCfg.Path
		if path == "" {
			path = "/internal/metrics"
		}
		s.engine.GET(path, gin.WrapH(s.deps.Metrics.Handler()))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "address", s.cfg.Address)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
