// Package http provides the siteindex HTTP API: ingestion triggers,
// retrieval, tenant status and removal.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/siteindex/internal/ingest"
	"github.com/fyrsmithlabs/siteindex/internal/logging"
	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/runs"
	"github.com/fyrsmithlabs/siteindex/internal/workflows"
)

// Searcher answers retrieval calls.
type Searcher interface {
	FindSimilar(ctx context.Context, tenantID, query string, topK int, minSimilarity float64) ([]retriever.Result, error)
	Invalidate(ctx context.Context, tenantID string) error
}

// IndexAdmin reports and removes tenant indexes.
type IndexAdmin interface {
	Count(ctx context.Context, tenantID string) (int, error)
	Delete(ctx context.Context, tenantID string) error
}

// Scheduler submits ingestion jobs to the durable job scheduler.
type Scheduler interface {
	Submit(ctx context.Context, input workflows.JobInput) (*workflows.Execution, error)
	// Cancel stops the tenant's running job. A tenant without one is not
	// an error.
	Cancel(ctx context.Context, tenantID string) error
}

// Runner executes ingestion jobs in-process.
type Runner interface {
	Run(ctx context.Context, job ingest.Job) (*ingest.RunResult, error)
}

// RunLookup returns the most recent ingestion run of a tenant.
type RunLookup interface {
	Latest(tenantID string) (runs.Run, bool)
}

// HealthChecker reports backend reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the services behind the API. Searcher and Index are required.
// When Scheduler is nil, ingestion runs in-process on Runner.
type Deps struct {
	Searcher  Searcher
	Index     IndexAdmin
	Scheduler Scheduler
	Runner    Runner
	Runs      RunLookup
	// Health is optional. When set, /health reports 503 while it fails.
	Health HealthChecker
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	DefaultTopK     int
	DefaultMinScore float64
	DefaultMaxPages int
}

// Server provides HTTP endpoints for siteindex.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
	prom    *promMetrics

	// In-process ingestion state. baseCtx outlives requests and is
	// cancelled on Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	mu         sync.Mutex
	active     map[string]*activeRun
	wg         sync.WaitGroup
}

// activeRun is an in-process ingestion. done closes when Run returns.
type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Searcher == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if deps.Scheduler == nil && deps.Runner == nil {
		return nil, fmt.Errorf("either scheduler or runner is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = retriever.DefaultTopK
	}
	if cfg.DefaultMinScore == 0 {
		cfg.DefaultMinScore = retriever.DefaultMinSimilarity
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = ingest.DefaultMaxPages
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request", append(logging.ContextFields(c.Request().Context()),
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)...)

			return err
		}
	})

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:       e,
		deps:       deps,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
		prom:       newPromMetrics(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		active:     make(map[string]*activeRun),
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	tenants := v1.Group("/tenants/:tenant")
	tenants.POST("/ingest", s.handleIngest)
	tenants.GET("/search", s.handleSearch)
	tenants.GET("/status", s.handleStatus)
	tenants.DELETE("", s.handleDeleteTenant)
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleHealth reports whether the index backend is reachable.
func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.Health != nil {
		if err := s.deps.Health.Health(c.Request().Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, cancels in-process ingestion and
// waits for it to unwind.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	err := s.echo.Shutdown(ctx)
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("in-process ingestion still running at shutdown deadline")
	}
	return err
}
