package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/siteindex/internal/ingest"
	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"github.com/fyrsmithlabs/siteindex/internal/workflows"
)

// maxTopK caps the k query parameter.
const maxTopK = 50

// handleIngest accepts an ingestion job for the tenant. With a scheduler the
// job is submitted and runs durably; otherwise it runs in-process, one at a
// time per tenant.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	job := ingest.Job{
		TenantID: c.Param("tenant"),
		BaseURL:  strings.TrimSpace(req.BaseURL),
		MaxPages: req.MaxPages,
	}
	if job.MaxPages == 0 {
		job.MaxPages = s.config.DefaultMaxPages
	}
	if err := job.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if s.deps.Scheduler != nil {
		exec, err := s.deps.Scheduler.Submit(c.Request().Context(), workflows.JobInput{
			TenantID: job.TenantID,
			BaseURL:  job.BaseURL,
			MaxPages: job.MaxPages,
		})
		if err != nil {
			s.prom.ingestRequests.WithLabelValues(ModeScheduled, "error").Inc()
			s.logger.Error("submitting ingestion job failed",
				zap.String("tenant_id", job.TenantID), zap.Error(err))
			return echo.NewHTTPError(http.StatusServiceUnavailable, "job scheduler unavailable")
		}
		s.prom.ingestRequests.WithLabelValues(ModeScheduled, "accepted").Inc()
		return c.JSON(http.StatusAccepted, IngestResponse{
			TenantID:   job.TenantID,
			Mode:       ModeScheduled,
			WorkflowID: exec.WorkflowID,
			RunID:      exec.RunID,
		})
	}

	if !s.startInProcess(job) {
		s.prom.ingestRequests.WithLabelValues(ModeInProcess, "conflict").Inc()
		return echo.NewHTTPError(http.StatusConflict, "ingestion already running for tenant")
	}
	s.prom.ingestRequests.WithLabelValues(ModeInProcess, "accepted").Inc()
	return c.JSON(http.StatusAccepted, IngestResponse{
		TenantID: job.TenantID,
		Mode:     ModeInProcess,
	})
}

// startInProcess runs job in the background unless the tenant already has
// one running.
func (s *Server) startInProcess(job ingest.Job) bool {
	s.mu.Lock()
	if _, busy := s.active[job.TenantID]; busy {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.active[job.TenantID] = ar
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.active, job.TenantID)
			s.mu.Unlock()
			close(ar.done)
			s.wg.Done()
		}()
		if _, err := s.deps.Runner.Run(ctx, job); err != nil {
			s.logger.Warn("in-process ingestion failed",
				zap.String("tenant_id", job.TenantID), zap.Error(err))
		}
	}()
	return true
}

// stopInProcess cancels the tenant's in-process run, if any, and waits for
// it to return so it cannot promote an index afterwards.
func (s *Server) stopInProcess(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	ar, ok := s.active[tenantID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	ar.cancel()
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleSearch returns the passages of the tenant most similar to q.
func (s *Server) handleSearch(c echo.Context) error {
	tenantID := c.Param("tenant")
	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}

	topK := s.config.DefaultTopK
	if raw := c.QueryParam("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 1 || k > maxTopK {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be an integer in [1, 50]")
		}
		topK = k
	}

	minScore := s.config.DefaultMinScore
	if raw := c.QueryParam("min"); raw != "" {
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil || m < -1 || m > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "min must be a number in [-1, 1]")
		}
		minScore = m
	}

	results, err := s.deps.Searcher.FindSimilar(c.Request().Context(), tenantID, query, topK, minScore)
	if err != nil {
		return s.searchError(tenantID, err)
	}
	if results == nil {
		results = []retriever.Result{}
	}

	return c.JSON(http.StatusOK, SearchResponse{
		TenantID: tenantID,
		Query:    query,
		Results:  results,
	})
}

func (s *Server) searchError(tenantID string, err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrInvalidTenant):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	case errors.Is(err, retriever.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	default:
		s.logger.Error("search failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "retrieval failed")
	}
}

// handleStatus reports the tenant's record count and latest run. A zero
// count means the tenant is still training.
func (s *Server) handleStatus(c echo.Context) error {
	tenantID := c.Param("tenant")
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}

	count, err := s.deps.Index.Count(c.Request().Context(), tenantID)
	if err != nil {
		s.logger.Error("counting tenant records failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "index unavailable")
	}

	resp := StatusResponse{
		TenantID: tenantID,
		Count:    count,
		Training: count == 0,
	}
	if s.deps.Runs != nil {
		if run, ok := s.deps.Runs.Latest(tenantID); ok {
			resp.LastRun = &RunStatus{
				ID:        run.ID,
				State:     run.State,
				BaseURL:   run.BaseURL,
				Counts:    run.Counts,
				Error:     run.Error,
				UpdatedAt: run.UpdatedAt,
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleDeleteTenant stops the tenant's running ingestion, then removes its
// index and cached results.
func (s *Server) handleDeleteTenant(c echo.Context) error {
	tenantID := c.Param("tenant")
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}

	ctx := c.Request().Context()
	if err := s.stopInProcess(ctx, tenantID); err != nil {
		s.logger.Error("stopping tenant ingestion failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ingestion still running")
	}
	if s.deps.Scheduler != nil {
		if err := s.deps.Scheduler.Cancel(ctx, tenantID); err != nil {
			s.logger.Error("cancelling tenant ingestion failed", zap.String("tenant_id", tenantID), zap.Error(err))
			return echo.NewHTTPError(http.StatusServiceUnavailable, "job scheduler unavailable")
		}
	}
	if err := s.deps.Index.Delete(ctx, tenantID); err != nil {
		s.logger.Error("deleting tenant failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "index unavailable")
	}
	if err := s.deps.Searcher.Invalidate(ctx, tenantID); err != nil {
		s.logger.Warn("invalidating tenant cache failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return c.NoContent(http.StatusNoContent)
}
