package http

import (
	"time"

	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/runs"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IngestRequest is the request body for POST /api/v1/tenants/:tenant/ingest.
type IngestRequest struct {
	BaseURL  string `json:"base_url"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// IngestResponse acknowledges an accepted ingestion job.
type IngestResponse struct {
	TenantID   string `json:"tenant_id"`
	Mode       string `json:"mode"`
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// Ingestion modes reported in IngestResponse.
const (
	ModeScheduled = "scheduled"
	ModeInProcess = "in_process"
)

// SearchResponse is the response body for GET /api/v1/tenants/:tenant/search.
type SearchResponse struct {
	TenantID string             `json:"tenant_id"`
	Query    string             `json:"query"`
	Results  []retriever.Result `json:"results"`
}

// StatusResponse is the response body for GET /api/v1/tenants/:tenant/status.
type StatusResponse struct {
	TenantID string     `json:"tenant_id"`
	Count    int        `json:"count"`
	Training bool       `json:"training"`
	LastRun  *RunStatus `json:"last_run,omitempty"`
}

// RunStatus describes the latest ingestion run.
type RunStatus struct {
	ID        string      `json:"id"`
	State     runs.State  `json:"state"`
	BaseURL   string      `json:"base_url"`
	Counts    runs.Counts `json:"counts"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}
