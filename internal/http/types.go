// Package http provides the watch-mode status API.
package http

import "time"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string      `json:"status"` // "idle", "running", "passing", "failing" or "error"
	Version   string      `json:"version,omitempty"`
	Project   string      `json:"project"`
	Runs      int         `json:"runs"`
	Running   bool        `json:"running"`
	Gates     int         `json:"gates,omitempty"` // gates in the current run
	LastRun   *RunSummary `json:"last_run,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// RunSummary describes the most recent finished run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Policy     string        `json:"policy"`
	Overall    string        `json:"overall"`
	DurationMS int64         `json:"duration_ms"`
	CacheHits  int           `json:"cache_hits"`
	FinishedAt time.Time     `json:"finished_at"`
	Gates      []GateSummary `json:"gates"`
}

// GateSummary is one gate of a RunSummary.
type GateSummary struct {
	Tool       string `json:"tool"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}
