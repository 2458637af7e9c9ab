package http

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// Tracker records run progress for the status endpoint. A nil Tracker
// ignores every call.
type Tracker struct {
	project string
	version string
	now     func() time.Time

	mu      sync.Mutex
	runs    int
	running bool
	gates   int
	last    *RunSummary
	lastErr error
}

// NewTracker creates a tracker for project.
func NewTracker(project, version string) *Tracker {
	return &Tracker{project: project, version: version, now: time.Now}
}

// Started marks a run of gates gates as in progress.
func (t *Tracker) Started(gates int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	t.running = true
	t.gates = gates
}

// Finished records a run's outcome. outcome may be nil when err is a
// contract violation.
func (t *Tracker) Finished(outcome *orchestrator.AggregateOutcome, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.lastErr = err
	if outcome == nil {
		return
	}

	summary := &RunSummary{
		RunID:      outcome.RunID,
		Policy:     string(outcome.Policy),
		Overall:    string(outcome.Overall),
		DurationMS: outcome.Duration.Milliseconds(),
		CacheHits:  len(outcome.CacheHits),
		FinishedAt: t.now().UTC(),
		Gates:      make([]GateSummary, 0, len(outcome.Results)),
	}
	for _, r := range outcome.Results {
		summary.Gates = append(summary.Gates, GateSummary{
			Tool:       r.Tool,
			Status:     string(r.Status),
			DurationMS: r.Duration.Milliseconds(),
		})
	}
	t.last = summary
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() StatusResponse {
	if t == nil {
		return StatusResponse{Status: "idle"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	resp := StatusResponse{
		Version: t.version,
		Project: t.project,
		Runs:    t.runs,
		Running: t.running,
		LastRun: t.last,
	}
	if t.running {
		resp.Gates = t.gates
	}
	if t.lastErr != nil {
		resp.LastError = t.lastErr.Error()
	}

	switch {
	case t.running:
		resp.Status = "running"
	case t.lastErr != nil:
		resp.Status = "error"
	case t.last == nil:
		resp.Status = "idle"
	case t.last.Overall == string(orchestrator.OverallAllPassed):
		resp.Status = "passing"
	default:
		resp.Status = "failing"
	}
	return resp
}
