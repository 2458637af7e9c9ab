package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// RunRecorder exports run and gate outcomes as OTEL instruments.
type RunRecorder struct {
	runs         metric.Int64Counter
	gates        metric.Int64Counter
	gateDuration metric.Float64Histogram
	cacheHits    metric.Int64Counter
}

// NewRunRecorder creates the instruments on meter.
func NewRunRecorder(meter metric.Meter) (*RunRecorder, error) {
	runs, err := meter.Int64Counter("reviewgate.runs",
		metric.WithDescription("Orchestration runs by policy and overall status"))
	if err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	gates, err := meter.Int64Counter("reviewgate.gates",
		metric.WithDescription("Gate results by tool and status"))
	if err != nil {
		return nil, fmt.Errorf("create gates counter: %w", err)
	}
	gateDuration, err := meter.Float64Histogram("reviewgate.gate.duration",
		metric.WithDescription("Gate wall-clock duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create gate duration histogram: %w", err)
	}
	cacheHits, err := meter.Int64Counter("reviewgate.cache.hits",
		metric.WithDescription("Gate results served from the result cache"))
	if err != nil {
		return nil, fmt.Errorf("create cache hits counter: %w", err)
	}
	return &RunRecorder{runs: runs, gates: gates, gateDuration: gateDuration, cacheHits: cacheHits}, nil
}

// Record adds one finished run. Safe on a nil recorder or outcome.
func (r *RunRecorder) Record(ctx context.Context, outcome *orchestrator.AggregateOutcome) {
	if r == nil || outcome == nil {
		return
	}
	r.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", string(outcome.Policy)),
		attribute.String("overall", string(outcome.Overall)),
	))
	for _, res := range outcome.Results {
		attrs := metric.WithAttributes(
			attribute.String("tool", res.Tool),
			attribute.String("status", string(res.Status)),
		)
		r.gates.Add(ctx, 1, attrs)
		if res.Status != orchestrator.StatusSkipped {
			r.gateDuration.Record(ctx, res.Duration.Seconds(), attrs)
		}
	}
	if len(outcome.CacheHits) > 0 {
		r.cacheHits.Add(ctx, int64(len(outcome.CacheHits)))
	}
}
