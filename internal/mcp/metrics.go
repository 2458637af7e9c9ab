package mcp

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

const instrumentationName = "github.com/fyrsmithlabs/reviewgate/internal/mcp"

// resultOK is the result attribute of a call that returned no error.
const resultOK = "ok"

// Metrics records MCP tool calls and, for run_gates, the gate outcomes
// the client was handed.
//
// Call instruments carry {tool, result}; result is "ok" or an error
// category. Gate instruments carry {gate, status, cached} and run
// instruments carry {policy, overall, review_allowed}.
type Metrics struct {
	meter  metric.Meter
	logger *zap.Logger

	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	gates    metric.Int64Counter
	runs     metric.Int64Counter
}

// NewMetrics creates metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.calls, err = m.meter.Int64Counter(
		"reviewgate.mcp.calls_total",
		metric.WithDescription("MCP tool calls by tool and result"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn("failed to create calls counter", zap.Error(err))
	}

	// Gate runs take seconds to minutes, unlike list/clear calls.
	m.duration, err = m.meter.Float64Histogram(
		"reviewgate.mcp.call.duration_seconds",
		metric.WithDescription("Duration of MCP tool calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inFlight, err = m.meter.Int64UpDownCounter(
		"reviewgate.mcp.calls_in_flight",
		metric.WithDescription("MCP tool calls currently executing"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn("failed to create in-flight gauge", zap.Error(err))
	}

	m.gates, err = m.meter.Int64Counter(
		"reviewgate.mcp.run_gates.gates_total",
		metric.WithDescription("Gate results returned by run_gates, by gate, status and cache source"),
		metric.WithUnit("{gate}"),
	)
	if err != nil {
		m.logger.Warn("failed to create gates counter", zap.Error(err))
	}

	m.runs, err = m.meter.Int64Counter(
		"reviewgate.mcp.run_gates.runs_total",
		metric.WithDescription("Completed run_gates calls by policy and overall status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}
}

// call is one in-flight tool call. end must be called exactly once.
type call struct {
	m     *Metrics
	ctx   context.Context
	tool  string
	start time.Time
	run   []attribute.KeyValue
}

// begin marks a tool call as in flight.
func (m *Metrics) begin(ctx context.Context, tool string) *call {
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
	return &call{m: m, ctx: ctx, tool: tool, start: time.Now()}
}

// observeRun counts every gate of a finished run and tags the call's
// duration with the run's policy and overall status.
func (c *call) observeRun(outcome *orchestrator.AggregateOutcome) {
	if outcome == nil {
		return
	}
	c.run = []attribute.KeyValue{
		attribute.String("policy", string(outcome.Policy)),
		attribute.String("overall", string(outcome.Overall)),
	}
	m := c.m
	if m.gates != nil {
		for _, r := range outcome.Results {
			m.gates.Add(c.ctx, 1, metric.WithAttributes(
				attribute.String("gate", r.Tool),
				attribute.String("status", string(r.Status)),
				attribute.Bool("cached", slices.Contains(outcome.CacheHits, r.Tool)),
			))
		}
	}
	if m.runs != nil {
		m.runs.Add(c.ctx, 1, metric.WithAttributes(append(c.run,
			attribute.Bool("review_allowed", outcome.ReviewAllowed()),
		)...))
	}
}

// end records the call with its result category.
func (c *call) end(err error) {
	m := c.m
	if m.inFlight != nil {
		m.inFlight.Add(c.ctx, -1, metric.WithAttributes(attribute.String("tool", c.tool)))
	}
	attrs := []attribute.KeyValue{
		attribute.String("tool", c.tool),
		attribute.String("result", categorizeError(err)),
	}
	if m.calls != nil {
		m.calls.Add(c.ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(c.ctx, time.Since(c.start).Seconds(), metric.WithAttributes(append(attrs, c.run...)...))
	}
}

func categorizeError(err error) string {
	if err == nil {
		return resultOK
	}
	switch {
	case orchestrator.IsContractError(err):
		return "contract_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "unknown tool") || strings.Contains(errStr, "invalid"):
		return "validation_error"
	case strings.Contains(errStr, "cache"):
		return "cache_error"
	default:
		return "internal_error"
	}
}
