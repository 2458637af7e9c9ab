package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/reviewgate/internal/orchestrator")

// ResultCache stores gate results across runs.
//
// Get reports a miss for anything stale or unreadable. Set and Clear never
// surface storage failures to the gate engine except through Clear's error,
// which only callers managing the cache directly observe.
//
// The Executor calls Set for every result except StatusError: a launch
// failure (missing executable, permission denied) describes the machine
// rather than the project, so it is retried on the next run instead of
// being served from the cache.
type ResultCache interface {
	Get(tool string, args []string, projectPath string) (GateResult, bool)
	Set(tool string, args []string, projectPath string, result GateResult)
	Clear() error
}

// Executor runs one descriptor against a project.
type Executor struct {
	runner  ProcessRunner
	cache   ResultCache
	metrics *Metrics
	logger  *zap.Logger
}

// NewExecutor creates an executor. cache may be nil to run without caching.
func NewExecutor(runner ProcessRunner, cache ResultCache) *Executor {
	return &Executor{
		runner: runner,
		cache:  cache,
		logger: zap.NewNop(),
	}
}

// SetMetrics sets the metrics tracker for this executor.
func (e *Executor) SetMetrics(m *Metrics) {
	e.metrics = m
}

// SetLogger sets the logger for this executor.
func (e *Executor) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	e.logger = l
}

// RunGate runs d against projectPath.
//
// Tool failures, timeouts and launch failures are returned as GateResult
// statuses. The error return is reserved for contract violations: a
// malformed descriptor or a project path that is not a readable directory.
func (e *Executor) RunGate(ctx context.Context, d *Descriptor, projectPath string) (GateResult, error) {
	if err := d.Validate(); err != nil {
		return GateResult{}, err
	}
	if err := ValidateProjectPath(projectPath); err != nil {
		return GateResult{}, err
	}
	result, _ := e.runGate(ctx, d, projectPath)
	return result, nil
}

// runGate assumes d and projectPath were validated. The bool reports a cache hit.
func (e *Executor) runGate(ctx context.Context, d *Descriptor, projectPath string) (GateResult, bool) {
	ctx, span := tracer.Start(ctx, "orchestrator.run_gate")
	defer span.End()
	span.SetAttributes(
		attribute.String("gate.name", d.Name),
		attribute.String("gate.command", d.CommandLine()),
	)

	if e.cache != nil {
		if cached, ok := e.cache.Get(d.Name, d.Args, projectPath); ok {
			span.SetAttributes(attribute.Bool("gate.cache_hit", true), attribute.String("gate.status", string(cached.Status)))
			e.logger.Debug("gate served from cache",
				zap.String("gate", d.Name),
				zap.String("status", string(cached.Status)))
			e.metrics.RecordGate(cached, true)
			return cached, true
		}
	}
	span.SetAttributes(attribute.Bool("gate.cache_hit", false))

	timeout := d.EffectiveTimeout()
	outcome, err := e.runner.Run(ctx, Invocation{
		Command: d.Command,
		Args:    d.Args,
		Dir:     projectPath,
		Env:     d.Env,
		Timeout: timeout,
	})

	// Tool output is reported as text; invalid byte sequences become U+FFFD
	// here so a fresh result and its cached copy are identical.
	result := GateResult{
		Tool:     d.Name,
		Stdout:   strings.ToValidUTF8(outcome.Stdout, "\uFFFD"),
		Stderr:   strings.ToValidUTF8(outcome.Stderr, "\uFFFD"),
		Duration: outcome.Duration,
	}

	switch {
	case err != nil:
		result.Status = StatusError
		result.Stderr = joinOutput(outcome.Stderr, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("gate could not be launched",
			zap.String("gate", d.Name),
			zap.String("command", d.Command),
			zap.Error(err))
	case outcome.TimedOut:
		result.Status = StatusTimedOut
		e.logger.Warn("gate timed out",
			zap.String("gate", d.Name),
			zap.Duration("timeout", timeout),
			zap.Duration("duration", outcome.Duration))
	default:
		result.ExitCode = intPtr(outcome.ExitCode)
		if d.Predicate.Evaluate(outcome.ExitCode, outcome.Stdout, outcome.Stderr) {
			result.Status = StatusPassed
		} else {
			result.Status = StatusFailed
		}
		e.logger.Debug("gate finished",
			zap.String("gate", d.Name),
			zap.String("status", string(result.Status)),
			zap.Int("exit_code", outcome.ExitCode),
			zap.Duration("duration", outcome.Duration))
	}

	if result.Status != StatusPassed {
		result.Recovery = d.Recovery
	}

	span.SetAttributes(
		attribute.String("gate.status", string(result.Status)),
		attribute.Int64("gate.duration_ms", result.Duration.Milliseconds()),
	)
	e.metrics.RecordGate(result, false)

	// A launch failure describes the machine, not the project, so it is not cached.
	if e.cache != nil && result.Status != StatusError {
		e.cache.Set(d.Name, d.Args, projectPath, result)
	}
	return result, false
}

// ValidateProjectPath checks that path is an existing, readable directory.
func ValidateProjectPath(path string) error {
	if path == "" {
		return &ContractError{Err: ErrInvalidProjectPath, Reason: "path is empty"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &ContractError{Err: ErrInvalidProjectPath, Reason: err.Error()}
	}
	if !info.IsDir() {
		return &ContractError{Err: ErrInvalidProjectPath, Reason: fmt.Sprintf("%s is not a directory", path)}
	}
	f, err := os.Open(path)
	if err != nil {
		return &ContractError{Err: ErrInvalidProjectPath, Reason: err.Error()}
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return &ContractError{Err: ErrInvalidProjectPath, Reason: err.Error()}
	}
	return nil
}

func joinOutput(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
