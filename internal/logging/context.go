package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type projectCtxKey struct{}
type gateCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if project := ProjectFromContext(ctx); project != "" {
		fields = append(fields, zap.String("project.path", project))
	}
	if gate := GateFromContext(ctx); gate != "" {
		fields = append(fields, zap.String("gate.name", gate))
	}
	return fields
}

// WithRunID adds the run identifier to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the run identifier from context.
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithProject adds the project path to context.
func WithProject(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, projectCtxKey{}, path)
}

// ProjectFromContext extracts the project path from context.
func ProjectFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(projectCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithGate adds the gate name to context.
func WithGate(ctx context.Context, gate string) context.Context {
	return context.WithValue(ctx, gateCtxKey{}, gate)
}

// GateFromContext extracts the gate name from context.
func GateFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(gateCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
