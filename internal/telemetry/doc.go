// Package telemetry wires OpenTelemetry tracing and metrics export for
// reviewgate.
//
// Telemetry is off by default. When enabled, spans from the orchestrator
// and gate executor, plus per-run gate instruments, are exported over OTLP
// (gRPC by default, or HTTP/protobuf):
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling_rate: 1.0
//
// Telemetry failures never fail a run. If an exporter cannot be created the
// instance is marked degraded and falls back to the global no-op providers.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
