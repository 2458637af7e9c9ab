// Package logging provides structured logging for reviewgate.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug) used for raw tool output
//   - Stderr and OpenTelemetry outputs
//   - Automatic context field injection (trace_id, run.id, project.path, gate.name)
//   - Key and pattern based redaction
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, outcome.RunID)
//	logger.Info(ctx, "gates complete", zap.String("overall", "partial"))
//
// Engine components take a *zap.Logger; pass Underlying().
//
// # Testing
//
// NewTestLogger records every entry through zaptest/observer:
//
//	tl := logging.NewTestLogger()
//	exec.SetLogger(tl.Underlying())
//	tl.AssertLogged(t, zapcore.WarnLevel, "gate timed out")
package logging
