// Package logging provides structured logging for ragd.
//
// It wraps Zap with:
//   - a Trace level below Debug
//   - stderr output plus an optional OpenTelemetry bridge
//   - correlation fields read from the context (trace, request, conversation)
//   - redaction of sensitive keys and credential-shaped values
//   - per-level sampling that never drops errors
//
// Components receive the *zap.Logger from Underlying. Entry points that
// hold a request context use the context-aware methods:
//
//	cfg, err := logging.FromSettings(settings.Logging, settings.Telemetry.Enabled)
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, id)
//	logger.Info(ctx, "query answered", zap.Duration("duration", d))
//
// Logs go to stderr because stdout carries the MCP stdio transport and the
// answers printed by the CLI.
package logging
