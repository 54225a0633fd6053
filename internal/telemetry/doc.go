// Package telemetry provides OpenTelemetry tracing, metrics and log export
// for ragd.
//
// ragd packages create their tracers and meters from the otel globals at
// init time. New installs its providers as those globals, so enabling
// telemetry needs no change in the instrumented packages:
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	defer tel.Shutdown(context.Background())
//
// Spans cover ingest, query, retrieval and generation. Log export goes
// through the otelzap bridge configured in package logging.
package telemetry
