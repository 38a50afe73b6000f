// Package observability wires OpenTelemetry tracing and metrics for the
// engine.
//
// Setup initializes OTLP/HTTP exporters from the telemetry config:
//
//	shutdown, err := observability.Setup(ctx, cfg.Telemetry, "blockflow", version, env)
//	defer shutdown(ctx)
//
// Block executions are traced as SpanBlockExecute spans and counted by
// Metrics (block runs by status, durations, dynamic children created,
// scheduler requeues).
package observability
