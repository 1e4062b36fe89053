// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("rollup complete")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveSchedulerRun("hourly", elapsed, err)
//
// A nil *Metrics is accepted everywhere and records nothing, which keeps
// tests free of registry plumbing.
//
// # Tracing
//
//	tp, err := observability.InitOTel(ctx, observability.OTelConfig{...}, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
//	ctx, span := observability.Tracer().Start(ctx, "analytics.Rollup")
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/scheduler: uses CronLogger and RecoverPanic
package observability
