// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("category", "user_features").Info("feature written")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("publish failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveOperation(observability.OpWriteItem, "bright_uid", "success", start)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.Register("dynamodb", true, dynamoCheck)
//	checker.RegisterRedis(redisClient)
//
// A failing required dependency reports unhealthy (503); an optional one
// only degrades the status.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/httputil: request logging and recovery middleware
package observability
