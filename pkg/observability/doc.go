// Package observability provides the operational toolkit shared by every
// GradeKeep service: structured JSON logging (slog), Prometheus metrics,
// health probes, and graceful shutdown.
//
// Logging uses a thin wrapper over log/slog with WithField/WithError chaining:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal_id", id).Info("role assigned")
//
// Metrics are created once against a prometheus.Registry and passed down:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//
// Health probes (/health, /health/live, /health/ready) are served on a
// dedicated port so load balancers never contend with API traffic.
package observability
