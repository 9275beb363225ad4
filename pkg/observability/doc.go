// Package observability provides structured logging, Prometheus metrics, health
// checks, and OpenTelemetry tracing for deskbridge.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("external_org_id", orgID).Info("account provisioned")
//
// # Prometheus Metrics
//
// Initialize metrics against a registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.WebhookEventsTotal.WithLabelValues("organization.created", "ok").Inc()
//
// # Health Checks
//
// Configure the health checker with the mapping database and (optionally) the
// cache Redis client:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	mux.HandleFunc("/health/live", checker.Liveness)
//	mux.HandleFunc("/health/ready", checker.Readiness)
package observability
