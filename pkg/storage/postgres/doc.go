// Package postgres implements the analytics ports on PostgreSQL.
//
// MetricStore owns daily_content_metrics and writes every snapshot with
// INSERT ... ON CONFLICT DO UPDATE on (tenant_id, content_type, content_id, day).
// EventSource, OwnershipStore and SubscriptionStore only read tables owned by
// other systems.
//
// Writes go to the primary. Reads are spread over replicas by the
// ConnectionManager and fall back to the primary when none are configured.
//
//	cm, err := postgres.NewConnectionManager(cfg, logger)
//	if err := postgres.RunMigrations(ctx, cm.Primary(), logger); err != nil { ... }
//	store := postgres.NewMetricStore(cm)
package postgres
