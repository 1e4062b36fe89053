// Package config loads creatorstats configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file (CREATORSTATS_CONFIG_FILE or the -config flag), then CREATORSTATS_*
// environment variables. The result is validated before use.
//
// Ops server:
//
//	CREATORSTATS_HOST="0.0.0.0"
//	CREATORSTATS_PORT="9090"
//	CREATORSTATS_SHUTDOWN_TIMEOUT="30s"
//
// Database:
//
//	CREATORSTATS_POSTGRES_URL="postgres://localhost/creatorstats"
//	CREATORSTATS_POSTGRES_REPLICA_URLS="postgres://replica1/creatorstats,postgres://replica2/creatorstats"
//	CREATORSTATS_POSTGRES_MAX_CONNS="20"
//	CREATORSTATS_POSTGRES_AUTO_MIGRATE="true"
//
// Report cache:
//
//	CREATORSTATS_CACHE_BACKEND="memory"  # memory, redis, none
//	CREATORSTATS_CACHE_TTL="10m"
//	CREATORSTATS_REDIS_URL="redis://localhost:6379/0"
//
// Scheduler:
//
//	CREATORSTATS_HOURLY_INTERVAL="1h"
//	CREATORSTATS_DAILY_AT="02:15"
//	CREATORSTATS_TIMEZONE="Europe/Berlin"  # empty means local time
//	CREATORSTATS_ROLLUP_CONCURRENCY="1"
//
// Observability:
//
//	CREATORSTATS_LOG_LEVEL="info"  # debug, info, warn, error
//	CREATORSTATS_OTEL_ENABLED="true"
//	CREATORSTATS_OTEL_ENDPOINT="otel-collector:4317"
//
// The YAML file uses the same structure in snake_case:
//
//	cache:
//	  backend: redis
//	  redis_url: redis://cache:6379/0
//	scheduler:
//	  daily_at: "03:00"
//	  timezone: UTC
package config
