package observability

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rollup and job status labels
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds all Prometheus metrics for the rollup and report pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Scheduler metrics
	SchedulerRunsTotal   *prometheus.CounterVec
	SchedulerRunDuration *prometheus.HistogramVec
	TenantRollupsTotal   *prometheus.CounterVec
	TenantRollupDuration prometheus.Histogram

	// Aggregator metrics
	MetricRowsWrittenTotal prometheus.Counter
	RollupItemsSkipped     *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec
	CacheClearsTotal prometheus.Counter

	// Report metrics
	ReportRequestsTotal *prometheus.CounterVec
	ReportDuration      *prometheus.HistogramVec
	ExportRefusalsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_scheduler_runs_total",
				Help: "Total number of scheduler runs by cadence and status",
			},
			[]string{"cadence", "status"},
		),
		SchedulerRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creatorstats_scheduler_run_duration_seconds",
				Help:    "Scheduler run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
			},
			[]string{"cadence"},
		),
		TenantRollupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_tenant_rollups_total",
				Help: "Total number of per-tenant rollups by cadence and status",
			},
			[]string{"cadence", "status"},
		),
		TenantRollupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "creatorstats_tenant_rollup_duration_seconds",
				Help:    "Per-tenant rollup duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		MetricRowsWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creatorstats_metric_rows_written_total",
				Help: "Total number of daily metric snapshots upserted",
			},
		),
		RollupItemsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_rollup_items_skipped_total",
				Help: "Content items skipped during a rollup by reason",
			},
			[]string{"reason"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_cache_hits_total",
				Help: "Total number of report cache hits",
			},
			[]string{"scope"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_cache_misses_total",
				Help: "Total number of report cache misses",
			},
			[]string{"scope"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_cache_errors_total",
				Help: "Total number of report cache errors by operation",
			},
			[]string{"operation"},
		),
		CacheClearsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creatorstats_cache_clears_total",
				Help: "Total number of wholesale cache clears after rollup writes",
			},
		),
		ReportRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_report_requests_total",
				Help: "Total number of report requests by report and plan",
			},
			[]string{"report", "plan"},
		),
		ReportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creatorstats_report_duration_seconds",
				Help:    "Report build duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"report"},
		),
		ExportRefusalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorstats_export_refusals_total",
				Help: "CSV exports refused because of plan gating",
			},
			[]string{"scope", "plan"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.SchedulerRunsTotal,
			m.SchedulerRunDuration,
			m.TenantRollupsTotal,
			m.TenantRollupDuration,
			m.MetricRowsWrittenTotal,
			m.RollupItemsSkipped,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheErrorsTotal,
			m.CacheClearsTotal,
			m.ReportRequestsTotal,
			m.ReportDuration,
			m.ExportRefusalsTotal,
		)
	}

	return m
}

func status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// ObserveSchedulerRun records one scheduler run
func (m *Metrics) ObserveSchedulerRun(cadence string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SchedulerRunsTotal.WithLabelValues(cadence, status(err)).Inc()
	m.SchedulerRunDuration.WithLabelValues(cadence).Observe(d.Seconds())
}

// ObserveTenantRollup records one tenant rollup inside a scheduler run
func (m *Metrics) ObserveTenantRollup(cadence string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.TenantRollupsTotal.WithLabelValues(cadence, status(err)).Inc()
	m.TenantRollupDuration.Observe(d.Seconds())
}

// AddRowsWritten counts upserted snapshots
func (m *Metrics) AddRowsWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MetricRowsWrittenTotal.Add(float64(n))
}

// IncItemSkipped counts a content item skipped during a rollup
func (m *Metrics) IncItemSkipped(reason string) {
	if m == nil {
		return
	}
	m.RollupItemsSkipped.WithLabelValues(reason).Inc()
}

// IncCacheHit counts a cache hit for a report scope
func (m *Metrics) IncCacheHit(scope string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(scope).Inc()
}

// IncCacheMiss counts a cache miss for a report scope
func (m *Metrics) IncCacheMiss(scope string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(scope).Inc()
}

// IncCacheError counts a failed cache operation
func (m *Metrics) IncCacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// IncCacheClear counts a wholesale cache clear
func (m *Metrics) IncCacheClear() {
	if m == nil {
		return
	}
	m.CacheClearsTotal.Inc()
}

// ObserveReport records one report request
func (m *Metrics) ObserveReport(report, plan string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReportRequestsTotal.WithLabelValues(report, plan).Inc()
	m.ReportDuration.WithLabelValues(report).Observe(d.Seconds())
}

// IncExportRefusal counts a plan-gated CSV export refusal
func (m *Metrics) IncExportRefusal(scope, plan string) {
	if m == nil {
		return
	}
	m.ExportRefusalsTotal.WithLabelValues(scope, plan).Inc()
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
}
