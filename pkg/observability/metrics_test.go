package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.ObserveSchedulerRun("hourly", time.Second, nil)
	m.ObserveSchedulerRun("daily", time.Second, errors.New("boom"))
	m.ObserveTenantRollup("hourly", 10*time.Millisecond, nil)
	m.AddRowsWritten(4)
	m.AddRowsWritten(0)
	m.IncItemSkipped("ownership")
	m.IncCacheHit("overview")
	m.IncCacheMiss("overview")
	m.IncCacheError("get")
	m.IncCacheClear()
	m.ObserveReport("overview", "pro", time.Millisecond)
	m.IncExportRefusal("courses", "starter")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerRunsTotal.WithLabelValues("hourly", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerRunsTotal.WithLabelValues("daily", StatusFailure)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.MetricRowsWrittenTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollupItemsSkipped.WithLabelValues("ownership")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheClearsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportRefusalsTotal.WithLabelValues("courses", "starter")))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSchedulerRun("hourly", time.Second, nil)
		m.ObserveTenantRollup("hourly", time.Second, nil)
		m.AddRowsWritten(1)
		m.IncItemSkipped("events")
		m.IncCacheHit("x")
		m.IncCacheMiss("x")
		m.IncCacheError("set")
		m.IncCacheClear()
		m.ObserveReport("overview", "starter", time.Second)
		m.IncExportRefusal("overview", "growth")
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.IncCacheClear()

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "creatorstats_cache_clears_total 1"))
}
