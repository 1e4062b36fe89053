package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	err error
}

func (f *fakeDB) HealthCheck(ctx context.Context) error {
	return f.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		_, client := newRedis(t)
		checker := NewHealthChecker(&fakeDB{}, client, "test")

		status := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "test", status.Version)
		assert.Contains(t, status.Dependencies, "database")
		assert.Contains(t, status.Dependencies, "redis")
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		checker := NewHealthChecker(&fakeDB{err: errors.New("conn refused")}, nil, "test")

		status := checker.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Equal(t, "conn refused", status.Dependencies["database"].Message)
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		mr.Close()

		checker := NewHealthChecker(&fakeDB{}, client, "test")

		status := checker.Check(context.Background())
		assert.Equal(t, StatusDegraded, status.Status)
	})
}

func TestHealthRoutes(t *testing.T) {
	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(&fakeDB{err: errors.New("down")}, nil, "test"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, StatusUnhealthy, status.Status)
}
