package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	router := mux.NewRouter()
	router.Use(LoggingMiddleware(logger))
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, buf.String(), `"path":"/ok"`)
	assert.Contains(t, buf.String(), `"status":204`)

	buf.Reset()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Contains(t, buf.String(), "HTTP request failed")
	assert.Contains(t, buf.String(), `"status":503`)
}

func TestLoggingMiddleware_ProbesQuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	router := mux.NewRouter()
	router.Use(LoggingMiddleware(NewLogger(InfoLevel, &buf)))
	router.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Empty(t, buf.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	router := mux.NewRouter()
	router.Use(RecoveryMiddleware(NewLogger(InfoLevel, &buf)))
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
	assert.Contains(t, buf.String(), "handler exploded")
}
