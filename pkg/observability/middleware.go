package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
)

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs every request on the ops server. Successful probe
// and scrape requests are logged at debug level.
func LoggingMiddleware(logger *Logger) mux.MiddlewareFunc {
	logger = logger.WithField("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			entry := logger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"status":      rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("HTTP request failed")
				return
			}
			entry.Debug("HTTP request")
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response
func RecoveryMiddleware(logger *Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("panic", fmt.Sprint(rec)).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						Error("PANIC recovered in HTTP handler")
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
