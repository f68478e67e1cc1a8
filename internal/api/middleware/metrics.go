package middleware

import (
	"context"
	"net/http"
	"time"
)

// HTTPRecorder receives one observation per served request.
// *observability.Metrics implements it.
type HTTPRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64)
}

// Metrics records the method, path, status and latency of every request.
func Metrics(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			rec.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, sr.status, time.Since(start).Seconds())
		})
	}
}
