package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xielinshan811-lab/svg-animate/pkg/metrics"
)

// Metrics reports per-route counters and latency to Prometheus. Routes are
// labeled by their mux path template to keep label cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.RecordRequest(routeTemplate(r), r.Method, rec.status, time.Since(start))
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unknown"
}
