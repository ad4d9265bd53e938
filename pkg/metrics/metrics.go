package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests labeled by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generations_total",
			Help: "Total number of generation requests labeled by outcome",
		},
		[]string{"outcome"},
	)
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_transactions_total",
			Help: "Total number of ledger entries labeled by type",
		},
		[]string{"type"},
	)
)

// RecordRequest increments the request counter and records duration.
func RecordRequest(route, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGeneration counts a generation request by outcome.
func RecordGeneration(outcome string) {
	generationsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransaction counts an appended ledger entry.
func RecordTransaction(txType string) {
	transactionsTotal.WithLabelValues(txType).Inc()
}
