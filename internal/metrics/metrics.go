// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerOperations counts ledger mutations by operation and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dietweb",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by kind (record, edit, delete, profile, rollover) and result.",
}, []string{"op", "result"})

// LedgerRollovers counts day boundaries crossed.
var LedgerRollovers = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dietweb",
	Subsystem: "ledger",
	Name:      "rollovers_total",
	Help:      "Days archived into history by rollover.",
})

// LedgerTruncations counts persists that had to drop old entries to fit.
var LedgerTruncations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dietweb",
	Subsystem: "ledger",
	Name:      "truncations_total",
	Help:      "Persists retried after truncating old food entries on storage quota errors.",
})

// LedgerStorageExhausted counts persists that failed even after truncation.
var LedgerStorageExhausted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dietweb",
	Subsystem: "ledger",
	Name:      "storage_exhausted_total",
	Help:      "Persists that failed after the truncate-and-retry attempt.",
})

// LedgerCorruptRecords counts persisted records discarded as unreadable.
var LedgerCorruptRecords = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "dietweb",
	Subsystem: "ledger",
	Name:      "corrupt_records_total",
	Help:      "Persisted ledger or profile records discarded as malformed.",
})

// EstimatorRequests counts estimator calls by kind (photo, text, tips) and result.
var EstimatorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dietweb",
	Subsystem: "estimator",
	Name:      "requests_total",
	Help:      "Estimator requests by kind and result (ok, error, fallback).",
}, []string{"kind", "result"})

// EstimatorLatency observes estimator round trips including retries.
var EstimatorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "dietweb",
	Subsystem: "estimator",
	Name:      "latency_seconds",
	Help:      "Estimator latency including retries.",
	Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
}, []string{"kind"})

// ActiveLedgers tracks ledgers held in memory by the API server.
var ActiveLedgers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "dietweb",
	Subsystem: "api",
	Name:      "active_ledgers",
	Help:      "Per-user ledgers currently loaded by the API server.",
})

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
