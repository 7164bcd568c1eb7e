// Package metrics exposes the prometheus counters served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_scans_total",
		Help: "Processed scans by outcome.",
	}, []string{"outcome"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_persist_failures_total",
		Help: "Ledger mutations aborted by a storage write failure.",
	})
)

// ObserveScan counts one processed scan with its outcome label.
func ObserveScan(outcome string) {
	scans.WithLabelValues(outcome).Inc()
}

// ObservePersistFailure counts one aborted write-through.
func ObservePersistFailure() {
	persistFailures.Inc()
}
