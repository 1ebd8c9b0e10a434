// Package metrics holds the Prometheus collectors for the billing client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts completed billing requests by operation and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iap",
		Subsystem: "billing",
		Name:      "operations_total",
		Help:      "Completed billing requests by operation and outcome.",
	}, []string{"operation", "outcome"})

	// BusyRejectionsTotal counts requests refused because another operation was in flight.
	BusyRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iap",
		Subsystem: "billing",
		Name:      "busy_rejections_total",
		Help:      "Requests rejected while another async operation was pending.",
	}, []string{"operation"})

	// PendingOperation is 1 while an async operation occupies the gate.
	PendingOperation = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "iap",
		Subsystem: "billing",
		Name:      "pending_operation",
		Help:      "Whether an async billing operation is in flight.",
	})

	// CachedItems tracks inventory sizes by kind (products, purchases).
	CachedItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "iap",
		Subsystem: "billing",
		Name:      "cached_items",
		Help:      "Number of cached inventory entries by kind.",
	}, []string{"kind"})

	// OperationDuration tracks how long async operations occupy the gate.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iap",
		Subsystem: "billing",
		Name:      "operation_duration_seconds",
		Help:      "Time from dispatch to completion of async billing operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)
