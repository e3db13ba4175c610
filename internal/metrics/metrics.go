// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fundingcalc"

var (
	// UpstreamPagesTotal counts page requests by result (ok, error, empty, retry_ok, retry_error).
	UpstreamPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "pages_total",
		Help:      "Funding-rate history page requests by result",
	}, []string{"result"})

	// UpstreamRecordsTotal counts records kept after range filtering.
	UpstreamRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "records_total",
		Help:      "Funding-rate records fetched from upstream and kept",
	})

	// PartialCoverageTotal counts ingestions that stopped after an exhausted retry.
	PartialCoverageTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "partial_total",
		Help:      "Ingestions that ended early because upstream retries were exhausted",
	})

	// CacheLookupsTotal counts cache decisions (hit, tail_miss, head_stale, gap, error).
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "cache_lookups_total",
		Help:      "Cache coverage decisions",
	}, []string{"outcome"})

	// PersistenceErrorsTotal counts skipped writes by kind (event, history).
	PersistenceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "write_errors_total",
		Help:      "Failed cache or history writes",
	}, []string{"kind"})

	// CalculationsTotal counts calculation requests by sizing mode and result.
	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "calculations_total",
		Help:      "Calculation requests by sizing mode and result",
	}, []string{"mode", "result"})

	// CalculationDuration observes end-to-end calculation latency.
	CalculationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "calculation_duration_seconds",
		Help:      "End-to-end calculation latency, ingestion included",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"mode"})

	// HTTPRequestsTotal counts API requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP API requests by route and status code",
	}, []string{"route", "status"})
)
