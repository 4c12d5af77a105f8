// Package metrics exposes Prometheus collectors for the extraction engine.
// Counters are labeled by stream so a multi-stream run can be broken down
// per resource.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts successfully fetched API pages.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resttap_pages_fetched_total",
			Help: "Total number of API pages fetched",
		},
		[]string{"stream"},
	)

	// RecordsExtracted counts records emitted to the sink.
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resttap_records_extracted_total",
			Help: "Total number of records extracted and emitted",
		},
		[]string{"stream"},
	)

	// HTTPRetries counts retried HTTP attempts (attempt 2 and later).
	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resttap_http_retries_total",
			Help: "Total number of retried HTTP attempts",
		},
		[]string{"stream"},
	)

	// StreamFailures counts streams that terminated in a failed state.
	StreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resttap_stream_failures_total",
			Help: "Total number of stream runs that failed",
		},
		[]string{"stream"},
	)

	// RequestDuration observes end-to-end HTTP request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resttap_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)
)
