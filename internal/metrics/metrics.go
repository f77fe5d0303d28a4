// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_events_total",
			Help: "Raw events processed, by base type and outcome",
		},
		[]string{"base", "outcome"},
	)

	BufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifyd_buffer_depth",
			Help: "Envelopes currently pending per dedup buffer",
		},
		[]string{"buffer"},
	)

	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_transport_sends_total",
			Help: "Transport calls by result (ok, error, timeout)",
		},
		[]string{"transport", "result"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyd_transport_send_duration_seconds",
			Help:    "Duration of transport calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	DrainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notifyd_drain_duration_seconds",
			Help: "Duration of a full buffer drain in seconds",
		},
		[]string{"buffer"},
	)

	DigestResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_digest_results_total",
			Help: "Per-user digest outcomes",
		},
		[]string{"result"},
	)

	DigestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifyd_digest_run_duration_seconds",
			Help:    "Duration of a digest run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	IngestEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyd_ingest_events_total",
			Help: "Events read from the upstream stream, by outcome",
		},
		[]string{"outcome"},
	)
)
