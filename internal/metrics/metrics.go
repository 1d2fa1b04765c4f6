// Package metrics groups the Prometheus instruments exposed on the debug
// server's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Hitchwiki/nostrhitch/internal/pipeline"
)

// Metrics groups all Prometheus instruments used by the daemon.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsPublished *prometheus.CounterVec
	ItemsSkipped   *prometheus.CounterVec
	ItemsFailed    *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	GuardSize      prometheus.Gauge
}

// New registers all instruments with the given registerer. Taking a
// prometheus.Registerer (instead of the default registry) keeps tests
// isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nostrhitch_items_published_total",
			Help: "Items successfully published to at least one relay.",
		}, []string{"source"}),

		ItemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nostrhitch_items_skipped_total",
			Help: "Items skipped as duplicates or unbuildable.",
		}, []string{"source"}),

		ItemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nostrhitch_items_failed_total",
			Help: "Items whose publish was rejected by every relay.",
		}, []string{"source"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nostrhitch_run_duration_seconds",
			Help:    "Wall time of one pipeline run, fetch included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		GuardSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nostrhitch_guard_known_ids",
			Help: "Identifiers the duplicate guard currently knows.",
		}),
	}

	reg.MustRegister(
		m.ItemsPublished,
		m.ItemsSkipped,
		m.ItemsFailed,
		m.RunDuration,
		m.GuardSize,
	)
	return m
}

// ObserveRun records one pipeline run's report and duration.
func (m *Metrics) ObserveRun(source string, rep pipeline.Report, took time.Duration) {
	m.ItemsPublished.WithLabelValues(source).Add(float64(rep.Published))
	m.ItemsSkipped.WithLabelValues(source).Add(float64(rep.Skipped))
	m.ItemsFailed.WithLabelValues(source).Add(float64(rep.Failed))
	m.RunDuration.WithLabelValues(source).Observe(took.Seconds())
}
