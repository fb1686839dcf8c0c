// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Sampling metrics
	TicksTotal      *prometheus.CounterVec
	FetchLatency    *prometheus.HistogramVec
	LastSampleTime  *prometheus.GaugeVec
	SamplesAppended *prometheus.CounterVec

	// Aggregation metrics
	AggregationRuns     *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec
	SeriesPoints        *prometheus.GaugeVec
	PartitionsSkipped   *prometheus.CounterVec
	PartitionsRemoved   *prometheus.CounterVec

	// Mirror metrics
	MirrorOps *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance registered on its own registry
// together with the Go and process collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(namespace, reg, reg)
}

// NewMetricsWith creates a Metrics instance on the given registerer
func NewMetricsWith(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if namespace == "" {
		namespace = "ada_logger"
	}
	factory := promauto.With(reg)

	return &Metrics{
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "ticks_total",
			Help:      "Total number of sampling ticks by outcome",
		}, []string{"asset", "result"}),
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "fetch_latency_seconds",
			Help:      "Order book fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"asset"}),
		LastSampleTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "last_sample_timestamp",
			Help:      "Unix timestamp of the last appended sample",
		}, []string{"asset"}),
		SamplesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "samples_appended_total",
			Help:      "Total number of samples appended to partitions",
		}, []string{"asset"}),

		AggregationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "runs_total",
			Help:      "Total number of aggregation cycles by kind and status",
		}, []string{"asset", "kind", "status"}),
		AggregationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "duration_seconds",
			Help:      "Aggregation cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"asset", "kind"}),
		SeriesPoints: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "series_points",
			Help:      "Number of points in the last persisted series",
		}, []string{"asset", "kind"}),
		PartitionsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "partitions_skipped_total",
			Help:      "Total number of raw partitions skipped because they failed to parse",
		}, []string{"asset"}),
		PartitionsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "partitions_removed_total",
			Help:      "Total number of raw partitions removed by the retention sweep",
		}, []string{"asset"}),

		MirrorOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "operations_total",
			Help:      "Total number of remote mirror operations by outcome",
		}, []string{"op", "result"}),

		gatherer: gatherer,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordTick records the outcome of one sampling tick.
func (m *Metrics) RecordTick(asset, result string) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(asset, result).Inc()
}

// RecordFetch records fetch latency.
func (m *Metrics) RecordFetch(asset string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchLatency.WithLabelValues(asset).Observe(d.Seconds())
}

// RecordAppend records a persisted sample.
func (m *Metrics) RecordAppend(asset string, ts time.Time) {
	if m == nil {
		return
	}
	m.SamplesAppended.WithLabelValues(asset).Inc()
	m.LastSampleTime.WithLabelValues(asset).Set(float64(ts.Unix()))
}

// RecordAggregation records an aggregation cycle.
func (m *Metrics) RecordAggregation(asset, kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AggregationRuns.WithLabelValues(asset, kind, status).Inc()
	m.AggregationDuration.WithLabelValues(asset, kind).Observe(d.Seconds())
}

// SetSeriesPoints updates the persisted series length gauge.
func (m *Metrics) SetSeriesPoints(asset, kind string, n int) {
	if m == nil {
		return
	}
	m.SeriesPoints.WithLabelValues(asset, kind).Set(float64(n))
}

// RecordPartitionSkipped increments the skipped partition counter.
func (m *Metrics) RecordPartitionSkipped(asset string) {
	if m == nil {
		return
	}
	m.PartitionsSkipped.WithLabelValues(asset).Inc()
}

// RecordPartitionsRemoved adds swept partitions.
func (m *Metrics) RecordPartitionsRemoved(asset string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PartitionsRemoved.WithLabelValues(asset).Add(float64(n))
}

// RecordMirror records a mirror operation.
func (m *Metrics) RecordMirror(op string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.MirrorOps.WithLabelValues(op, result).Inc()
}
