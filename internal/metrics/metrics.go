// Package metrics wires the write-and-replicate pipeline into
// Prometheus. It is ambient observability, not a feature: it
// instruments outcomes and latencies the leader already computes on
// every write, and adds no cluster-management behavior of its own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the process-wide metric instruments for one node.
type Recorder struct {
	writesTotal        *prometheus.CounterVec
	replicationLatency prometheus.Histogram
	storeSize          prometheus.Gauge
}

// New registers this node's metrics with the default Prometheus
// registry and returns a Recorder to update them.
func New(nodeID string) *Recorder {
	labels := prometheus.Labels{"node_id": nodeID}
	return &Recorder{
		writesTotal: promauto.With(prometheus.WrapRegistererWith(labels, prometheus.DefaultRegisterer)).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvreplica_writes_total",
				Help: "Total number of /set requests handled by the leader, by outcome.",
			},
			[]string{"outcome"}, // "accepted" | "quorum_unreached"; requests refused with 400/403 are not counted
		),
		replicationLatency: promauto.With(prometheus.WrapRegistererWith(labels, prometheus.DefaultRegisterer)).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kvreplica_replication_latency_ms",
				Help:    "Per-peer replication latency in milliseconds, including simulated delay.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1ms .. ~8s
			},
		),
		storeSize: promauto.With(prometheus.WrapRegistererWith(labels, prometheus.DefaultRegisterer)).NewGauge(
			prometheus.GaugeOpts{
				Name: "kvreplica_store_size",
				Help: "Number of keys currently held in this node's store.",
			},
		),
	}
}

// RecordWrite increments the write counter for the given outcome.
func (r *Recorder) RecordWrite(outcome string) {
	r.writesTotal.WithLabelValues(outcome).Inc()
}

// ObserveReplicationLatency records one peer's replication latency.
func (r *Recorder) ObserveReplicationLatency(ms float64) {
	r.replicationLatency.Observe(ms)
}

// SetStoreSize updates the store-size gauge.
func (r *Recorder) SetStoreSize(n int) {
	r.storeSize.Set(float64(n))
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
