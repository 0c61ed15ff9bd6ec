// Package graph provides the core graph execution engine for WeaveGraph-Go.
package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible observability for the
// runner and scheduler:
//
//  1. inflight_nodes (gauge) — nodes currently executing within a superstep.
//  2. frontier_depth (gauge) — size of the current frontier.
//  3. superstep_latency_ms (histogram) — wall-clock duration of one superstep.
//  4. skipped_nodes_total (counter) — nodes skipped by versions_seen gating.
//  5. barrier_conflicts_total (counter) — extra-channel key collisions resolved
//     by last-writer-wins during a barrier merge.
//  6. checkpoint_save_total / checkpoint_save_errors_total (counters).
//
// All metrics are namespaced "weavegraph".
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	frontierDepth prometheus.Gauge

	superstepLatency *prometheus.HistogramVec

	skippedNodes      *prometheus.CounterVec
	barrierConflicts  *prometheus.CounterVec
	checkpointSaves   *prometheus.CounterVec
	checkpointFailures *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers every metric with registry. A
// nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "weavegraph",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes executing concurrently within a superstep",
	})

	pm.frontierDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "weavegraph",
		Name:      "frontier_depth",
		Help:      "Number of node kinds in the current frontier",
	})

	pm.superstepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weavegraph",
		Name:      "superstep_latency_ms",
		Help:      "Superstep wall-clock duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"session_id", "status"})

	pm.skippedNodes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "skipped_nodes_total",
		Help:      "Cumulative count of nodes skipped by versions_seen gating",
	}, []string{"session_id", "node_id"})

	pm.barrierConflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "barrier_conflicts_total",
		Help:      "Extra-channel key collisions resolved by last-writer-wins during a barrier merge",
	}, []string{"session_id"})

	pm.checkpointSaves = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "checkpoint_save_total",
		Help:      "Cumulative count of checkpoint save attempts",
	}, []string{"session_id"})

	pm.checkpointFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavegraph",
		Name:      "checkpoint_save_errors_total",
		Help:      "Cumulative count of failed checkpoint saves",
	}, []string{"session_id"})

	return pm
}

// RecordSuperstepLatency records one superstep's duration.
func (pm *PrometheusMetrics) RecordSuperstepLatency(sessionID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.superstepLatency.WithLabelValues(sessionID, status).Observe(float64(latency.Milliseconds()))
}

// UpdateFrontierDepth sets the current frontier size gauge.
func (pm *PrometheusMetrics) UpdateFrontierDepth(depth int) {
	if !pm.isEnabled() {
		return
	}
	pm.frontierDepth.Set(float64(depth))
}

// UpdateInflightNodes sets the current in-flight node count gauge.
func (pm *PrometheusMetrics) UpdateInflightNodes(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightNodes.Set(float64(count))
}

// IncrementSkippedNodes increments the skipped-by-versions_seen counter.
func (pm *PrometheusMetrics) IncrementSkippedNodes(sessionID, nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.skippedNodes.WithLabelValues(sessionID, nodeID).Inc()
}

// IncrementBarrierConflicts increments the extra-channel last-writer-wins
// collision counter.
func (pm *PrometheusMetrics) IncrementBarrierConflicts(sessionID string) {
	if !pm.isEnabled() {
		return
	}
	pm.barrierConflicts.WithLabelValues(sessionID).Inc()
}

// RecordCheckpointSave increments the save-attempt counter, and the
// save-error counter too when err is non-nil.
func (pm *PrometheusMetrics) RecordCheckpointSave(sessionID string, err error) {
	if !pm.isEnabled() {
		return
	}
	pm.checkpointSaves.WithLabelValues(sessionID).Inc()
	if err != nil {
		pm.checkpointFailures.WithLabelValues(sessionID).Inc()
	}
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset clears gauge values (useful for testing); counters and histograms
// are cumulative by Prometheus design and cannot be reset.
func (pm *PrometheusMetrics) Reset() {
	pm.inflightNodes.Set(0)
	pm.frontierDepth.Set(0)
}
