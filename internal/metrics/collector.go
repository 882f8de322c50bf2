// Package metrics exposes sync-cycle instrumentation for the monitor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector holds the per-source sync metrics reported by the error
// reporter after every cycle.
type Collector struct {
	syncCycles          *prometheus.CounterVec
	syncDuration        *prometheus.HistogramVec
	consecutiveFailures *prometheus.GaugeVec
	lastSyncTime        *prometheus.GaugeVec
	activeIntegrations  prometheus.Gauge
}

// NewCollector creates the sync metrics collection.
func NewCollector() *Collector {
	return &Collector{
		syncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbnd",
			Subsystem: "airflow_monitor",
			Name:      "sync_cycles_total",
			Help:      "Total sync cycles by source and result.",
		}, []string{"source", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dbnd",
			Subsystem: "airflow_monitor",
			Name:      "sync_cycle_duration_seconds",
			Help:      "Duration of sync cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		consecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dbnd",
			Subsystem: "airflow_monitor",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed cycles per source.",
		}, []string{"source"}),
		lastSyncTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dbnd",
			Subsystem: "airflow_monitor",
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last completed cycle per source.",
		}, []string{"source"}),
		activeIntegrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dbnd",
			Subsystem: "airflow_monitor",
			Name:      "active_integrations",
			Help:      "Number of integrations currently monitored.",
		}),
	}
}

// ObserveCycle records the outcome and duration of one cycle.
// result is "success" or the failure kind name.
func (c *Collector) ObserveCycle(source, result string, elapsed time.Duration) {
	c.syncCycles.WithLabelValues(source, result).Inc()
	c.syncDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	c.lastSyncTime.WithLabelValues(source).SetToCurrentTime()
}

// SetConsecutiveFailures records the failure streak of a source.
func (c *Collector) SetConsecutiveFailures(source string, n int) {
	c.consecutiveFailures.WithLabelValues(source).Set(float64(n))
}

// SetActiveIntegrations records the size of the monitored source set.
func (c *Collector) SetActiveIntegrations(n int) {
	c.activeIntegrations.Set(float64(n))
}

// RemoveSource drops the series of an evicted source.
func (c *Collector) RemoveSource(source string) {
	c.syncCycles.DeletePartialMatch(prometheus.Labels{"source": source})
	c.syncDuration.DeleteLabelValues(source)
	c.consecutiveFailures.DeleteLabelValues(source)
	c.lastSyncTime.DeleteLabelValues(source)
}

// NewRegistry creates a registry with the collector plus the standard Go
// and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		c.syncCycles,
		c.syncDuration,
		c.consecutiveFailures,
		c.lastSyncTime,
		c.activeIntegrations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
