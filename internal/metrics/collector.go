// Package metrics exports poll-health gauges for every running fleet entry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"fleetlink/internal/coordinator"
)

// StatsSource yields poll-health counters per entry; implemented by the
// coordinator manager.
type StatsSource interface {
	Stats() map[string]coordinator.Stats
}

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	source StatsSource

	cycles       *prometheus.Desc
	failures     *prometheus.Desc
	lastSuccess  *prometheus.Desc
	deviceErrors *prometheus.Desc
	stale        *prometheus.Desc
}

// NewCollector creates a collector over the given source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		cycles: prometheus.NewDesc(
			"fleetlink_poll_cycles_total",
			"Poll cycles attempted for the entry",
			[]string{"entry_id"},
			nil,
		),
		failures: prometheus.NewDesc(
			"fleetlink_poll_cycle_failures_total",
			"Poll cycles that failed for every device",
			[]string{"entry_id"},
			nil,
		),
		lastSuccess: prometheus.NewDesc(
			"fleetlink_last_success_timestamp_seconds",
			"Unix time of the last successful poll cycle (0 = never)",
			[]string{"entry_id"},
			nil,
		),
		deviceErrors: prometheus.NewDesc(
			"fleetlink_device_errors",
			"Devices marked errored in the latest snapshot",
			[]string{"entry_id"},
			nil,
		),
		stale: prometheus.NewDesc(
			"fleetlink_snapshot_stale",
			"Whether the published snapshot is stale (1=yes, 0=no)",
			[]string{"entry_id"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cycles
	ch <- c.failures
	ch <- c.lastSuccess
	ch <- c.deviceErrors
	ch <- c.stale
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for entryID, stats := range c.source.Stats() {
		ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(stats.Cycles), entryID)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.Failures), entryID)

		lastSuccess := 0.0
		if !stats.LastSuccess.IsZero() {
			lastSuccess = float64(stats.LastSuccess.Unix())
		}
		ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, lastSuccess, entryID)
		ch <- prometheus.MustNewConstMetric(c.deviceErrors, prometheus.GaugeValue, float64(stats.DeviceErrors), entryID)

		stale := 0.0
		if stats.Stale {
			stale = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, stale, entryID)
	}
}
