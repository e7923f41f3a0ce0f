// Package metrics exposes run results as Prometheus metrics written to a
// node_exporter textfile. All metrics use the tiercache_ prefix.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tiercache/internal/transfer"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	// OpsTotal counts transfer ops by kind and status.
	OpsTotal *prometheus.CounterVec
	// BytesTotal counts bytes written by op kind.
	BytesTotal *prometheus.CounterVec
	// Anomalies is the latest audit count per kind.
	Anomalies *prometheus.GaugeVec
	// FastUsage is fast-tier usage as a fraction of capacity.
	FastUsage prometheus.Gauge
	// TrackedItems is the number of records after the run.
	TrackedItems prometheus.Gauge
	// Deferred counts cache-in candidates that did not fit.
	Deferred prometheus.Gauge
	// FeedFailures is the number of failed feed sources in the last run.
	FeedFailures prometheus.Gauge
	// LastRun is the completion time of the last run by kind.
	LastRun *prometheus.GaugeVec
	// RunDuration is the duration of the last run by kind.
	RunDuration *prometheus.GaugeVec
}

// New creates metrics registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiercache_ops_total",
				Help: "Transfer operations by kind and status",
			},
			[]string{"kind", "status"},
		),
		BytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiercache_transferred_bytes_total",
				Help: "Bytes written by transfer operations",
			},
			[]string{"kind"},
		),
		Anomalies: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tiercache_anomalies",
				Help: "Anomalies found by the last audit",
			},
			[]string{"kind"},
		),
		FastUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tiercache_fast_tier_usage_ratio",
			Help: "Fast-tier usage as a fraction of capacity",
		}),
		TrackedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tiercache_tracked_items",
			Help: "Items currently tracked as cached",
		}),
		Deferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tiercache_deferred_items",
			Help: "Cache-in candidates deferred for lack of space in the last run",
		}),
		FeedFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tiercache_feed_failures",
			Help: "Feed sources that failed in the last run",
		}),
		LastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tiercache_last_run_timestamp_seconds",
				Help: "Completion time of the last run",
			},
			[]string{"run_kind"},
		),
		RunDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tiercache_last_run_duration_seconds",
				Help: "Duration of the last run",
			},
			[]string{"run_kind"},
		),
	}
	m.registry.MustRegister(
		m.OpsTotal,
		m.BytesTotal,
		m.Anomalies,
		m.FastUsage,
		m.TrackedItems,
		m.Deferred,
		m.FeedFailures,
		m.LastRun,
		m.RunDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveTransfers records every result of a transfer report.
func (m *Metrics) ObserveTransfers(report transfer.Report) {
	for _, res := range report.Results {
		kind := string(res.Op.Kind)
		m.OpsTotal.WithLabelValues(kind, string(res.Status)).Inc()
		if res.Bytes > 0 {
			m.BytesTotal.WithLabelValues(kind).Add(float64(res.Bytes))
		}
	}
}

// SetAnomalies replaces the anomaly gauges. Kinds missing from counts are
// reset to zero.
func (m *Metrics) SetAnomalies(kinds []string, counts map[string]int) {
	for _, k := range kinds {
		m.Anomalies.WithLabelValues(k).Set(float64(counts[k]))
	}
}

// ObserveRun records completion of a run.
func (m *Metrics) ObserveRun(kind string, started, finished time.Time) {
	m.LastRun.WithLabelValues(kind).Set(float64(finished.Unix()))
	m.RunDuration.WithLabelValues(kind).Set(finished.Sub(started).Seconds())
}

// WriteTextfile writes the registry in text exposition format. An empty
// path does nothing.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
