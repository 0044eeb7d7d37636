// Package metrics exposes Prometheus metrics for ingestion and delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bankrupt_bot"

// Cycle and notification outcomes.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultEmpty   = "empty"
)

// Metrics holds the bot's collectors and the registry they live in.
type Metrics struct {
	reg *prometheus.Registry

	CyclesTotal        *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	IngestsTotal       *prometheus.CounterVec
	RegistryRecords    prometheus.Gauge
	IngestDuration     prometheus.Histogram
}

// New creates the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scheduled notification cycles by result.",
		}, []string{"result"}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Per-subscriber deliveries by result.",
		}, []string{"result"}),
		IngestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Registry refresh attempts by result.",
		}, []string{"result"}),
		RegistryRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_records",
			Help:      "Records in the current registry snapshot.",
		}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of registry downloads and imports.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// RecordCycle counts a scheduled cycle.
func (m *Metrics) RecordCycle(result string) {
	m.CyclesTotal.WithLabelValues(result).Inc()
}

// RecordNotification counts one subscriber delivery.
func (m *Metrics) RecordNotification(result string) {
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// RecordIngest counts a refresh attempt and, when it replaced the snapshot,
// the new record count.
func (m *Metrics) RecordIngest(result string, records int, took time.Duration) {
	m.IngestsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.RegistryRecords.Set(float64(records))
		m.IngestDuration.Observe(took.Seconds())
	}
}

// SetRegistryRecords sets the snapshot size, used on startup.
func (m *Metrics) SetRegistryRecords(n int) {
	m.RegistryRecords.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
