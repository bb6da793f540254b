// Package metrics defines the Prometheus collectors for a load run and pushes
// them to a Pushgateway once the run is over.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName is the Pushgateway job the run metrics are grouped under.
const JobName = "csvloader"

// Metrics holds the collectors of one run on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	DocsIndexedTotal prometheus.Counter
	DocsFailedTotal  prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
	LastRunDuration  prometheus.Gauge
	LastRunSuccess   prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// New creates and registers all run metrics.
func New() *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "csvloader_documents_indexed_total",
				Help: "Documents accepted by the search engine.",
			},
		),
		DocsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "csvloader_documents_failed_total",
				Help: "Documents rejected by the search engine.",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "csvloader_request_duration_seconds",
				Help:    "Search engine request latency in seconds by operation.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		LastRunDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "csvloader_last_run_duration_seconds",
				Help: "Wall time of the last run in seconds.",
			},
		),
		LastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "csvloader_last_run_success",
				Help: "1 if the last run completed, 0 if it aborted.",
			},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "csvloader_last_run_timestamp_seconds",
				Help: "Unix time the last run finished.",
			},
		),
	}

	m.Registry = prometheus.NewRegistry()
	m.Registry.MustRegister(
		m.DocsIndexedTotal,
		m.DocsFailedTotal,
		m.RequestDuration,
		m.LastRunDuration,
		m.LastRunSuccess,
		m.LastRunTimestamp,
	)
	return m
}

// Push sends the registry to the Pushgateway at url, grouped by index.
func (m *Metrics) Push(ctx context.Context, url, index string, client *http.Client) error {
	pusher := push.New(url, JobName).
		Gatherer(m.Registry).
		Grouping("index", index)
	if client != nil {
		pusher = pusher.Client(client)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
