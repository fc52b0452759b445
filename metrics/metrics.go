// Package metrics exposes Prometheus collectors for watcher runs.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal          *prometheus.CounterVec
	emailsTotal        *prometheus.CounterVec
	fetchBytes         prometheus.Gauge
	lastSuccessSeconds prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arxiv_watch_runs_total",
				Help: "Total number of watcher runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		emailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arxiv_watch_emails_total",
				Help: "Total number of notification emails sent, labeled by kind.",
			},
			[]string{"kind"},
		)

		fetchBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "arxiv_watch_last_fetch_bytes",
				Help: "Size of the most recently fetched listing page.",
			},
		)

		lastSuccessSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "arxiv_watch_last_success_timestamp_seconds",
				Help: "Unix time of the last run that completed without error.",
			},
		)
	})
}

// ObserveRun records a finished run. outcome is "error" for failed runs.
func ObserveRun(outcome string, at time.Time) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	if outcome != "error" {
		lastSuccessSeconds.Set(float64(at.Unix()))
	}
}

// ObserveEmail records a sent notification of the given kind ("update" or "test").
func ObserveEmail(kind string) {
	Init()
	emailsTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch records the size of a fetched page.
func ObserveFetch(bytes int) {
	Init()
	fetchBytes.Set(float64(bytes))
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
