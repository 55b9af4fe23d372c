// Package metrics exposes crawl counters on a registry owned by the process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "event_crawler"

// Page outcomes.
const (
	PageVisited  = "visited"
	PageSkipped  = "skipped"
	PageRejected = "rejected"
	PageAccepted = "accepted"
	PageError    = "error"
)

// Metrics holds the crawler's collectors.
type Metrics struct {
	registry *prometheus.Registry

	pages             *prometheus.CounterVec
	extractions       *prometheus.CounterVec
	bookingsCreated   *prometheus.CounterVec
	performersCreated prometheus.Counter
	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	lastSuccess       *prometheus.GaugeVec
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Pages seen by the walker, by outcome",
		}, []string{"scraper", "outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction calls by result",
		}, []string{"scraper", "result"}),
		bookingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings written",
		}, []string{"scraper"}),
		performersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "performers_created_total",
			Help:      "Unclaimed performer accounts created",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by status",
		}, []string{"scraper", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"scraper"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}, []string{"scraper"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pages, m.extractions, m.bookingsCreated, m.performersCreated,
		m.runs, m.runDuration, m.lastSuccess,
	)
	return m
}

// Registry returns the owned registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Pages adds n pages with the given outcome.
func (m *Metrics) Pages(scraperID, outcome string, n int64) {
	if n <= 0 {
		return
	}
	m.pages.WithLabelValues(scraperID, outcome).Add(float64(n))
}

// Extraction counts one extraction result ("ok" or a rejection reason).
func (m *Metrics) Extraction(scraperID, result string) {
	m.extractions.WithLabelValues(scraperID, result).Inc()
}

// BookingsCreated adds n created bookings.
func (m *Metrics) BookingsCreated(scraperID string, n int) {
	if n <= 0 {
		return
	}
	m.bookingsCreated.WithLabelValues(scraperID).Add(float64(n))
}

// PerformersCreated adds n created performers.
func (m *Metrics) PerformersCreated(n int) {
	if n <= 0 {
		return
	}
	m.performersCreated.Add(float64(n))
}

// RunFinished records a run's terminal status and duration.
func (m *Metrics) RunFinished(scraperID, status string, d time.Duration) {
	m.runs.WithLabelValues(scraperID, status).Inc()
	m.runDuration.WithLabelValues(scraperID).Observe(d.Seconds())
	if status == "succeeded" {
		m.lastSuccess.WithLabelValues(scraperID).SetToCurrentTime()
	}
}
