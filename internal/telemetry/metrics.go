// Package telemetry provides Prometheus metrics for generation and the
// development proxy.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "citeai"

// Metrics holds the collectors. It implements paper.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	GenerationAttempts prometheus.Histogram
	RetryWaitSeconds   prometheus.Histogram
	ProxyForwardsTotal *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		GenerationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Paper generations by outcome (success or failure kind)",
			},
			[]string{"outcome"},
		),
		GenerationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of paper generations including retries",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
			},
			[]string{"outcome"},
		),
		GenerationAttempts: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_attempts",
				Help:      "Outbound attempts per generation",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
		),
		RetryWaitSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_wait_seconds",
				Help:      "Backoff delays scheduled between attempts",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
			},
		),
		ProxyForwardsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_forwards_total",
				Help:      "Development proxy forwards by provider and upstream status",
			},
			[]string{"provider", "status"},
		),
	}
}

// ObserveGeneration records one finished generation.
func (m *Metrics) ObserveGeneration(outcome string, attempts int, elapsed time.Duration) {
	m.GenerationsTotal.WithLabelValues(outcome).Inc()
	m.GenerationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.GenerationAttempts.Observe(float64(attempts))
	}
}

// ObserveRetry records one scheduled backoff wait.
func (m *Metrics) ObserveRetry(delay time.Duration) {
	m.RetryWaitSeconds.Observe(delay.Seconds())
}

// ObserveForward records one proxied request. status 0 means transport failure.
func (m *Metrics) ObserveForward(provider string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.ProxyForwardsTotal.WithLabelValues(provider, label).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
