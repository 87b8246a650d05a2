// Package metrics exposes Prometheus collectors for the price monitor.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	refreshTotal               *prometheus.CounterVec
	refreshDurationSeconds     *prometheus.HistogramVec
	extractionDurationSeconds  *prometheus.HistogramVec
	openPages                  prometheus.Gauge
	staleItems                 prometheus.Gauge
	eventsDroppedTotal         prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		refreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_refresh_total",
				Help: "Total number of item refreshes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		refreshDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_refresh_duration_seconds",
				Help:    "Histogram of end-to-end refresh latencies, labeled by outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_extraction_duration_seconds",
				Help:    "Histogram of extraction routine run times, labeled by site and result.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site", "result"},
		)

		openPages = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_renderer_open_pages",
				Help: "Number of rendered pages currently held by refreshes.",
			},
		)

		staleItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_stale_items",
				Help: "Number of monitored items selected by the last bulk refresh.",
			},
		)

		eventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricewatch_events_dropped_total",
				Help: "Total refresh events dropped because the event buffer was full.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL or domain to a lowercase hostname.
// It returns "unknown" if the input is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRefresh counts one refresh and records how long it took.
func ObserveRefresh(outcome string, duration time.Duration) {
	Init()
	refreshTotal.WithLabelValues(outcome).Inc()
	refreshDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveExtraction records one routine run for site.
func ObserveExtraction(site string, ok bool, duration time.Duration) {
	Init()
	result := "ok"
	if !ok {
		result = "failed"
	}
	extractionDurationSeconds.WithLabelValues(SanitizeSite(site), result).Observe(duration.Seconds())
}

// IncOpenPages increments the open pages gauge.
func IncOpenPages() {
	Init()
	openPages.Inc()
}

// DecOpenPages decrements the open pages gauge.
func DecOpenPages() {
	Init()
	openPages.Dec()
}

// SetStaleItems records how many items the last bulk refresh selected.
func SetStaleItems(n int) {
	Init()
	staleItems.Set(float64(n))
}

// ObserveEventDropped counts one dropped refresh event.
func ObserveEventDropped() {
	Init()
	eventsDroppedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
