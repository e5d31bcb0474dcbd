// Package metrics exposes Prometheus collectors for the try-on service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractionsTotal           *prometheus.CounterVec
	fetchFailuresTotal         *prometheus.CounterVec
	pagesFetchedTotal          *prometheus.CounterVec
	compositionsTotal          *prometheus.CounterVec
	composeDurationSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tryon_extractions_total",
				Help: "Total number of extraction runs, labeled by the strategy that produced candidates (none when empty).",
			},
			[]string{"strategy"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tryon_fetch_failures_total",
				Help: "Total number of failed fetches, labeled by kind (page, image, render) and category.",
			},
			[]string{"kind", "category"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tryon_pages_fetched_total",
				Help: "Total number of product pages fetched, labeled by whether they were rendered headlessly.",
			},
			[]string{"headless"},
		)

		compositionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tryon_compositions_total",
				Help: "Total number of composition calls, labeled by status.",
			},
			[]string{"status"},
		)

		composeDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tryon_compose_duration_seconds",
				Help:    "Histogram of composition latencies.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExtraction counts one cascade run. An empty strategy is recorded as "none".
func ObserveExtraction(strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	extractionsTotal.WithLabelValues(strategy).Inc()
}

// ObserveFetchFailure counts a failed page, image or render fetch.
func ObserveFetchFailure(kind, category string) {
	fetchFailuresTotal.WithLabelValues(kind, category).Inc()
}

// ObservePageFetch counts a successfully fetched product page. Sites are not
// labeled; page URLs come from clients.
func ObservePageFetch(headless bool) {
	pagesFetchedTotal.WithLabelValues(strconv.FormatBool(headless)).Inc()
}

// ObserveComposition records the outcome and latency of one composition call.
func ObserveComposition(status string, duration time.Duration) {
	compositionsTotal.WithLabelValues(status).Inc()
	composeDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
