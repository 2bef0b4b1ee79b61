// Package metrics exposes Prometheus collectors for the catalog crawler.
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
	crawlerItemsTotal          *prometheus.CounterVec
	crawlerFetchTotal          *prometheus.CounterVec
	crawlerFetchDuration       *prometheus.HistogramVec
	crawlerSitemapsTotal       prometheus.Counter
	crawlerCacheEntries        prometheus.Gauge
	crawlerCatalogRows         *prometheus.GaugeVec
	crawlerRateLimitDelay      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Total number of sitemap item URLs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by result category.",
			},
			[]string{"result"},
		)

		crawlerFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch attempt latencies, labeled by result category.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"result"},
		)

		crawlerSitemapsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_sitemaps_total",
				Help: "Total number of second-level sitemaps walked.",
			},
		)

		crawlerCacheEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_cache_entries",
				Help: "Number of identities loaded from persisted catalogs.",
			},
		)

		crawlerCatalogRows = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_catalog_rows",
				Help: "Rows written to each catalog by the last run.",
			},
			[]string{"catalog"},
		)

		crawlerRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem counts one item URL by its terminal outcome.
func ObserveItem(outcome string) {
	Init()
	crawlerItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(result string, duration time.Duration) {
	Init()
	crawlerFetchTotal.WithLabelValues(result).Inc()
	crawlerFetchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveSitemap counts a walked second-level sitemap.
func ObserveSitemap() {
	Init()
	crawlerSitemapsTotal.Inc()
}

// SetCacheEntries records the size of the loaded record cache.
func SetCacheEntries(n int) {
	Init()
	crawlerCacheEntries.Set(float64(n))
}

// SetCatalogRows records the number of rows written to a catalog.
func SetCatalogRows(catalog string, n int) {
	Init()
	crawlerCatalogRows.WithLabelValues(catalog).Set(float64(n))
}

// ObserveRateLimitDelay records time spent waiting for a host's token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	crawlerRateLimitDelay.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
