// Package metrics exposes Prometheus collectors for the crawler service.
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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	queueItemsTotal            *prometheus.CounterVec
	queueClaimConflictsTotal   prometheus.Counter
	assetsTotal                *prometheus.CounterVec
	schedulerRunsTotal         *prometheus.CounterVec
	schedulerRunSeconds        *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "madara_fetches_total",
				Help: "Total number of HTTP fetches, labeled by site, method and outcome.",
			},
			[]string{"site", "method", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "madara_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "madara_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "madara_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "madara_robots_fallback_total",
				Help: "Total robots.txt probes that timed out and fell back to allow-all.",
			},
		)

		queueItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "madara_queue_items_total",
				Help: "Total number of queue items dispatched, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		queueClaimConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "madara_queue_claim_conflicts_total",
				Help: "Claims lost to a concurrent worker.",
			},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "madara_assets_total",
				Help: "Total number of unit assets, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		schedulerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "madara_scheduler_runs_total",
				Help: "Total scheduler runs, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		schedulerRunSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "madara_scheduler_run_seconds",
				Help:    "Histogram of scheduler run durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"kind"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// ObserveFetch records one fetch; outcome is "ok" or "error".
func ObserveFetch(rawURL, method, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	fetchesTotal.WithLabelValues(site, method, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that gave up.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveQueueItem counts a queue item transition: discovered, completed, failed or released.
func ObserveQueueItem(kind, outcome string) {
	Init()
	queueItemsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveClaimConflict counts a claim lost to another worker.
func ObserveClaimConflict() {
	Init()
	queueClaimConflictsTotal.Inc()
}

// ObserveAssets adds n assets with the given outcome.
func ObserveAssets(outcome string, n int) {
	Init()
	if n > 0 {
		assetsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveSchedulerRun records a finished scheduler run.
func ObserveSchedulerRun(kind, status string, duration time.Duration) {
	Init()
	schedulerRunsTotal.WithLabelValues(kind, status).Inc()
	schedulerRunSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
