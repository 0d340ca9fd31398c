// Package metrics exposes Prometheus collectors for the frontier service.
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
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	frontierCostAssigned       *prometheus.HistogramVec
	remoteCallsTotal           *prometheus.CounterVec
	remoteCallDurationSeconds  *prometheus.HistogramVec
	relearningBatchesTotal     *prometheus.CounterVec
	crawlerActiveWorkers       prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched by the harness, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		frontierCostAssigned = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "frontier_cost_assigned",
				Help:    "Distribution of costs assigned to candidates, labeled by policy and outcome kind.",
				Buckets: []float64{1, 2, 3, 4, 5, 10, 25, 50, 75, 100, 101, 102, 105, 150},
			},
			[]string{"policy", "kind"},
		)

		remoteCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_remote_calls_total",
				Help: "Calls to external scoring services, labeled by service and outcome.",
			},
			[]string{"service", "outcome"},
		)

		remoteCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "frontier_remote_call_duration_seconds",
				Help:    "Latency of calls to external scoring services.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"service"},
		)

		relearningBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_relearning_batches_total",
				Help: "Relearning sibling batches processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Time fetches waited for their authority's rate limit.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of harness workers currently processing a page.",
			},
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
	Init()
	return promhttp.Handler()
}

// ObserveCrawl increments the harness page metrics.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCost records a cost produced by a cost policy.
func ObserveCost(policy, kind string, cost int) {
	Init()
	frontierCostAssigned.WithLabelValues(policy, kind).Observe(float64(cost))
}

// ObserveRemoteCall records one call to an external service.
func ObserveRemoteCall(service, outcome string, duration time.Duration) {
	Init()
	remoteCallsTotal.WithLabelValues(service, outcome).Inc()
	remoteCallDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveRelearningBatch counts a finished relearning batch.
func ObserveRelearningBatch(outcome string) {
	Init()
	relearningBatchesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records how long a fetch waited for its authority.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(d.Seconds())
}
