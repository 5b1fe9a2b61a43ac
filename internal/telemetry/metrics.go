package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every pubhub collector. A private registry keeps tests
// independent of the global default registerer.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Scan metrics
var (
	ItemsScanned = factory.NewCounter(prometheus.CounterOpts{
		Name: "pubhub_items_scanned_total",
		Help: "Listing items fetched and inspected by scans.",
	})

	ItemsMatched = factory.NewCounter(prometheus.CounterOpts{
		Name: "pubhub_items_matched_total",
		Help: "Items persisted as new feed items.",
	})

	ForumErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pubhub_forum_errors_total",
		Help: "Per-forum failures that were skipped.",
	}, []string{"op"})
)

// Upstream metrics
var (
	TokenRefreshes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pubhub_token_refresh_total",
		Help: "Token grants performed against the OAuth endpoint.",
	}, []string{"identity"})

	RequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pubhub_reddit_request_duration_seconds",
		Help:    "Latency of content API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// Job metrics
var (
	JobRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pubhub_job_runs_total",
		Help: "Background job runs by outcome.",
	}, []string{"job", "outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
