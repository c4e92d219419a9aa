// Package metrics provides Prometheus metrics for indexer searches, logins
// and application sync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all indexarr metrics
	namespace = "indexarr"
)

// Registry holds every indexarr collector. It is separate from the default
// registry so tests can read values without global side effects.
var Registry = prometheus.NewRegistry()

var (
	// SearchTotal counts searches per indexer by outcome
	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_total",
			Help:      "Total number of indexer searches by result",
		},
		[]string{"indexer", "result"},
	)

	// SearchDuration tracks how long an indexer search takes end to end
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of indexer searches in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"indexer"},
	)

	// ReleasesParsed counts releases produced by response parsers
	ReleasesParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_parsed_total",
			Help:      "Total number of releases parsed from indexer responses",
		},
		[]string{"indexer"},
	)

	// RequestsSent counts outbound indexer requests
	RequestsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of outbound indexer requests",
		},
		[]string{"indexer"},
	)

	// LoginTotal counts indexer login attempts by outcome
	LoginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "Total number of indexer login attempts by result",
		},
		[]string{"indexer", "result"},
	)

	// SyncTotal counts application sync operations
	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_sync_total",
			Help:      "Total number of application sync operations by action and result",
		},
		[]string{"app", "action", "result"},
	)

	// SyncDuration tracks full application reconcile duration
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "app_sync_duration_seconds",
			Help:      "Duration of application reconcile passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"app"},
	)

	// MappingRepairs counts AppIndexerMap rows fixed by self-heal
	MappingRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_mapping_repairs_total",
			Help:      "Total number of indexer mappings repaired during reconcile",
		},
		[]string{"app", "kind"},
	)

	// SchemaCacheLookups counts schema cache hits and misses
	SchemaCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_cache_lookups_total",
			Help:      "Total number of remote schema cache lookups by result",
		},
		[]string{"result"},
	)

	ProxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of Torznab proxy requests by function and result",
		},
		[]string{"function", "result"},
	)

	// APIKeyFailures counts requests rejected for a missing or wrong API key
	APIKeyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_key_failures_total",
			Help:      "Total number of requests rejected for a bad API key",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SearchTotal,
		SearchDuration,
		ReleasesParsed,
		RequestsSent,
		LoginTotal,
		SyncTotal,
		SyncDuration,
		MappingRepairs,
		SchemaCacheLookups,
		ProxyRequests,
		APIKeyFailures,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
