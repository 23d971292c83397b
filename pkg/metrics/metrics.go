package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	// Fetch metrics
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotes_fetch_total",
			Help: "Total single quote fetches",
		},
		[]string{"asset_type", "status"},
	)
	FetchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotes_fetch_latency_seconds",
			Help:    "End to end latency of one quote fetch",
			Buckets: prometheus.DefBuckets,
		})
	BulkFetchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotes_bulk_fetch_total",
			Help: "Total bulk fetch requests",
		})
	BulkFetchSymbols = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotes_bulk_fetch_symbols",
			Help:    "Number of symbols per bulk request",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		})

	// Provider metrics
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Provider call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "status"},
	)
	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Total provider call errors",
		},
		[]string{"provider", "kind"},
	)
	ProviderHealthState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_health_state",
			Help: "Provider health state (0=healthy, 1=degraded, 2=unavailable)",
		},
		[]string{"provider"},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		})
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		})
	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Total cache backend errors (degraded to miss)",
		},
		[]string{"operation"},
	)
	CacheOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Cache operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Session metrics
	SessionRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_renewals_total",
			Help: "Total session authentication/refresh operations",
		},
		[]string{"status"},
	)
	SessionRenewalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_renewal_duration_seconds",
			Help:    "Session renewal duration including retries",
			Buckets: prometheus.DefBuckets,
		})
	SessionWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_token_waiters",
			Help: "Callers currently waiting on an in-flight renewal",
		})

	// Metadata store metrics
	MetadataOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metadata_operation_duration_seconds",
			Help:    "Metadata store operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Notification metrics
	NotifySent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_events_total",
			Help: "Total notification events dispatched",
		})
	NotifyErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_errors_total",
			Help: "Total notification delivery errors (swallowed)",
		})

	// API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

func init() {
	// MustRegister panics if registration fails (e.g. duplicate)
	prometheus.MustRegister(
		FetchTotal, FetchLatency, BulkFetchTotal, BulkFetchSymbols,
		ProviderRequestDuration, ProviderErrors, ProviderHealthState,
		CacheHits, CacheMisses, CacheErrors, CacheOperationDuration,
		SessionRenewals, SessionRenewalDuration, SessionWaiters,
		MetadataOperationDuration,
		NotifySent, NotifyErrors,
		APIRequestDuration,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
