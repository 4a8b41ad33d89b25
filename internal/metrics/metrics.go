package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Sync item results
	ResultProcessed = "processed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"

	// Sync run outcomes
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"

	// Cache lookup results
	CacheHit  = "hit"
	CacheMiss = "miss"

	// Reconcile outcomes
	ReconcileCreated = "created"
	ReconcileMerged  = "merged"
	EntityActivity   = "activity"
	EntityGear       = "gear"

	// HTTP endpoints
	EndpointSync         = "sync"
	EndpointSyncActivity = "sync_activity"
	EndpointSyncGears    = "sync_gears"
	EndpointRuns         = "runs"
	EndpointHealth       = "health"

	// Provider API operations
	OpLogin          = "login"
	OpRefreshToken   = "refresh_token"
	OpProfile        = "profile"
	OpListActivities = "list_activities"
	OpGetActivity    = "get_activity"
	OpListGears      = "list_gears"
	OpLinkGear       = "link_gear"
	OpUnlinkGear     = "unlink_gear"
	OpDownload       = "download"
	OpUpload         = "upload"
	OpUploadStatus   = "upload_status"
	OpCreateActivity = "create_activity"

	// Rate limit types
	RateLimitOverall15Min = "overall_15min"
	RateLimitOverallDaily = "overall_daily"

	// Rate limit buckets
	BucketLimit = "limit"
	BucketUsage = "usage"

	// Database operations
	DBOpInsertActivity          = "insert_activity"
	DBOpInsertGear              = "insert_gear"
	DBOpGetLastProviderActivity = "get_last_provider_activity"
	DBOpHasProviderActivity     = "has_provider_activity"
	DBOpGetCacheRecord          = "get_cache_record"
	DBOpSetCacheRecord          = "set_cache_record"
	DBOpLinkActivityGear        = "link_activity_gear"
	DBOpRecordSyncRun           = "record_sync_run"
	DBOpCountRecords            = "count_records"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Provider API Metrics
var (
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_api_requests_total",
			Help: "Total number of provider API requests",
		},
		[]string{"provider", "operation", "status_code"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_api_request_duration_seconds",
			Help:    "Provider API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	ProviderRateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_rate_limit_usage",
			Help: "Provider API rate limit usage as reported by response headers",
		},
		[]string{"provider", "limit_type", "bucket"},
	)

	DetailFetchInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_detail_fetch_in_flight",
			Help: "Number of activity detail requests currently in flight",
		},
		[]string{"provider"},
	)
)

// Sync Metrics
var (
	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_total",
			Help: "Total number of provider activities handled by sync, by result",
		},
		[]string{"provider", "result"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"provider", "outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Time spent in one provider sync",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of provider response cache lookups",
		},
		[]string{"provider", "kind", "result"},
	)

	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_total",
			Help: "Canonical records created or merged by the reconciler",
		},
		[]string{"entity", "outcome"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)

	RecordsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canonical_records_total",
			Help: "Number of rows per table in the canonical store",
		},
		[]string{"table"},
	)
)
