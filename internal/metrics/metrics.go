// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts requests by route, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atum_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration records request latency by route and method.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atum_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// StoreActions counts state container actions by action and outcome.
	StoreActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atum_store_actions_total",
		Help: "Total number of store actions by outcome",
	}, []string{"action", "outcome"})

	// CommitSyncs counts commit sync runs by trigger and outcome.
	CommitSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atum_commit_syncs_total",
		Help: "Total number of commit sync runs",
	}, []string{"trigger", "outcome"})

	// SnapshotCacheLookups counts snapshot cache lookups by result.
	SnapshotCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atum_snapshot_cache_lookups_total",
		Help: "Snapshot cache lookups by result",
	}, []string{"result"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atum_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeNoop    = "noop"
)
