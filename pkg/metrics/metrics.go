// Package metrics documents the Prometheus metrics of the social API client
// and serves them. All metrics are defined in their respective packages
// (client, ratelimit, cache, stream, pagination) via promauto to keep the
// packages independent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client packages.
var Registry = prometheus.DefaultRegisterer

// Catalog lists every metric name registered by the client packages.
var Catalog = []string{
	// pkg/client
	"social_requests_total",
	"social_request_duration_seconds",
	"social_errors_total",
	"social_hook_short_circuits_total",

	// pkg/ratelimit
	"social_rate_limit_remaining",
	"social_rate_limit_throttles_total",

	// pkg/cache
	"social_cache_hits_total",
	"social_cache_misses_total",
	"social_cache_bytes_total",
	"social_cache_errors_total",

	// pkg/stream
	"social_stream_frames_total",
	"social_stream_keepalives_total",
	"social_stream_malformed_total",
	"social_stream_reconnects_total",
	"social_stream_backoff_seconds",
	"social_stream_sessions",

	// pkg/pagination
	"social_paginator_pages_total",
	"social_batch_chunks_total",
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - social_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - social_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - social_errors_total{class} (Counter): Errors by class (client, auth, server, rate_limit, network)
//   - social_hook_short_circuits_total (Counter): Responses supplied by BeforeConfig hooks
//
// Rate Limit Metrics (pkg/ratelimit):
//   - social_rate_limit_remaining{endpoint} (Gauge): Last seen remaining requests per endpoint
//   - social_rate_limit_throttles_total{endpoint} (Counter): Requests delayed on exhausted buckets
//
// Cache Metrics (pkg/cache):
//   - social_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - social_cache_misses_total (Counter): Cache misses
//   - social_cache_bytes_total{operation} (Counter): Entry bytes read and written
//   - social_cache_errors_total{operation} (Counter): Cache operation errors
//
// Stream Metrics (pkg/stream):
//   - social_stream_frames_total{kind} (Counter): Frames delivered by kind (data, error)
//   - social_stream_keepalives_total (Counter): Keep-alive newlines received
//   - social_stream_malformed_total (Counter): Lines dropped as invalid JSON
//   - social_stream_reconnects_total{error_class} (Counter): Reconnects by fault class
//   - social_stream_backoff_seconds{error_class} (Histogram): Reconnect delays by fault class
//   - social_stream_sessions{state} (Gauge): Sessions per state
//
// Pagination Metrics (pkg/pagination):
//   - social_paginator_pages_total{direction} (Counter): Pages fetched by direction
//   - social_batch_chunks_total{result} (Counter): Lookup chunks by result
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(social_cache_hits_total[5m])) /
//   (sum(rate(social_cache_hits_total[5m])) + sum(rate(social_cache_misses_total[5m])))
//
//   # Rate Limited Requests
//   rate(social_errors_total{class="rate_limit"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(social_request_duration_seconds_bucket[5m]))
//
//   # Stream Reconnect Rate
//   sum by (error_class) (rate(social_stream_reconnects_total[15m]))
