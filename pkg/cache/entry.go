package cache

import (
	"net/http"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/Sternrassler/social-api-client/pkg/ratelimit"
)

// CacheEntry represents a cached API response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// RateLimit is the snapshot reported with the response, if any
	RateLimit *ratelimit.Snapshot `json:"rate_limit,omitempty"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Response rebuilds the pipeline response. The body and headers are copies.
func (e *CacheEntry) Response() *client.Response {
	return &client.Response{
		StatusCode: e.StatusCode,
		Header:     e.Headers.Clone(),
		Body:       append([]byte(nil), e.Data...),
		RateLimit:  e.RateLimit,
	}
}
