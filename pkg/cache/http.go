package cache

import (
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/client"
)

const (
	// DefaultTTL is the fallback TTL when neither the plugin nor the
	// response sets one
	DefaultTTL = 5 * time.Minute
)

// EntryFromResponse converts a pipeline response to a CacheEntry that
// expires after ttl, or at the response's Expires header when that is later.
// It returns nil when the response must not be cached.
func EntryFromResponse(resp *client.Response, ttl time.Duration, now time.Time) *CacheEntry {
	if resp == nil || resp.StatusCode != http.StatusOK || resp.FromHook {
		return nil
	}
	if noStore(resp.Header) {
		return nil
	}

	return &CacheEntry{
		Data:       append([]byte(nil), resp.Body...),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		RateLimit:  resp.RateLimit,
		Expires:    expiresAt(resp.Header, ttl, now),
		CachedAt:   now,
	}
}

func noStore(headers http.Header) bool {
	for _, v := range headers.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
				return true
			}
		}
	}
	return false
}

// expiresAt picks the later of now+ttl and a valid future Expires header.
func expiresAt(headers http.Header, ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expires := now.Add(ttl)

	if raw := headers.Get("Expires"); raw != "" {
		if parsed, err := http.ParseTime(raw); err == nil && parsed.After(expires) {
			return parsed
		}
	}
	return expires
}
