package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/social-api-client/pkg/client"
)

// KeyPrefix starts every cache key. Rate limit state uses its own prefix
// under the same namespace.
const KeyPrefix = "social:cache"

// CacheKey represents a unique identifier for a cached API response.
type CacheKey struct {
	// Method is the HTTP method (only GET is cached by the plugin)
	Method string

	// URL is the resolved request URL without query string
	URL string

	// QueryParams are the query parameters
	QueryParams url.Values

	// Credential identifies the caller ("" for anonymous); user context
	// responses must not leak between credentials
	Credential string
}

// KeyFor builds the cache key of a request spec.
func KeyFor(spec *client.RequestSpec, credential string) CacheKey {
	return CacheKey{
		Method:      spec.Method(),
		URL:         spec.BaseURL(),
		QueryParams: spec.Query(),
		Credential:  credential,
	}
}

// String generates a deterministic cache key string.
// Format: social:cache:METHOD:host/path:query1=val1:cred=id
//
// Example:
//
//	social:cache:GET:api.twitter.com/1.1/geo/id/df51dec6f4ee2b2c.json:cred=bearer:abcd1234
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if k.Method != "" {
		parts = append(parts, strings.ToUpper(k.Method))
	}

	// Scheme does not change the resource.
	target := k.URL
	if idx := strings.Index(target, "://"); idx >= 0 {
		target = target[idx+3:]
	}
	target = strings.Trim(target, "/")
	if target != "" {
		parts = append(parts, target)
	}

	// Add query params (sorted for determinism)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	if k.Credential != "" {
		parts = append(parts, "cred="+k.Credential)
	}

	return strings.Join(parts, ":")
}
