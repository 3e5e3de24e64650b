// Package cache provides a Redis backed response cache for the request
// pipeline.
//
// The cache plugs into client.Client as a hook: BeforeConfig answers GET
// requests from Redis without a network call, AfterSuccess stores 200
// responses. Error responses are never cached.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//	c.Use(cache.NewPlugin(manager, cache.PluginConfig{
//		TTL:        2 * time.Minute,
//		Credential: creds.ID(),
//	}))
//
// Cached responses come back with Response.FromHook set. Their RateLimit is
// the snapshot seen when the entry was stored.
//
// # Expiry
//
// Entries live for PluginConfig.TTL unless the response carries an Expires
// header in the future. Responses with Cache-Control no-store are skipped.
//
// # Metrics
//
//   - social_cache_hits_total{layer="redis"} - Cache hits
//   - social_cache_misses_total - Cache misses
//   - social_cache_bytes_total{operation} - Entry bytes read and written
//   - social_cache_errors_total{operation} - Cache operation errors
package cache
