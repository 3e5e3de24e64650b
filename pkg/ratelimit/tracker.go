package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKeyPrefix prefixes every bucket key stored in Redis.
const RedisKeyPrefix = "social:rate_limit:"

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "social_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window by endpoint",
	}, []string{"endpoint"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_rate_limit_throttles_total",
		Help: "Total number of requests delayed client-side until the window reset",
	}, []string{"endpoint"})
)

// Bucket is the scope a quota is tracked under.
type Bucket struct {
	// Credential is a non-secret credential identifier (see auth.Credentials.ID).
	Credential string

	// Endpoint is the HTTP method plus the unresolved URL template,
	// e.g. "GET statuses/user_timeline.json".
	Endpoint string
}

// String generates a deterministic key.
// Format: <credential>:<METHOD path>
func (b Bucket) String() string {
	return b.Credential + ":" + strings.Trim(b.Endpoint, "/")
}

// Store persists snapshots per bucket.
type Store interface {
	// Get returns nil, nil when no snapshot is stored for the bucket.
	Get(ctx context.Context, bucket Bucket) (*Snapshot, error)
	Set(ctx context.Context, bucket Bucket, snap *Snapshot) error
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]Snapshot)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, bucket Bucket) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.state[bucket.String()]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, bucket Bucket, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	m.mu.Lock()
	m.state[bucket.String()] = *snap
	m.mu.Unlock()
	return nil
}

// RedisStore shares snapshots across processes through Redis.
// Keys expire when the window resets.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, bucket Bucket) (*Snapshot, error) {
	data, err := r.redis.Get(ctx, RedisKeyPrefix+bucket.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse rate limit state: %w", err)
	}
	return &snap, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, bucket Bucket, snap *Snapshot) error {
	if snap == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal rate limit state: %w", err)
	}

	ttl := time.Until(snap.ResetAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	if err := r.redis.Set(ctx, RedisKeyPrefix+bucket.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Tracker records the last-seen snapshot per bucket and computes
// client-side throttle delays from it.
type Tracker struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker. A nil store falls back to a MemoryStore.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Update overwrites the bucket's snapshot. A nil snapshot is ignored.
func (t *Tracker) Update(ctx context.Context, bucket Bucket, snap *Snapshot) error {
	if snap == nil {
		return nil
	}

	if err := t.store.Set(ctx, bucket, snap); err != nil {
		return err
	}

	rateLimitRemaining.WithLabelValues(bucket.Endpoint).Set(float64(snap.Remaining))

	if snap.IsExhausted() {
		t.logger.Warn().
			Str("bucket", bucket.String()).
			Int("limit", snap.Limit).
			Time("reset_at", snap.ResetAt).
			Msg("Rate limit exhausted")
	} else {
		t.logger.Debug().
			Str("bucket", bucket.String()).
			Int("remaining", snap.Remaining).
			Int("limit", snap.Limit).
			Msg("Rate limit state updated")
	}

	return nil
}

// Get returns the last snapshot stored for the bucket, or nil.
func (t *Tracker) Get(ctx context.Context, bucket Bucket) (*Snapshot, error) {
	return t.store.Get(ctx, bucket)
}

// WaitDuration returns how long a request on bucket should be delayed.
// It is non-zero only when the last snapshot is exhausted and its window
// has not reset yet.
func (t *Tracker) WaitDuration(ctx context.Context, bucket Bucket) (time.Duration, error) {
	snap, err := t.store.Get(ctx, bucket)
	if err != nil {
		return 0, fmt.Errorf("get rate limit state: %w", err)
	}
	if !snap.IsExhausted() {
		return 0, nil
	}
	return snap.TimeUntilReset(t.now()), nil
}

// Wait blocks until the bucket's window resets when it is exhausted.
// It returns ctx.Err() if the context ends first.
func (t *Tracker) Wait(ctx context.Context, bucket Bucket) error {
	wait, err := t.WaitDuration(ctx, bucket)
	if err != nil {
		return err
	}
	if wait <= 0 {
		return nil
	}

	t.logger.Warn().
		Str("bucket", bucket.String()).
		Dur("wait_duration", wait).
		Msg("Rate limit exhausted - delaying request until reset")
	rateLimitThrottlesTotal.WithLabelValues(bucket.Endpoint).Inc()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
