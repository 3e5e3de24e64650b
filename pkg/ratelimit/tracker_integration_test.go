//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_RoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)
	ctx := context.Background()
	bucket := Bucket{Credential: "oauth1:42", Endpoint: "GET statuses/home_timeline.json"}

	snap, err := store.Get(ctx, bucket)
	if err != nil {
		t.Fatalf("Get() on empty store error = %v", err)
	}
	if snap != nil {
		t.Fatalf("Get() on empty store = %+v, want nil", snap)
	}

	now := time.Now()
	h := http.Header{}
	h.Set(HeaderLimit, "15")
	h.Set(HeaderRemaining, "7")
	h.Set(HeaderReset, strconv.FormatInt(now.Add(2*time.Minute).Unix(), 10))

	parsed, err := ParseHeaders(h, now)
	if err != nil {
		t.Fatalf("ParseHeaders() error = %v", err)
	}
	if err := store.Set(ctx, bucket, parsed); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, bucket)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Remaining != 7 || got.Limit != 15 {
		t.Errorf("Get() = %+v, want 7/15", got)
	}
	if !got.ResetAt.Equal(parsed.ResetAt) {
		t.Errorf("ResetAt = %v, want %v", got.ResetAt, parsed.ResetAt)
	}

	ttl, err := redisClient.TTL(ctx, RedisKeyPrefix+bucket.String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	tolerance := 5 * time.Second
	if ttl < 2*time.Minute-tolerance || ttl > 2*time.Minute+tolerance {
		t.Errorf("TTL = %v, want approximately 2m", ttl)
	}
}

func TestTracker_Integration_SharedAcrossInstances(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	writer := NewTracker(NewRedisStore(redisClient), logger)
	reader := NewTracker(NewRedisStore(redisClient), logger)
	ctx := context.Background()
	bucket := Bucket{Credential: "bearer:abc", Endpoint: "GET search/tweets.json"}

	snap := &Snapshot{Limit: 450, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second), CapturedAt: time.Now()}
	if err := writer.Update(ctx, bucket, snap); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	wait, err := reader.WaitDuration(ctx, bucket)
	if err != nil {
		t.Fatalf("WaitDuration() error = %v", err)
	}
	if wait <= 25*time.Second || wait > 30*time.Second {
		t.Errorf("WaitDuration() = %v, want about 30s", wait)
	}
}
