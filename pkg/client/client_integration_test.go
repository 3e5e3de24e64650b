//go:build integration

package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/social-api-client/internal/testutil"
	"github.com/Sternrassler/social-api-client/pkg/auth"
	"github.com/Sternrassler/social-api-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

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

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_ThrottleAcrossInstances(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockAPI()
	defer mock.Close()

	exhausted := testutil.NewJSONResponse(`[]`)
	for k, v := range testutil.RateLimitHeaders(15, 0, time.Minute) {
		exhausted.Headers[k] = v
	}
	mock.SetResponse("/1.1/statuses/user_timeline.json", exhausted)

	newClient := func() *Client {
		cfg := DefaultConfig(auth.Credentials{BearerToken: "shared-token"}, "TestApp/1.0.0")
		cfg.Tracker = ratelimit.NewTracker(ratelimit.NewRedisStore(redisClient), zerolog.Nop())
		cfg.Throttle = true
		c, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return c
	}

	first := newClient()
	second := newClient()

	spec, _ := NewRequest("GET", "statuses/user_timeline.json", WithPrefix(mock.Prefix()))

	ctx := context.Background()
	if _, err := first.Execute(ctx, spec); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}

	// The second instance sees the exhausted bucket through Redis.
	snap, err := second.RateLimit(ctx, spec)
	if err != nil {
		t.Fatalf("RateLimit() error = %v", err)
	}
	if snap == nil || !snap.IsExhausted() {
		t.Fatalf("snapshot = %+v, want exhausted", snap)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := second.Execute(waitCtx, spec); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Execute() error = %v, want throttled deadline", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("request count = %d, want 1", mock.GetRequestCount())
	}
}
