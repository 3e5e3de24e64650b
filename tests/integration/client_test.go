//go:build integration

package integration

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/social-api-client/internal/testutil"
	"github.com/Sternrassler/social-api-client/pkg/api"
	"github.com/Sternrassler/social-api-client/pkg/auth"
	"github.com/Sternrassler/social-api-client/pkg/cache"
	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/Sternrassler/social-api-client/pkg/logging"
	"github.com/Sternrassler/social-api-client/pkg/ratelimit"
	"github.com/Sternrassler/social-api-client/pkg/stream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

// newStack builds a pipeline the way an application would: Redis backed
// rate limit state, the response cache and request logging.
func newStack(t *testing.T, mock *testutil.MockAPI, rdb *redis.Client, logs *bytes.Buffer) *api.ReadWrite {
	t.Helper()

	creds := auth.Credentials{BearerToken: "integration-bearer-token"}
	logger := zerolog.New(logs).Level(zerolog.DebugLevel)

	cfg := client.DefaultConfig(creds, "IntegrationTest/1.0")
	cfg.Throttle = true
	cfg.Tracker = ratelimit.NewTracker(ratelimit.NewRedisStore(rdb), logger)
	cfg.Hooks = []client.Hook{
		logging.Hook(logger),
		cache.NewPlugin(cache.NewManager(rdb), cache.PluginConfig{
			TTL:        time.Minute,
			Credential: creds.ID(),
		}),
	}

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	apiCfg := api.DefaultConfig()
	apiCfg.RESTPrefix = mock.Prefix()
	apiCfg.StreamPrefix = mock.Prefix()
	apiCfg.Stream.KeepAliveTimeout = 5 * time.Second
	return api.NewReadWrite(c, apiCfg)
}

func writePage(w http.ResponseWriter, body string, remaining int) {
	for k, v := range testutil.RateLimitHeaders(900, remaining, 15*time.Minute) {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func collectIDs(t *testing.T, rw *api.ReadWrite) []string {
	t.Helper()

	p, err := rw.UserTimeline(context.Background(), map[string]any{"screen_name": "gopher"})
	if err != nil {
		t.Fatalf("UserTimeline() error = %v", err)
	}

	var ids []string
	for tweet, err := range p.All(context.Background()) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		ids = append(ids, api.TweetID(tweet))
	}
	return ids
}

func TestFullStack_CachedTimeline(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/1.1/statuses/user_timeline.json", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("max_id") {
		case "":
			writePage(w, `[{"id_str":"30"},{"id_str":"29"}]`, 899)
		case "28":
			writePage(w, `[{"id_str":"28"}]`, 898)
		default:
			writePage(w, `[]`, 897)
		}
	})

	var logs bytes.Buffer
	rw := newStack(t, mock, setupRedis(t), &logs)

	if ids := collectIDs(t, rw); strings.Join(ids, ",") != "30,29,28" {
		t.Fatalf("first pass ids = %v", ids)
	}
	if mock.GetRequestCount() != 3 {
		t.Fatalf("first pass requests = %d, want 3", mock.GetRequestCount())
	}

	if ids := collectIDs(t, rw); strings.Join(ids, ",") != "30,29,28" {
		t.Errorf("cached pass ids = %v", ids)
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("cached pass must not reach the server, requests = %d", mock.GetRequestCount())
	}

	spec, err := rw.Request("GET", "statuses/user_timeline.json")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	snap, err := rw.Pipeline().RateLimit(context.Background(), spec)
	if err != nil {
		t.Fatalf("RateLimit() error = %v", err)
	}
	if snap == nil || snap.Remaining != 897 {
		t.Errorf("stored snapshot = %+v, want remaining 897", snap)
	}

	if !strings.Contains(logs.String(), "statuses/user_timeline.json") {
		t.Errorf("expected request logs, got %s", logs.String())
	}
}

func TestFullStack_SharedRateLimitState(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/1.1/geo/id/df51dec6f4ee2b2c.json", func(w http.ResponseWriter, r *http.Request) {
		for k, v := range testutil.RateLimitHeaders(15, 0, 30*time.Second) {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"df51dec6f4ee2b2c"}`))
	})

	rdb := setupRedis(t)
	var logs bytes.Buffer
	first := newStack(t, mock, rdb, &logs)
	second := newStack(t, mock, rdb, &logs)

	if _, err := first.GeoPlace(context.Background(), "df51dec6f4ee2b2c"); err != nil {
		t.Fatalf("first GeoPlace() error = %v", err)
	}

	spec, err := second.Request("GET", "geo/id/:place_id.json", client.WithPathParam("place_id", "df51dec6f4ee2b2c"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	wait, err := second.Pipeline().Tracker().WaitDuration(context.Background(), second.Pipeline().Bucket(spec))
	if err != nil {
		t.Fatalf("WaitDuration() error = %v", err)
	}
	if wait <= 0 {
		t.Fatalf("second pipeline must see the exhausted bucket, wait = %v", wait)
	}

	// Bypass the cache so the throttle decides.
	if _, err := cache.NewManager(rdb).Invalidate(context.Background(), ""); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = second.GeoPlace(ctx, "df51dec6f4ee2b2c")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("throttled GeoPlace() error = %v, want deadline exceeded", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestFullStack_StreamReconnects(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var connects atomic.Int32
	mock.SetHandler("/1.1/statuses/sample.json", func(w http.ResponseWriter, r *http.Request) {
		if connects.Add(1) == 1 {
			testutil.StreamHandler([]string{"{\"id_str\":\"1\"}\r\n"}, time.Millisecond, false)(w, r)
			return
		}
		testutil.StreamHandler([]string{
			"{\"id_str\":\"2\"}\r\n",
			"{\"disconnect\":{\"code\":7,\"reason\":\"admin logout\"}}\r\n",
		}, time.Millisecond, true)(w, r)
	})

	var logs bytes.Buffer
	rw := newStack(t, mock, setupRedis(t), &logs)
	apiCfg := api.DefaultConfig()
	apiCfg.StreamPrefix = mock.Prefix()
	apiCfg.Stream.KeepAliveTimeout = 5 * time.Second
	apiCfg.Stream.Policy.NetworkStep = 10 * time.Millisecond
	rw = api.NewReadWrite(rw.Pipeline(), apiCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := rw.SampleStream(ctx, nil)
	if err != nil {
		t.Fatalf("SampleStream() error = %v", err)
	}
	defer s.Close()

	var ids []string
	for {
		frame, err := s.Next(ctx)
		if errors.Is(err, stream.ErrStreamEnded) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if frame.Kind == stream.FrameData {
			ids = append(ids, api.TweetID(api.Tweet(frame.Raw)))
		}
	}

	if strings.Join(ids, ",") != "1,2" {
		t.Errorf("ids = %v, want 1,2", ids)
	}
	if stats := s.Stats(); stats.Connects != 2 || stats.Reconnects != 1 {
		t.Errorf("stats = %+v, want 2 connects and 1 reconnect", stats)
	}
}
