// Command stream-relay opens a platform stream and writes every data frame
// to stdout as newline delimited JSON. It serves /health, /ready and
// /metrics while running.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/api"
	"github.com/Sternrassler/social-api-client/pkg/auth"
	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/Sternrassler/social-api-client/pkg/logging"
	"github.com/Sternrassler/social-api-client/pkg/metrics"
	"github.com/Sternrassler/social-api-client/pkg/ratelimit"
	"github.com/Sternrassler/social-api-client/pkg/stream"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type relayConfig struct {
	Port      string
	UserAgent string
	LogLevel  string
	Pretty    bool
	RedisURL  string

	// Track and Follow select statuses/filter.json; both empty streams the sample.
	Track  string
	Follow string

	Credentials auth.Credentials
}

func loadConfig(getenv func(string) string) relayConfig {
	get := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	return relayConfig{
		Port:      get("PORT", "8080"),
		UserAgent: get("USER_AGENT", "social-stream-relay/0.1.0"),
		LogLevel:  get("LOG_LEVEL", "info"),
		Pretty:    get("LOG_PRETTY", "") == "true",
		RedisURL:  get("REDIS_URL", ""),
		Track:     get("STREAM_TRACK", ""),
		Follow:    get("STREAM_FOLLOW", ""),
		Credentials: auth.Credentials{
			ConsumerKey:    get("CONSUMER_KEY", ""),
			ConsumerSecret: get("CONSUMER_SECRET", ""),
			AccessToken:    get("ACCESS_TOKEN", ""),
			AccessSecret:   get("ACCESS_SECRET", ""),
			BearerToken:    get("BEARER_TOKEN", ""),
		},
	}
}

// newPipeline builds the request pipeline. Rate limit state is shared
// through Redis when redisClient is set.
func newPipeline(cfg relayConfig, redisClient *redis.Client, logger zerolog.Logger) (*client.Client, error) {
	pipelineCfg := client.DefaultConfig(cfg.Credentials, cfg.UserAgent)
	pipelineCfg.Throttle = true
	pipelineCfg.Hooks = []client.Hook{logging.Hook(logger)}
	if redisClient != nil {
		pipelineCfg.Tracker = ratelimit.NewTracker(ratelimit.NewRedisStore(redisClient), logger)
	}
	return client.New(pipelineCfg)
}

func openStream(ctx context.Context, ro *api.ReadOnly, cfg relayConfig) (*stream.Session, error) {
	if cfg.Track == "" && cfg.Follow == "" {
		return ro.SampleStream(ctx, nil)
	}

	params := map[string]any{}
	if cfg.Track != "" {
		params["track"] = strings.Split(cfg.Track, ",")
	}
	if cfg.Follow != "" {
		params["follow"] = strings.Split(cfg.Follow, ",")
	}
	return ro.FilterStream(ctx, params)
}

// relay copies data frames to w until the session ends or ctx is done.
// It returns the number of frames written.
func relay(ctx context.Context, s *stream.Session, w io.Writer, logger zerolog.Logger) (int, error) {
	written := 0
	for {
		frame, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrStreamEnded) || errors.Is(err, stream.ErrClosed) || errors.Is(err, context.Canceled) {
				return written, nil
			}
			return written, err
		}

		switch frame.Kind {
		case stream.FrameError:
			e := logger.Warn().Bool("disconnect", frame.Disconnect)
			if len(frame.Errors) > 0 {
				e = e.Int("error_code", frame.Errors[0].Code).Str("error_message", frame.Errors[0].Message)
			}
			e.Msg("Stream error frame")
		case stream.FrameData:
			if _, err := fmt.Fprintf(w, "%s\n", frame.Raw); err != nil {
				return written, fmt.Errorf("write frame: %w", err)
			}
			written++
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready while the session holds an open connection.
func readyHandler(s *stream.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state := s.State(); state != stream.StateStreaming {
			http.Error(w, state.String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func newMux(s *stream.Session) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(s))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := loadConfig(os.Getenv)
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.Pretty,
		Output: os.Stderr,
	})

	if err := run(cfg, logging.NewLogger("stream-relay")); err != nil {
		log.Fatal().Err(err).Msg("Stream relay failed")
	}
}

func run(cfg relayConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
	}

	pipeline, err := newPipeline(cfg, redisClient, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer pipeline.Close()

	session, err := openStream(ctx, api.NewReadOnly(pipeline, api.DefaultConfig()), cfg)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer session.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newMux(session),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Starting status server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Status server failed")
			stop()
		}
	}()

	written, relayErr := relay(ctx, session, os.Stdout, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Status server shutdown failed")
	}

	stats := session.Stats()
	logger.Info().
		Int("frames_written", written).
		Int64("reconnects", stats.Reconnects).
		Int64("malformed", stats.Malformed).
		Msg("Stream relay stopped")
	return relayErr
}
