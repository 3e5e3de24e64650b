// Package logging provides structured logging configuration using zerolog
// and a pipeline hook that logs every request lifecycle event.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Hook returns a pipeline hook that logs request lifecycle events to logger.
// Authorization values are never logged.
func Hook(logger zerolog.Logger) client.Hook {
	return client.Hook{
		Name: "logging",
		BeforeSend: func(_ context.Context, ev client.BeforeSendEvent) {
			logger.Debug().
				Str("endpoint", ev.Spec.Endpoint()).
				Str("url", ev.Spec.URL()).
				Bool("signed", ev.Header.Get("Authorization") != "").
				Bool("stream", ev.Stream).
				Msg("Sending request")
		},
		AfterSuccess: func(_ context.Context, ev client.AfterSuccessEvent) {
			e := logger.Debug().
				Str("endpoint", ev.Spec.Endpoint()).
				Int("status_code", ev.Response.StatusCode).
				Dur("duration", ev.Duration).
				Int("bytes", len(ev.Response.Body))
			if rl := ev.Response.RateLimit; rl != nil {
				e = e.Int("rate_limit_remaining", rl.Remaining).Time("rate_limit_reset", rl.ResetAt)
			}
			e.Msg("Request succeeded")
		},
		OnRequestError: func(_ context.Context, ev client.RequestErrorEvent) {
			logger.Warn().
				Err(ev.Err).
				Str("endpoint", ev.Spec.Endpoint()).
				Str("error_class", string(client.Classify(ev.Err))).
				Dur("duration", ev.Duration).
				Msg("Request failed")
		},
		OnResponseError: func(_ context.Context, ev client.ResponseErrorEvent) {
			e := logger.Warn().
				Err(ev.Err).
				Str("endpoint", ev.Spec.Endpoint()).
				Int("status_code", ev.Err.StatusCode).
				Str("error_class", string(ev.Err.Class())).
				Dur("duration", ev.Duration)
			if len(ev.Err.Details) > 0 {
				e = e.Int("error_code", ev.Err.Details[0].Code)
			}
			e.Msg("Error response")
		},
		OnToken: func(_ context.Context, ev client.TokenEvent) {
			logger.Info().Str("grant", ev.Grant).Msg("Token exchanged")
		},
	}
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request flow (endpoint, signing, rate limit remaining)
//   - Cache hits and stores
//   - Page fetches
//   - Stream keep-alives and state changes
//
// Info: Normal operation events
//   - Token exchanges
//   - Stream connected
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Throttling on exhausted buckets
//   - Stream reconnects and malformed frames
//   - Cache errors (fallback to direct request)
//   - Error responses returned to the caller
//
// Error: Error conditions requiring attention
//   - Network failures
//   - Fatal stream errors (auth, other 4xx, retries exhausted)
//   - Configuration errors
//
// Context Fields:
//   - component: Package emitting the event
//   - endpoint: Method plus URL template ("GET geo/id/:place_id.json")
//   - status_code: HTTP status code
//   - duration: Request duration
//   - error_class: Error classification (client, auth, server, rate_limit, network, invalid_request)
//   - rate_limit_remaining: Remaining requests in the window
//   - attempt: Reconnect attempt number
