package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/cenkalti/backoff/v4"
)

// Errors reported by a session.
var (
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("stream session closed")

	// ErrStalled marks a connection that stayed silent past the keep-alive timeout.
	ErrStalled = errors.New("stream stalled: no data within keep-alive timeout")

	// ErrServerClosed marks a body that ended; long-lived streams never end on their own.
	ErrServerClosed = errors.New("stream closed by server")

	// ErrRetriesExhausted wraps the last fault once MaxRetries is reached.
	ErrRetriesExhausted = errors.New("stream reconnect attempts exhausted")

	// ErrStreamEnded is returned after the server sent a disconnect message.
	ErrStreamEnded = errors.New("stream ended by server")
)

// Fault is a connection failure classified for the reconnect policy.
type Fault struct {
	Class client.ErrorClass
	Err   error

	// ResetAt is the quota reset reported with a rate limit response.
	ResetAt time.Time
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("stream fault (%s): %v", f.Class, f.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (f *Fault) Unwrap() error {
	return f.Err
}

// classifyFault maps an error from the pipeline or the body reader to a fault.
// Errors the pipeline does not know come from the body and count as network.
func classifyFault(err error) *Fault {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}

	fault = &Fault{Class: client.Classify(err), Err: err}
	if fault.Class == "" {
		fault.Class = client.ErrorClassNetwork
	}

	var rateErr *client.RateLimitError
	if errors.As(err, &rateErr) {
		fault.ResetAt = rateErr.ResetAt
	}
	return fault
}

// Policy is the tiered reconnect backoff.
type Policy struct {
	// NetworkStep is the linear increment for network faults and stalls.
	NetworkStep time.Duration
	NetworkMax  time.Duration

	// RateLimitFallback is used when a rate limit response has no usable
	// reset time. It doubles on consecutive rate limits up to RateLimitMax.
	RateLimitFallback time.Duration
	RateLimitMax      time.Duration

	// ServerInitial starts exponential backoff for 5xx responses.
	ServerInitial time.Duration
	ServerMax     time.Duration

	// MaxRetries bounds consecutive failed attempts (0 = retry forever).
	MaxRetries int
}

// DefaultPolicy returns the platform's recommended reconnect schedule.
func DefaultPolicy() Policy {
	return Policy{
		NetworkStep:       250 * time.Millisecond,
		NetworkMax:        16 * time.Second,
		RateLimitFallback: 60 * time.Second,
		RateLimitMax:      15 * time.Minute,
		ServerInitial:     5 * time.Second,
		ServerMax:         320 * time.Second,
	}
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Delay     time.Duration
	Fatal     bool
	Exhausted bool
	Attempt   int
}

// reconnector tracks consecutive failures per class since the last
// successful connect.
type reconnector struct {
	policy    Policy
	failures  int
	network   int
	rateLimit int
	server    *backoff.ExponentialBackOff
}

func newReconnector(p Policy) *reconnector {
	def := DefaultPolicy()
	if p.NetworkStep <= 0 {
		p.NetworkStep = def.NetworkStep
	}
	if p.NetworkMax <= 0 {
		p.NetworkMax = def.NetworkMax
	}
	if p.RateLimitFallback <= 0 {
		p.RateLimitFallback = def.RateLimitFallback
	}
	if p.RateLimitMax <= 0 {
		p.RateLimitMax = def.RateLimitMax
	}
	if p.ServerInitial <= 0 {
		p.ServerInitial = def.ServerInitial
	}
	if p.ServerMax <= 0 {
		p.ServerMax = def.ServerMax
	}

	server := backoff.NewExponentialBackOff()
	server.InitialInterval = p.ServerInitial
	server.MaxInterval = p.ServerMax
	server.Multiplier = 2
	server.RandomizationFactor = 0
	server.MaxElapsedTime = 0
	server.Reset()

	return &reconnector{policy: p, server: server}
}

// next decides how to handle fault observed at now.
func (r *reconnector) next(fault *Fault, now time.Time) Decision {
	r.failures++
	d := Decision{Attempt: r.failures}

	switch fault.Class {
	case client.ErrorClassNetwork:
		r.network++
		d.Delay = r.policy.NetworkStep * time.Duration(r.network)
		if d.Delay > r.policy.NetworkMax {
			d.Delay = r.policy.NetworkMax
		}

	case client.ErrorClassRateLimit:
		r.rateLimit++
		if !fault.ResetAt.IsZero() && fault.ResetAt.After(now) {
			d.Delay = fault.ResetAt.Sub(now)
			break
		}
		// Absent or stale reset: fixed fallback, doubled per repeat.
		d.Delay = r.policy.RateLimitFallback
		for i := 1; i < r.rateLimit && d.Delay < r.policy.RateLimitMax; i++ {
			d.Delay *= 2
		}
		if d.Delay > r.policy.RateLimitMax {
			d.Delay = r.policy.RateLimitMax
		}

	case client.ErrorClassServer:
		d.Delay = r.server.NextBackOff()
		if d.Delay == backoff.Stop || d.Delay > r.policy.ServerMax {
			d.Delay = r.policy.ServerMax
		}

	default:
		// auth, other 4xx and invalid requests never succeed on retry
		d.Fatal = true
		return d
	}

	if r.policy.MaxRetries > 0 && r.failures > r.policy.MaxRetries {
		d.Exhausted = true
	}
	return d
}

// reset is called once a connection delivered its first line.
func (r *reconnector) reset() {
	r.failures = 0
	r.network = 0
	r.rateLimit = 0
	r.server.Reset()
}
