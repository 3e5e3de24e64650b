// Package ratelimit parses platform rate limit headers into snapshots and
// tracks the last-seen snapshot per (credential, endpoint) bucket.
//
// Tracking is advisory. The server enforces the real limit, so concurrent
// updates of one bucket are last-write-wins.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Rate limit response headers.
const (
	HeaderLimit     = "X-Rate-Limit-Limit"
	HeaderRemaining = "X-Rate-Limit-Remaining"
	HeaderReset     = "X-Rate-Limit-Reset"

	// Per-user 24 hour quota headers sent by some write endpoints.
	HeaderUserDayLimit     = "X-User-Limit-24hour-Limit"
	HeaderUserDayRemaining = "X-User-Limit-24hour-Remaining"
	HeaderUserDayReset     = "X-User-Limit-24hour-Reset"
)

// Snapshot is the quota state captured from one response.
// Invariants: 0 <= Remaining <= Limit and ResetAt is after CapturedAt.
type Snapshot struct {
	// Limit is the number of requests allowed in the current window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (absolute time).
	ResetAt time.Time `json:"reset_at"`

	// CapturedAt is the time the headers were read.
	CapturedAt time.Time `json:"captured_at"`

	// Stale is set when the server reported a reset at or before CapturedAt.
	// ResetAt then only marks the next second.
	Stale bool `json:"stale,omitempty"`

	// UserDay is the per-user 24 hour quota, when the endpoint reports one.
	UserDay *Snapshot `json:"user_day,omitempty"`
}

// IsExhausted reports whether no requests remain in the window.
func (s *Snapshot) IsExhausted() bool {
	return s != nil && s.Remaining <= 0
}

// IsElapsed reports whether the window has already reset at now.
func (s *Snapshot) IsElapsed(now time.Time) bool {
	return s == nil || !now.Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *Snapshot) TimeUntilReset(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseHeaders extracts a snapshot from response headers.
// It returns nil, nil when the response carries no rate limit headers.
func ParseHeaders(h http.Header, now time.Time) (*Snapshot, error) {
	snap, err := parseTriple(h, HeaderLimit, HeaderRemaining, HeaderReset, now)
	if err != nil || snap == nil {
		return snap, err
	}

	day, err := parseTriple(h, HeaderUserDayLimit, HeaderUserDayRemaining, HeaderUserDayReset, now)
	if err != nil {
		return nil, err
	}
	snap.UserDay = day

	return snap, nil
}

func parseTriple(h http.Header, limitKey, remainingKey, resetKey string, now time.Time) (*Snapshot, error) {
	limitStr := h.Get(limitKey)
	remainingStr := h.Get(remainingKey)
	resetStr := h.Get(resetKey)
	if limitStr == "" && remainingStr == "" && resetStr == "" {
		return nil, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", limitKey, err)
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", remainingKey, err)
	}
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", resetKey, err)
	}

	if limit < 0 {
		limit = 0
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}

	// Reset is second-granular epoch time; a reset at or before now means the
	// window rolls over within the current second.
	resetAt := time.Unix(reset, 0)
	stale := !resetAt.After(now)
	if stale {
		resetAt = now.Add(time.Second).Truncate(time.Second)
	}

	return &Snapshot{
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		Stale:      stale,
		CapturedAt: now,
	}, nil
}
