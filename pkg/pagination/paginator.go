package pagination

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/Sternrassler/social-api-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// ErrEndOfStream signals that no further items or pages exist. It is a
// normal termination, not a failure.
var ErrEndOfStream = errors.New("end of stream")

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "social_paginator_pages_total",
	Help: "Total pages fetched by paginators by direction",
}, []string{"direction"})

// Direction tells which cursor of a page produced a request.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Cursor is an opaque continuation token. The zero value means "first page".
type Cursor struct {
	Token     string
	Direction Direction
}

// IsZero reports whether the cursor carries no token.
func (c Cursor) IsZero() bool {
	return c.Token == ""
}

// Page is one fetched page. A zero Next or Previous cursor means there is no
// page in that direction.
type Page[T any] struct {
	Items     []T
	Next      Cursor
	Previous  Cursor
	RateLimit *ratelimit.Snapshot
}

// FetchFunc fetches the page addressed by cursor; a zero cursor requests the
// first page.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (Page[T], error)

// Paginator walks a cursor-paginated collection. It owns its cursor state and
// is not safe for concurrent use.
type Paginator[T any] struct {
	fetch FetchFunc[T]

	current Page[T]
	items   []T
	pos     int
	loaded  bool
	pages   int
}

// New creates a paginator positioned on an already fetched initial page.
func New[T any](initial Page[T], fetch FetchFunc[T]) *Paginator[T] {
	p := &Paginator[T]{fetch: fetch}
	p.load(initial, Forward)
	return p
}

// NewLazy creates a paginator that fetches the first page on first use.
func NewLazy[T any](fetch FetchFunc[T]) *Paginator[T] {
	return &Paginator[T]{fetch: fetch}
}

func (p *Paginator[T]) load(page Page[T], dir Direction) {
	if dir == Backward {
		p.items = append(append([]T(nil), page.Items...), p.items...)
	} else {
		p.items = append(p.items, page.Items...)
	}
	p.current = page
	p.pos = 0
	p.loaded = true
	p.pages++
}

func (p *Paginator[T]) fetchPage(ctx context.Context, cursor Cursor) (Page[T], error) {
	page, err := p.fetch(ctx, cursor)
	if err != nil {
		return Page[T]{}, err
	}
	pagesFetchedTotal.WithLabelValues(cursor.Direction.String()).Inc()
	log.Debug().
		Str("direction", cursor.Direction.String()).
		Int("items", len(page.Items)).
		Bool("has_next", !page.Next.IsZero()).
		Msg("Fetched page")
	return page, nil
}

func (p *Paginator[T]) ensureLoaded(ctx context.Context) error {
	if p.loaded {
		return nil
	}
	page, err := p.fetchPage(ctx, Cursor{})
	if err != nil {
		return err
	}
	p.load(page, Forward)
	return nil
}

// Next returns the next item, fetching further pages as needed. Empty
// pages that still carry a next cursor are skipped. It returns
// ErrEndOfStream once every item of the last page was returned.
// Errors from the fetch function are returned unchanged and leave the
// paginator where it was, so Next may be retried.
func (p *Paginator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := p.ensureLoaded(ctx); err != nil {
		return zero, err
	}

	for {
		if p.pos < len(p.current.Items) {
			item := p.current.Items[p.pos]
			p.pos++
			return item, nil
		}
		if _, err := p.NextPage(ctx); err != nil {
			return zero, err
		}
	}
}

// NextPage fetches the page after the current one and makes it current.
func (p *Paginator[T]) NextPage(ctx context.Context) (Page[T], error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return Page[T]{}, err
	}
	if p.current.Next.IsZero() {
		return Page[T]{}, ErrEndOfStream
	}

	cursor := p.current.Next
	cursor.Direction = Forward
	page, err := p.fetchPage(ctx, cursor)
	if err != nil {
		return Page[T]{}, err
	}
	p.load(page, Forward)
	return page, nil
}

// PreviousPage fetches the page before the current one and makes it current.
// Its items are prepended to Items.
func (p *Paginator[T]) PreviousPage(ctx context.Context) (Page[T], error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return Page[T]{}, err
	}
	if p.current.Previous.IsZero() {
		return Page[T]{}, ErrEndOfStream
	}

	cursor := p.current.Previous
	cursor.Direction = Backward
	page, err := p.fetchPage(ctx, cursor)
	if err != nil {
		return Page[T]{}, err
	}
	p.load(page, Backward)
	return page, nil
}

// Restart drops all state and fetches the first page again.
func (p *Paginator[T]) Restart(ctx context.Context) error {
	page, err := p.fetchPage(ctx, Cursor{})
	if err != nil {
		return err
	}
	p.items = nil
	p.pages = 0
	p.load(page, Forward)
	return nil
}

// FetchLast fetches forward until at least n items are held or the
// collection ends.
func (p *Paginator[T]) FetchLast(ctx context.Context, n int) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}
	for len(p.items) < n {
		if _, err := p.NextPage(ctx); err != nil {
			if errors.Is(err, ErrEndOfStream) {
				return nil
			}
			return err
		}
	}
	return nil
}

// All iterates over every remaining item. Iteration stops at the end of the
// collection or after yielding the first error.
func (p *Paginator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := p.Next(ctx)
			if errors.Is(err, ErrEndOfStream) {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Items returns a copy of every item fetched so far, in collection order.
func (p *Paginator[T]) Items() []T {
	return slices.Clone(p.items)
}

// Current returns the current page.
func (p *Paginator[T]) Current() Page[T] {
	return p.current
}

// Done reports whether the current page is the last one.
func (p *Paginator[T]) Done() bool {
	return p.loaded && p.current.Next.IsZero()
}

// Pages returns how many pages were loaded.
func (p *Paginator[T]) Pages() int {
	return p.pages
}

// RateLimit returns the rate limit reported with the current page.
func (p *Paginator[T]) RateLimit() *ratelimit.Snapshot {
	return p.current.RateLimit
}
