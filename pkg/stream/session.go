// Package stream maintains long-lived streaming connections: it decodes
// newline-delimited JSON frames, detects stalls through a keep-alive timer
// and reconnects with a tiered backoff until closed or a fatal fault.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for stream sessions.
var (
	streamFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_stream_frames_total",
		Help: "Total stream frames delivered by kind",
	}, []string{"kind"})

	streamKeepAlivesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "social_stream_keepalives_total",
		Help: "Total keep-alive signals received",
	})

	streamMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "social_stream_malformed_total",
		Help: "Total stream lines dropped as malformed JSON",
	})

	streamReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_stream_reconnects_total",
		Help: "Total reconnect attempts scheduled by fault class",
	}, []string{"error_class"})

	streamBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "social_stream_backoff_seconds",
		Help:    "Reconnect backoff duration by fault class",
		Buckets: []float64{0.25, 1, 4, 16, 60, 320, 900},
	}, []string{"error_class"})

	streamSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "social_stream_sessions",
		Help: "Stream sessions by connection state",
	}, []string{"state"})
)

// State is the connection state of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Opener opens a streaming response. *client.Client implements it.
type Opener interface {
	OpenStream(ctx context.Context, spec *client.RequestSpec) (*client.StreamResponse, error)
}

// ReconnectEvent describes a scheduled reconnect.
type ReconnectEvent struct {
	Attempt int
	Delay   time.Duration
	Fault   *Fault
}

// Config holds session settings.
type Config struct {
	// KeepAliveTimeout is the longest silence tolerated before the
	// connection counts as stalled.
	KeepAliveTimeout time.Duration

	// MaxLineBytes bounds one buffered line.
	MaxLineBytes int

	// DisableAutoReconnect makes the first fault fatal.
	DisableAutoReconnect bool

	Policy Policy

	// OnStateChange observes transitions. It runs on the session goroutine
	// and must not call Close.
	OnStateChange func(from, to State)

	// OnReconnect observes every scheduled reconnect before the wait starts.
	OnReconnect func(ReconnectEvent)

	// Now is the clock used to evaluate rate limit reset times.
	Now func() time.Time
}

// DefaultConfig returns the recommended settings: 90s platform keep-alive
// interval plus margin, infinite reconnects.
func DefaultConfig() Config {
	return Config{
		KeepAliveTimeout: 120 * time.Second,
		MaxLineBytes:     DefaultMaxLineBytes,
		Policy:           DefaultPolicy(),
	}
}

// Stats are session counters.
type Stats struct {
	Connects   int64
	Reconnects int64
	Frames     int64
	KeepAlives int64
	Malformed  int64
	LastFault  error
}

// Session is one logical stream. Frames are pulled with Next; a single
// goroutine owns the connection and serializes state transitions.
type Session struct {
	opener Opener
	spec   *client.RequestSpec
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	frames chan Frame
	done   chan struct{}
	ready  chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
	openErr   error

	mu        sync.Mutex
	state     State
	err       error
	lastFault error

	reconnector *reconnector

	connects   atomic.Int64
	reconnects atomic.Int64
	frameCount atomic.Int64
	keepAlives atomic.Int64
	malformed  atomic.Int64
}

// Open starts a session and waits for the first connection attempt.
// It returns the error when that attempt fails fatally; a retriable failure
// returns the session in StateReconnecting. Cancelling ctx closes the session.
func Open(ctx context.Context, opener Opener, spec *client.RequestSpec, cfg Config) (*Session, error) {
	if opener == nil {
		return nil, fmt.Errorf("opener is required")
	}
	if spec == nil {
		return nil, &client.InvalidRequestError{Reason: "request spec not built"}
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = DefaultConfig().KeepAliveTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		opener:      opener,
		spec:        spec,
		cfg:         cfg,
		logger:      log.With().Str("component", "stream-session").Str("endpoint", spec.Endpoint()).Logger(),
		ctx:         runCtx,
		cancel:      cancel,
		frames:      make(chan Frame),
		done:        make(chan struct{}),
		ready:       make(chan struct{}),
		state:       StateIdle,
		reconnector: newReconnector(cfg.Policy),
	}
	streamSessions.WithLabelValues(StateIdle.String()).Inc()

	s.setState(StateConnecting)
	go s.run()

	select {
	case <-s.ready:
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	if s.openErr != nil {
		<-s.done
		return nil, s.openErr
	}
	return s, nil
}

// Next blocks until a frame is available. It returns ErrClosed after Close,
// or the terminal error when the session gave up.
func (s *Session) Next(ctx context.Context) (Frame, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			if err := s.Err(); err != nil {
				return Frame{}, err
			}
			return Frame{}, ErrClosed
		}
		return frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close stops the session, cancelling any backoff wait and the open body.
// It is idempotent and returns once no more callbacks can fire.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
	return nil
}

// Done is closed once the session reached StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if the session failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	lastFault := s.lastFault
	s.mu.Unlock()

	return Stats{
		Connects:   s.connects.Load(),
		Reconnects: s.reconnects.Load(),
		Frames:     s.frameCount.Load(),
		KeepAlives: s.keepAlives.Load(),
		Malformed:  s.malformed.Load(),
		LastFault:  lastFault,
	}
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	streamSessions.WithLabelValues(from.String()).Dec()
	streamSessions.WithLabelValues(to.String()).Inc()

	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Stream state changed")
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

// signalReady releases Open with the outcome of the first attempt.
func (s *Session) signalReady(err error) {
	s.readyOnce.Do(func() {
		s.openErr = err
		close(s.ready)
	})
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.signalReady(err)
	s.logger.Error().Err(err).Msg("Stream session failed")
}

func (s *Session) run() {
	defer func() {
		s.setState(StateClosed)
		streamSessions.WithLabelValues(StateClosed.String()).Dec()
		close(s.frames)
		s.signalReady(nil)
		s.cancel()
		close(s.done)
	}()

	for {
		fault, ended := s.connect()
		if s.ctx.Err() != nil {
			return
		}
		if ended {
			s.fail(ErrStreamEnded)
			return
		}

		s.mu.Lock()
		s.lastFault = fault
		s.mu.Unlock()

		decision := s.reconnector.next(fault, s.cfg.Now())
		switch {
		case decision.Fatal:
			s.fail(fault)
			return
		case s.cfg.DisableAutoReconnect:
			s.fail(fault)
			return
		case decision.Exhausted:
			s.fail(fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, decision.Attempt-1, fault))
			return
		}

		s.setState(StateReconnecting)
		s.signalReady(nil)

		event := ReconnectEvent{Attempt: decision.Attempt, Delay: decision.Delay, Fault: fault}
		s.reconnects.Add(1)
		streamReconnectsTotal.WithLabelValues(string(fault.Class)).Inc()
		streamBackoffSeconds.WithLabelValues(string(fault.Class)).Observe(decision.Delay.Seconds())
		s.logger.Warn().
			Err(fault.Err).
			Str("error_class", string(fault.Class)).
			Int("attempt", decision.Attempt).
			Dur("backoff", decision.Delay).
			Msg("Stream fault - reconnecting after backoff")
		if s.cfg.OnReconnect != nil {
			s.cfg.OnReconnect(event)
		}

		timer := time.NewTimer(decision.Delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect opens one connection and consumes it until it faults. ended is
// true when the server sent a disconnect message.
func (s *Session) connect() (fault *Fault, ended bool) {
	resp, err := s.opener.OpenStream(s.ctx, s.spec)
	if err != nil {
		return classifyFault(err), false
	}
	defer resp.Body.Close()

	if s.ctx.Err() != nil {
		return nil, false
	}

	s.connects.Add(1)
	s.setState(StateStreaming)
	s.signalReady(nil)
	s.logger.Info().Int("status", resp.StatusCode).Msg("Stream connected")

	return s.consume(resp.Body)
}

type readResult struct {
	data []byte
	err  error
}

func readLoop(body io.Reader, out chan<- readResult, stop <-chan struct{}, lastRead *atomic.Int64) {
	buf := make([]byte, 32<<10)
	for {
		n, err := body.Read(buf)
		lastRead.Store(time.Now().UnixNano())

		var res readResult
		if n > 0 {
			res.data = append([]byte(nil), buf[:n]...)
		}
		res.err = err
		if n == 0 && err == nil {
			continue
		}

		select {
		case out <- res:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) consume(body io.ReadCloser) (*Fault, bool) {
	reads := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)

	var lastRead atomic.Int64
	lastRead.Store(time.Now().UnixNano())
	go readLoop(body, reads, stop, &lastRead)

	decoder := NewDecoder(s.cfg.MaxLineBytes)
	timeout := s.cfg.KeepAliveTimeout
	// Failure counters reset once the server sends a complete line, so a
	// server that accepts and drops every connection still exhausts MaxRetries.
	healthy := false
	stall := time.NewTimer(timeout)
	defer stall.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil, false

		case <-stall.C:
			// Time spent handing frames to a slow consumer is not silence.
			idle := time.Since(time.Unix(0, lastRead.Load()))
			if idle < timeout {
				stall.Reset(timeout - idle)
				continue
			}
			return &Fault{Class: client.ErrorClassNetwork, Err: ErrStalled}, false

		case res := <-reads:
			if len(res.data) > 0 {
				if err := decoder.Feed(res.data); err != nil {
					return &Fault{Class: client.ErrorClassNetwork, Err: err}, false
				}
				for line, ok := decoder.Next(); ok; line, ok = decoder.Next() {
					if !healthy {
						healthy = true
						s.reconnector.reset()
					}
					ended, delivered := s.handleLine(line)
					if !delivered {
						return nil, false
					}
					if ended {
						return nil, true
					}
				}
				stall.Reset(timeout)
			}

			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return &Fault{Class: client.ErrorClassNetwork, Err: ErrServerClosed}, false
				}
				return &Fault{Class: client.ErrorClassNetwork, Err: res.err}, false
			}
		}
	}
}

// handleLine processes one line. delivered is false when the session was
// closed while waiting for the consumer.
func (s *Session) handleLine(line []byte) (ended, delivered bool) {
	if len(line) == 0 {
		s.keepAlives.Add(1)
		streamKeepAlivesTotal.Inc()
		return false, true
	}

	frame, ok := parseFrame(line, time.Now())
	if !ok {
		s.malformed.Add(1)
		streamMalformedTotal.Inc()
		s.logger.Warn().Int("bytes", len(line)).Msg("Dropping malformed stream line")
		return false, true
	}

	select {
	case s.frames <- frame:
	case <-s.ctx.Done():
		return false, false
	}

	s.frameCount.Add(1)
	streamFramesTotal.WithLabelValues(frame.Kind.String()).Inc()
	if frame.Kind == FrameError {
		s.logger.Warn().RawJSON("payload", frame.Raw).Msg("In-band stream error")
	}
	return frame.Disconnect, true
}
