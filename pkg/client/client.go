// Package client provides the request pipeline: request specs, parameter
// encoding, auth signing, response classification and rate limit
// extraction, with lifecycle hooks.
//
// The pipeline never retries. Retry policy belongs to callers, except for
// streaming reconnects handled by package stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/auth"
	"github.com/Sternrassler/social-api-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pipeline operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "social_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	hookShortCircuitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "social_hook_short_circuits_total",
		Help: "Total requests answered by a BeforeConfig hook without a network call",
	})
)

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// RateLimit is nil when the endpoint reported no rate limit headers.
	RateLimit *ratelimit.Snapshot

	// FromHook is true when a BeforeConfig hook supplied the response.
	FromHook bool
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StreamResponse is an open streaming response. The caller owns Body.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	RateLimit  *ratelimit.Snapshot
}

// Client is the request pipeline. It is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	signer       auth.Signer
	credentialID string
	tracker      *ratelimit.Tracker
	config       Config
	logger       zerolog.Logger

	mu    sync.RWMutex
	hooks hookList
}

// Config holds the pipeline configuration.
type Config struct {
	// Credentials select the signer when Signer is nil.
	Credentials auth.Credentials

	// Signer overrides Credentials.
	Signer auth.Signer

	// User-Agent header (REQUIRED)
	UserAgent string

	// Timeout is the per-request timeout for non-streaming requests.
	Timeout time.Duration

	// MaxBodyBytes guards how much of a response body is read.
	MaxBodyBytes int64

	// Tracker stores the last-seen rate limit snapshot per bucket.
	// A memory-backed tracker is created when nil.
	Tracker *ratelimit.Tracker

	// Throttle delays requests on exhausted buckets until their reset.
	Throttle bool

	// Hooks are registered in order.
	Hooks []Hook

	// HTTPClient and StreamHTTPClient override the transports (for testing).
	// The stream client must not set a whole-request timeout.
	HTTPClient       *http.Client
	StreamHTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(creds auth.Credentials, userAgent string) Config {
	return Config{
		Credentials:  creds,
		UserAgent:    userAgent,
		Timeout:      30 * time.Second,
		MaxBodyBytes: 16 << 20,
	}
}

// New creates a pipeline. Incomplete credentials yield *auth.AuthConfigError.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 << 20
	}

	signer := cfg.Signer
	if signer == nil {
		var err error
		signer, err = auth.NewSigner(cfg.Credentials)
		if err != nil {
			return nil, err
		}
	}

	logger := log.With().Str("component", "request-pipeline").Logger()

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, logger)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	streamClient := cfg.StreamHTTPClient
	if streamClient == nil {
		streamClient = &http.Client{}
	}

	return &Client{
		httpClient:   httpClient,
		streamClient: streamClient,
		signer:       signer,
		credentialID: cfg.Credentials.ID(),
		tracker:      tracker,
		config:       cfg,
		logger:       logger,
		hooks:        append(hookList(nil), cfg.Hooks...),
	}, nil
}

// Use registers a hook after the existing ones.
func (c *Client) Use(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Copy so in-flight requests keep their snapshot.
	hooks := make(hookList, 0, len(c.hooks)+1)
	hooks = append(hooks, c.hooks...)
	c.hooks = append(hooks, h)
}

func (c *Client) currentHooks() hookList {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks
}

// Bucket returns the rate limit bucket of a spec for this client's credentials.
func (c *Client) Bucket(spec *RequestSpec) ratelimit.Bucket {
	return ratelimit.Bucket{Credential: c.credentialID, Endpoint: spec.Endpoint()}
}

// RateLimit returns the last snapshot seen for the spec's bucket, or nil.
func (c *Client) RateLimit(ctx context.Context, spec *RequestSpec) (*ratelimit.Snapshot, error) {
	return c.tracker.Get(ctx, c.Bucket(spec))
}

// CredentialID returns the non-secret identifier of the configured
// credentials, as used for rate limit buckets.
func (c *Client) CredentialID() string {
	return c.credentialID
}

// Tracker returns the rate limit tracker.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// Execute dispatches spec and returns the fully read response, or one of
// *InvalidRequestError, *APIRequestError, *APIPartialResponseError,
// *APIResponseError, *RateLimitError.
func (c *Client) Execute(ctx context.Context, spec *RequestSpec) (*Response, error) {
	if spec == nil || spec.baseURL == "" {
		return nil, &InvalidRequestError{Reason: "request spec not built"}
	}

	endpoint := spec.Endpoint()
	hooks := c.currentHooks()

	if resp := hooks.beforeConfig(ctx, BeforeConfigEvent{Spec: spec}); resp != nil {
		hookShortCircuitsTotal.Inc()
		c.logger.Debug().Str("endpoint", endpoint).Msg("Response supplied by hook")
		out := *resp
		out.FromHook = true
		return &out, nil
	}

	if c.config.Throttle {
		if err := c.tracker.Wait(ctx, c.Bucket(spec)); err != nil {
			return nil, &APIRequestError{Method: spec.method, URL: spec.baseURL, Err: err}
		}
	}

	req, err := c.buildHTTPRequest(ctx, spec)
	if err != nil {
		return nil, err
	}
	hooks.beforeSend(ctx, BeforeSendEvent{Spec: spec, Header: req.Header})

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", spec.method).
		Msg("Executing request")

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.transport().Do(req)
	if err != nil {
		reqErr := &APIRequestError{Method: spec.method, URL: spec.baseURL, Err: err}
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		hooks.onRequestError(ctx, RequestErrorEvent{Spec: spec, Err: reqErr, Duration: time.Since(startTime)})
		return nil, reqErr
	}
	defer resp.Body.Close()

	snap := c.recordRateLimit(ctx, spec, resp.Header)

	body, readErr := c.readBody(resp)
	if readErr != nil {
		var outErr error
		if errors.Is(readErr, ErrBodyTooLarge) {
			outErr = &APIRequestError{Method: spec.method, URL: spec.baseURL, Err: readErr}
		} else {
			outErr = &APIPartialResponseError{
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       body,
				RateLimit:  snap,
				Err:        readErr,
			}
		}
		c.logger.Warn().Err(readErr).Str("endpoint", endpoint).Int("read_bytes", len(body)).Msg("Response body incomplete")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "partial").Inc()
		hooks.onRequestError(ctx, RequestErrorEvent{Spec: spec, Err: outErr, Duration: time.Since(startTime)})
		return nil, outErr
	}

	status := strconv.Itoa(resp.StatusCode)
	requestsTotal.WithLabelValues(endpoint, status).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("API request error")

		err := newResponseError(resp.StatusCode, resp.Header, body, snap)
		var respErr *APIResponseError
		if errors.As(err, &respErr) {
			hooks.onResponseError(ctx, ResponseErrorEvent{Spec: spec, Err: respErr, Duration: time.Since(startTime)})
		}
		return nil, err
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		RateLimit:  snap,
	}
	hooks.afterSuccess(ctx, AfterSuccessEvent{Spec: spec, Response: *out, Duration: time.Since(startTime)})

	return out, nil
}

// OpenStream dispatches spec on the streaming transport and returns the
// undrained body on success. Error statuses are read, classified and
// returned like Execute does.
func (c *Client) OpenStream(ctx context.Context, spec *RequestSpec) (*StreamResponse, error) {
	if spec == nil || spec.baseURL == "" {
		return nil, &InvalidRequestError{Reason: "request spec not built"}
	}

	endpoint := spec.Endpoint()
	hooks := c.currentHooks()

	req, err := c.buildHTTPRequest(ctx, spec)
	if err != nil {
		return nil, err
	}
	hooks.beforeSend(ctx, BeforeSendEvent{Spec: spec, Header: req.Header, Stream: true})

	c.logger.Debug().Str("endpoint", endpoint).Msg("Opening stream")

	startTime := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		reqErr := &APIRequestError{Method: spec.method, URL: spec.baseURL, Err: err}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		hooks.onRequestError(ctx, RequestErrorEvent{Spec: spec, Err: reqErr, Duration: time.Since(startTime)})
		return nil, reqErr
	}

	snap := c.recordRateLimit(ctx, spec, resp.Header)
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := c.readBody(resp)

		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		err := newResponseError(resp.StatusCode, resp.Header, body, snap)
		var respErr *APIResponseError
		if errors.As(err, &respErr) {
			hooks.onResponseError(ctx, ResponseErrorEvent{Spec: spec, Err: respErr, Duration: time.Since(startTime)})
		}
		return nil, err
	}

	return &StreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		RateLimit:  snap,
	}, nil
}

func (c *Client) buildHTTPRequest(ctx context.Context, spec *RequestSpec) (*http.Request, error) {
	var body io.Reader
	contentType := ""
	switch spec.bodyMode {
	case BodyForm:
		body = strings.NewReader(EncodeValues(spec.form))
		contentType = "application/x-www-form-urlencoded"
	case BodyJSON:
		body = bytes.NewReader(spec.jsonBody)
		contentType = "application/json"
	}

	fullURL := spec.URL()
	req, err := http.NewRequestWithContext(ctx, spec.method, fullURL, body)
	if err != nil {
		return nil, &InvalidRequestError{Template: spec.template, Reason: fmt.Sprintf("create request: %v", err)}
	}

	for k, vs := range spec.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	// An explicit Authorization header (token exchange) bypasses signing.
	if req.Header.Get("Authorization") == "" {
		header, err := c.signer.Sign(spec.method, spec.baseURL, spec.SignedParams())
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		if header != "" {
			req.Header.Set("Authorization", header)
		}
	}

	return req, nil
}

// readBody reads at most MaxBodyBytes. A body shorter than the declared
// Content-Length is reported as io.ErrUnexpectedEOF with the bytes read.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, c.config.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, c.config.MaxBodyBytes)
	}
	if resp.ContentLength > 0 && int64(len(body)) < resp.ContentLength {
		return body, io.ErrUnexpectedEOF
	}
	return body, nil
}

func (c *Client) recordRateLimit(ctx context.Context, spec *RequestSpec, header http.Header) *ratelimit.Snapshot {
	snap, err := ratelimit.ParseHeaders(header, time.Now())
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", spec.Endpoint()).Msg("Failed to parse rate limit headers")
		return nil
	}
	if snap == nil {
		return nil
	}
	if err := c.tracker.Update(ctx, c.Bucket(spec), snap); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
	}
	return snap
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.transport().CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing). Requests already
// in flight finish on the previous client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = client
}

func (c *Client) transport() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}
