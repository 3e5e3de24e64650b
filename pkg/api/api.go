// Package api exposes capability scoped views over one request pipeline
// and the endpoint glue built on them.
//
// All facades share the same *client.Client, so hooks, rate limit state and
// transports are common to every view:
//
//	c, _ := client.New(client.DefaultConfig(creds, "MyApp/1.0"))
//	rw := api.NewReadWrite(c, api.DefaultConfig())
//	ro := rw.AsReadOnly()
package api

import (
	"context"
	"fmt"

	"github.com/Sternrassler/social-api-client/pkg/auth"
	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/Sternrassler/social-api-client/pkg/pagination"
	"github.com/Sternrassler/social-api-client/pkg/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the URL prefixes and the defaults used by the facades.
type Config struct {
	// RESTPrefix is prepended to v1.1 REST templates.
	RESTPrefix string
	// V2Prefix is prepended to v2 templates.
	V2Prefix string
	// StreamPrefix is prepended to v1.1 streaming templates.
	StreamPrefix string

	// Stream configures sessions opened through the facades.
	Stream stream.Config
	// Batch configures id chunked lookups.
	Batch pagination.Config
}

// DefaultConfig returns the production prefixes and defaults.
func DefaultConfig() Config {
	return Config{
		RESTPrefix:   client.DefaultPrefix,
		V2Prefix:     client.V2Prefix,
		StreamPrefix: client.StreamPrefix,
		Stream:       stream.DefaultConfig(),
		Batch:        pagination.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RESTPrefix == "" {
		c.RESTPrefix = def.RESTPrefix
	}
	if c.V2Prefix == "" {
		c.V2Prefix = def.V2Prefix
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = def.StreamPrefix
	}
	return c
}

// ReadOnly offers GET requests, paginators and streams.
type ReadOnly struct {
	pipeline *client.Client
	config   Config
	logger   zerolog.Logger
}

// NewReadOnly creates a read-only view over c.
func NewReadOnly(c *client.Client, cfg Config) *ReadOnly {
	return &ReadOnly{
		pipeline: c,
		config:   cfg.withDefaults(),
		logger:   log.With().Str("component", "api").Logger(),
	}
}

// Pipeline returns the underlying request pipeline.
func (r *ReadOnly) Pipeline() *client.Client {
	return r.pipeline
}

// Request builds a spec against the REST prefix unless opts override it.
func (r *ReadOnly) Request(method, template string, opts ...client.Option) (*client.RequestSpec, error) {
	opts = append([]client.Option{client.WithPrefix(r.config.RESTPrefix)}, opts...)
	return client.NewRequest(method, template, opts...)
}

// Get performs a GET request with query parameters.
func (r *ReadOnly) Get(ctx context.Context, template string, query map[string]any, opts ...client.Option) (*client.Response, error) {
	return r.do(ctx, "GET", template, append([]client.Option{client.WithQuery(query)}, opts...)...)
}

func (r *ReadOnly) do(ctx context.Context, method, template string, opts ...client.Option) (*client.Response, error) {
	spec, err := r.Request(method, template, opts...)
	if err != nil {
		return nil, err
	}
	return r.pipeline.Execute(ctx, spec)
}

// Stream opens a streaming session. Templates without a scheme resolve
// against the stream prefix.
func (r *ReadOnly) Stream(ctx context.Context, method, template string, opts ...client.Option) (*stream.Session, error) {
	opts = append([]client.Option{client.WithPrefix(r.config.StreamPrefix)}, opts...)
	spec, err := client.NewRequest(method, template, opts...)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("endpoint", spec.Endpoint()).Msg("Opening stream session")
	return stream.Open(ctx, r.pipeline, spec, r.config.Stream)
}

// ReadWrite adds mutating requests to ReadOnly.
type ReadWrite struct {
	*ReadOnly
}

// NewReadWrite creates a read-write view over c.
func NewReadWrite(c *client.Client, cfg Config) *ReadWrite {
	return &ReadWrite{ReadOnly: NewReadOnly(c, cfg)}
}

// AsReadOnly narrows the view. The returned value shares the pipeline.
func (w *ReadWrite) AsReadOnly() *ReadOnly {
	return w.ReadOnly
}

// Post sends body as a form unless opts choose another body mode.
func (w *ReadWrite) Post(ctx context.Context, template string, body map[string]any, opts ...client.Option) (*client.Response, error) {
	return w.do(ctx, "POST", template, append([]client.Option{client.WithBody(body)}, opts...)...)
}

// Put sends body as a form unless opts choose another body mode.
func (w *ReadWrite) Put(ctx context.Context, template string, body map[string]any, opts ...client.Option) (*client.Response, error) {
	return w.do(ctx, "PUT", template, append([]client.Option{client.WithBody(body)}, opts...)...)
}

// Delete performs a DELETE request with query parameters.
func (w *ReadWrite) Delete(ctx context.Context, template string, query map[string]any, opts ...client.Option) (*client.Response, error) {
	return w.do(ctx, "DELETE", template, append([]client.Option{client.WithQuery(query)}, opts...)...)
}

// AppOnly is a read-only view authenticated with an app-only bearer token.
type AppOnly struct {
	*ReadOnly
	token *client.BearerToken
}

// NewAppOnly exchanges the consumer keys of pipelineCfg.Credentials for a
// bearer token and returns a view over a new pipeline using it. The pipeline
// configuration is otherwise kept, including hooks and tracker.
func NewAppOnly(ctx context.Context, pipelineCfg client.Config, cfg Config) (*AppOnly, error) {
	creds := pipelineCfg.Credentials

	exchange := pipelineCfg
	exchange.Credentials = auth.Credentials{}
	exchange.Signer = nil
	bootstrap, err := client.New(exchange)
	if err != nil {
		return nil, err
	}
	defer bootstrap.Close()

	token, err := bootstrap.AppOnlyToken(ctx, creds.ConsumerKey, creds.ConsumerSecret)
	if err != nil {
		return nil, fmt.Errorf("app-only token: %w", err)
	}

	bearer := pipelineCfg
	bearer.Credentials = auth.Credentials{BearerToken: token.AccessToken}
	bearer.Signer = nil
	pipeline, err := client.New(bearer)
	if err != nil {
		return nil, err
	}

	return &AppOnly{ReadOnly: NewReadOnly(pipeline, cfg), token: token}, nil
}

// Token returns the bearer token in use.
func (a *AppOnly) Token() *client.BearerToken {
	return a.token
}
