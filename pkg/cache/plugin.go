package cache

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/rs/zerolog/log"
)

// PluginConfig configures the response cache hook.
type PluginConfig struct {
	// TTL is how long a response stays fresh (DefaultTTL when 0).
	TTL time.Duration

	// Credential scopes entries to one caller, usually Client.CredentialID().
	Credential string

	// Endpoints restricts caching to these endpoints ("GET geo/id/:place_id.json").
	// Empty caches every GET.
	Endpoints []string

	// Now is the clock used for expiry (time.Now when nil).
	Now func() time.Time
}

type plugin struct {
	manager   *Manager
	config    PluginConfig
	endpoints map[string]bool
}

// NewPlugin returns a pipeline hook that serves GET requests from Redis and
// stores successful responses. Cache failures are logged and never fail a
// request.
func NewPlugin(manager *Manager, cfg PluginConfig) client.Hook {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &plugin{manager: manager, config: cfg}
	if len(cfg.Endpoints) > 0 {
		p.endpoints = make(map[string]bool, len(cfg.Endpoints))
		for _, e := range cfg.Endpoints {
			p.endpoints[e] = true
		}
	}

	return client.Hook{
		Name:         "response-cache",
		BeforeConfig: p.beforeConfig,
		AfterSuccess: p.afterSuccess,
	}
}

func (p *plugin) cacheable(spec *client.RequestSpec) bool {
	if spec.Method() != http.MethodGet {
		return false
	}
	return p.endpoints == nil || p.endpoints[spec.Endpoint()]
}

func (p *plugin) beforeConfig(ctx context.Context, ev client.BeforeConfigEvent) *client.Response {
	if !p.cacheable(ev.Spec) {
		return nil
	}

	entry, err := p.manager.Get(ctx, KeyFor(ev.Spec, p.config.Credential))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Str("endpoint", ev.Spec.Endpoint()).Msg("Cache lookup failed")
		}
		return nil
	}

	log.Debug().
		Str("endpoint", ev.Spec.Endpoint()).
		Dur("age", p.config.Now().Sub(entry.CachedAt)).
		Msg("Serving response from cache")
	return entry.Response()
}

func (p *plugin) afterSuccess(ctx context.Context, ev client.AfterSuccessEvent) {
	if !p.cacheable(ev.Spec) {
		return
	}

	entry := EntryFromResponse(&ev.Response, p.config.TTL, p.config.Now())
	if entry == nil {
		return
	}
	if err := p.manager.Set(ctx, KeyFor(ev.Spec, p.config.Credential), entry); err != nil {
		log.Warn().Err(err).Str("endpoint", ev.Spec.Endpoint()).Msg("Cache store failed")
	}
}
