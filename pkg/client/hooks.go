package client

import (
	"bytes"
	"context"
	"net/http"
	"time"
)

// BeforeConfigEvent is passed to BeforeConfig hooks before the request is
// built for the wire.
type BeforeConfigEvent struct {
	Spec *RequestSpec
}

// BeforeSendEvent is passed to BeforeSend hooks once headers, including
// Authorization, are computed.
type BeforeSendEvent struct {
	Spec   *RequestSpec
	Header http.Header
	Stream bool
}

// AfterSuccessEvent is passed to AfterSuccess hooks.
type AfterSuccessEvent struct {
	Spec     *RequestSpec
	Response Response
	Duration time.Duration
}

// RequestErrorEvent is passed to OnRequestError hooks for network failures
// and partial responses.
type RequestErrorEvent struct {
	Spec     *RequestSpec
	Err      error
	Duration time.Duration
}

// ResponseErrorEvent is passed to OnResponseError hooks for error statuses.
type ResponseErrorEvent struct {
	Spec     *RequestSpec
	Err      *APIResponseError
	Duration time.Duration
}

// TokenEvent is passed to OnToken hooks after a token exchange succeeded,
// so credential stores can persist the result. One of Bearer and OAuth2 is set.
type TokenEvent struct {
	// Grant is "client_credentials" or "refresh_token".
	Grant  string
	Bearer *BearerToken
	OAuth2 *OAuth2Token
}

// Hook is one registered set of lifecycle callbacks. Nil fields are skipped.
// Hooks run synchronously in registration order. They observe; only
// BeforeConfig may influence the request, by returning a substitute response
// that is used instead of a network call. Hooks never suppress errors.
type Hook struct {
	Name string

	BeforeConfig    func(ctx context.Context, ev BeforeConfigEvent) *Response
	BeforeSend      func(ctx context.Context, ev BeforeSendEvent)
	AfterSuccess    func(ctx context.Context, ev AfterSuccessEvent)
	OnRequestError  func(ctx context.Context, ev RequestErrorEvent)
	OnResponseError func(ctx context.Context, ev ResponseErrorEvent)
	OnToken         func(ctx context.Context, ev TokenEvent)
}

// hookList is an immutable snapshot of registered hooks.
type hookList []Hook

func (h hookList) beforeConfig(ctx context.Context, ev BeforeConfigEvent) *Response {
	for _, hook := range h {
		if hook.BeforeConfig == nil {
			continue
		}
		if resp := hook.BeforeConfig(ctx, ev); resp != nil {
			return resp
		}
	}
	return nil
}

func (h hookList) beforeSend(ctx context.Context, ev BeforeSendEvent) {
	for _, hook := range h {
		if hook.BeforeSend != nil {
			ev.Header = ev.Header.Clone()
			hook.BeforeSend(ctx, ev)
		}
	}
}

// detached returns a copy whose Response shares no memory with the caller's.
func (ev AfterSuccessEvent) detached() AfterSuccessEvent {
	ev.Response.Header = ev.Response.Header.Clone()
	ev.Response.Body = bytes.Clone(ev.Response.Body)
	if ev.Response.RateLimit != nil {
		snap := *ev.Response.RateLimit
		ev.Response.RateLimit = &snap
	}
	return ev
}

func (h hookList) afterSuccess(ctx context.Context, ev AfterSuccessEvent) {
	for _, hook := range h {
		if hook.AfterSuccess != nil {
			hook.AfterSuccess(ctx, ev.detached())
		}
	}
}

func (h hookList) onRequestError(ctx context.Context, ev RequestErrorEvent) {
	for _, hook := range h {
		if hook.OnRequestError != nil {
			hook.OnRequestError(ctx, ev)
		}
	}
}

func (h hookList) onResponseError(ctx context.Context, ev ResponseErrorEvent) {
	for _, hook := range h {
		if hook.OnResponseError != nil {
			hook.OnResponseError(ctx, ev)
		}
	}
}

func (h hookList) onToken(ctx context.Context, ev TokenEvent) {
	for _, hook := range h {
		if hook.OnToken != nil {
			hook.OnToken(ctx, ev)
		}
	}
}
