package client

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/Sternrassler/social-api-client/internal/testutil"
)

type hookRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *hookRecorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *hookRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func recordingHook(name string, rec *hookRecorder) Hook {
	return Hook{
		Name:            name,
		BeforeConfig:    func(context.Context, BeforeConfigEvent) *Response { rec.add(name + ":config"); return nil },
		BeforeSend:      func(context.Context, BeforeSendEvent) { rec.add(name + ":send") },
		AfterSuccess:    func(context.Context, AfterSuccessEvent) { rec.add(name + ":success") },
		OnRequestError:  func(context.Context, RequestErrorEvent) { rec.add(name + ":request_error") },
		OnResponseError: func(context.Context, ResponseErrorEvent) { rec.add(name + ":response_error") },
	}
}

func equalEvents(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHooks_Order(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	rec := &hookRecorder{}
	c := newTestClient(t, func(cfg *Config) {
		cfg.Hooks = []Hook{recordingHook("first", rec)}
	})
	c.Use(recordingHook("second", rec))

	spec, _ := NewRequest("GET", "statuses/mentions_timeline.json", WithPrefix(mock.Prefix()))
	if _, err := c.Execute(context.Background(), spec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []string{
		"first:config", "second:config",
		"first:send", "second:send",
		"first:success", "second:success",
	}
	if got := rec.list(); !equalEvents(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestHooks_ResponseError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/1.1/statuses/destroy/1.json", testutil.NewAuthErrorResponse())

	rec := &hookRecorder{}
	var seen *APIResponseError
	c := newTestClient(t, func(cfg *Config) {
		cfg.Hooks = []Hook{
			recordingHook("rec", rec),
			{Name: "capture", OnResponseError: func(_ context.Context, ev ResponseErrorEvent) { seen = ev.Err }},
		}
	})

	spec, _ := NewRequest("POST", "statuses/destroy/:id.json", WithPrefix(mock.Prefix()), WithPathParam("id", "1"))
	_, err := c.Execute(context.Background(), spec)
	if err == nil {
		t.Fatal("expected error, hooks must not suppress it")
	}

	want := []string{"rec:config", "rec:send", "rec:response_error"}
	if got := rec.list(); !equalEvents(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if seen == nil || seen.StatusCode != http.StatusUnauthorized {
		t.Errorf("OnResponseError saw %+v", seen)
	}
}

func TestHooks_BeforeConfigShortCircuit(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	rec := &hookRecorder{}
	c := newTestClient(t, func(cfg *Config) {
		cfg.Hooks = []Hook{
			{
				Name: "cache",
				BeforeConfig: func(context.Context, BeforeConfigEvent) *Response {
					return &Response{StatusCode: http.StatusOK, Body: []byte(`{"cached":true}`)}
				},
			},
			recordingHook("later", rec),
		}
	})

	spec, _ := NewRequest("GET", "users/show.json", WithPrefix(mock.Prefix()))
	resp, err := c.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !resp.FromHook {
		t.Error("FromHook = false, want true")
	}
	if string(resp.Body) != `{"cached":true}` {
		t.Errorf("Body = %s", resp.Body)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("request count = %d, want 0", mock.GetRequestCount())
	}
	if got := rec.list(); len(got) != 0 {
		t.Errorf("later hooks ran: %v", got)
	}
}

func TestHooks_BeforeSendCannotMutate(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var authSeen string
	c := newTestClient(t, func(cfg *Config) {
		cfg.Hooks = []Hook{{
			Name: "tamper",
			BeforeSend: func(_ context.Context, ev BeforeSendEvent) {
				authSeen = ev.Header.Get("Authorization")
				ev.Header.Set("Authorization", "Bearer stolen")
				ev.Header.Set("X-Injected", "1")
			},
		}}
	})

	spec, _ := NewRequest("GET", "account/verify_credentials.json", WithPrefix(mock.Prefix()))
	if _, err := c.Execute(context.Background(), spec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if authSeen != "Bearer test-bearer-token" {
		t.Errorf("hook saw Authorization %q", authSeen)
	}
	req := mock.LastRequest()
	if req.Header.Get("Authorization") != "Bearer test-bearer-token" {
		t.Errorf("Authorization sent = %q, want unchanged", req.Header.Get("Authorization"))
	}
	if req.Header.Get("X-Injected") != "" {
		t.Error("hook header mutation reached the wire")
	}
}

func TestHooks_AfterSuccessCannotMutate(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	c := newTestClient(t, func(cfg *Config) {
		cfg.Hooks = []Hook{{
			Name: "tamper",
			AfterSuccess: func(_ context.Context, ev AfterSuccessEvent) {
				for i := range ev.Response.Body {
					ev.Response.Body[i] = 'x'
				}
				ev.Response.Header.Set("X-Injected", "1")
				if ev.Response.RateLimit != nil {
					ev.Response.RateLimit.Remaining = -1
				}
			},
		}}
	})

	spec, _ := NewRequest("GET", "account/verify_credentials.json", WithPrefix(mock.Prefix()))
	resp, err := c.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(resp.Body) == 0 || resp.Body[0] == 'x' {
		t.Errorf("Body = %q, want the server payload", resp.Body)
	}
	if resp.Header.Get("X-Injected") != "" {
		t.Error("hook header mutation reached the caller")
	}
	if resp.RateLimit != nil && resp.RateLimit.Remaining == -1 {
		t.Error("hook rate limit mutation reached the caller")
	}
}
