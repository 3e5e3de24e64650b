package client

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestNewRequest_PathSubstitution(t *testing.T) {
	spec, err := NewRequest("GET", "geo/id/:place_id.json",
		WithPathParams(map[string]string{"place_id": "df51dec6f4ee2b2c"}))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	want := "https://api.twitter.com/1.1/geo/id/df51dec6f4ee2b2c.json"
	if spec.URL() != want {
		t.Errorf("URL() = %q, want %q", spec.URL(), want)
	}
	if spec.Endpoint() != "GET geo/id/:place_id.json" {
		t.Errorf("Endpoint() = %q", spec.Endpoint())
	}
}

func TestNewRequest_UnresolvedPlaceholder(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		pathParams map[string]string
		missing    []string
	}{
		{"no params", "geo/id/:place_id.json", map[string]string{}, []string{"place_id"}},
		{"empty value", "geo/id/:place_id.json", map[string]string{"place_id": ""}, []string{"place_id"}},
		{"one of two", "lists/:list_id/members/:user_id", map[string]string{"list_id": "1"}, []string{"user_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest("GET", tt.template, WithPathParams(tt.pathParams))

			var invalid *InvalidRequestError
			if !errors.As(err, &invalid) {
				t.Fatalf("error = %v, want *InvalidRequestError", err)
			}
			if strings.Join(invalid.Missing, ",") != strings.Join(tt.missing, ",") {
				t.Errorf("Missing = %v, want %v", invalid.Missing, tt.missing)
			}
		})
	}
}

func TestNewRequest_PathValuesEscaped(t *testing.T) {
	spec, err := NewRequest("GET", "users/:name/show.json", WithPathParam("name", "a b/c"))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if !strings.HasSuffix(spec.BaseURL(), "/users/a%20b%2Fc/show.json") {
		t.Errorf("BaseURL() = %q", spec.BaseURL())
	}
}

func TestNewRequest_PortIsNotPlaceholder(t *testing.T) {
	spec, err := NewRequest("GET", "http://127.0.0.1:8080/1.1/help/languages.json")
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if spec.BaseURL() != "http://127.0.0.1:8080/1.1/help/languages.json" {
		t.Errorf("BaseURL() = %q", spec.BaseURL())
	}
}

func TestNewRequest_Validation(t *testing.T) {
	if _, err := NewRequest("", "statuses/show.json"); err == nil {
		t.Error("expected error for empty method")
	}
	if _, err := NewRequest("GET", ""); err == nil {
		t.Error("expected error for empty template")
	}
}

func TestEncodeParams(t *testing.T) {
	var nilPtr *string
	count := 200
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	params := map[string]any{
		"ids":          []string{"1", "2", "3"},
		"user_ids":     []int64{10, 20},
		"mixed":        []any{"a", 1, true},
		"trim_user":    true,
		"count":        200,
		"count_ptr":    &count,
		"lat":          37.781157,
		"absent":       nil,
		"absent_ptr":   nilPtr,
		"since":        at,
		"screen_name":  "golang",
		"media_ids":    []string{"9"},
		"ext_metadata": map[string]string{"k": "v"},
	}

	values, err := EncodeParams(params, map[string]bool{"media_ids": true})
	if err != nil {
		t.Fatalf("EncodeParams() error = %v", err)
	}

	want := map[string]string{
		"ids":          "1,2,3",
		"user_ids":     "10,20",
		"mixed":        "a,1,true",
		"trim_user":    "true",
		"count":        "200",
		"count_ptr":    "200",
		"lat":          "37.781157",
		"since":        "2024-01-02T03:04:05Z",
		"screen_name":  "golang",
		"media_ids":    `["9"]`,
		"ext_metadata": `{"k":"v"}`,
	}
	for k, v := range want {
		if got := values.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	for _, k := range []string{"absent", "absent_ptr"} {
		if _, ok := values[k]; ok {
			t.Errorf("%s should be omitted, got %q", k, values.Get(k))
		}
	}
	for k, vs := range values {
		for _, v := range vs {
			if v == "undefined" || v == "<nil>" {
				t.Errorf("%s encoded as %q", k, v)
			}
		}
	}
}

func TestNewRequest_BodyModes(t *testing.T) {
	t.Run("POST form body", func(t *testing.T) {
		spec, err := NewRequest("POST", "statuses/update.json",
			WithBody(map[string]any{"status": "hello world"}),
			WithQuery(map[string]any{"include_entities": true}))
		if err != nil {
			t.Fatalf("NewRequest() error = %v", err)
		}
		if spec.BodyMode() != BodyForm {
			t.Errorf("BodyMode() = %v, want BodyForm", spec.BodyMode())
		}
		if spec.Form().Get("status") != "hello world" {
			t.Errorf("Form() = %v", spec.Form())
		}
		signed := spec.SignedParams()
		if signed.Get("status") == "" || signed.Get("include_entities") != "true" {
			t.Errorf("SignedParams() = %v, want query and form params", signed)
		}
	})

	t.Run("GET body params move to query", func(t *testing.T) {
		spec, err := NewRequest("GET", "search/tweets.json", WithBody(map[string]any{"q": "golang"}))
		if err != nil {
			t.Fatalf("NewRequest() error = %v", err)
		}
		if spec.BodyMode() != BodyNone {
			t.Errorf("BodyMode() = %v, want BodyNone", spec.BodyMode())
		}
		if spec.Query().Get("q") != "golang" {
			t.Errorf("Query() = %v", spec.Query())
		}
	})

	t.Run("JSON body is not signed", func(t *testing.T) {
		spec, err := NewRequest("POST", "tweets", WithPrefix(V2Prefix),
			WithJSONBody(map[string]string{"text": "hi"}))
		if err != nil {
			t.Fatalf("NewRequest() error = %v", err)
		}
		if spec.BodyMode() != BodyJSON {
			t.Errorf("BodyMode() = %v, want BodyJSON", spec.BodyMode())
		}
		if string(spec.JSONBody()) != `{"text":"hi"}` {
			t.Errorf("JSONBody() = %s", spec.JSONBody())
		}
		if len(spec.SignedParams()) != 0 {
			t.Errorf("SignedParams() = %v, want empty", spec.SignedParams())
		}
		if spec.BaseURL() != "https://api.twitter.com/2/tweets" {
			t.Errorf("BaseURL() = %q", spec.BaseURL())
		}
	})
}

func TestRequestSpec_Immutable(t *testing.T) {
	spec, err := NewRequest("GET", "statuses/home_timeline.json",
		WithQuery(map[string]any{"count": 20}),
		WithHeader("X-Test", "1"))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	q := spec.Query()
	q.Set("count", "999")
	h := spec.Header()
	h.Set("X-Test", "2")

	if spec.Query().Get("count") != "20" {
		t.Error("Query() copy leaked mutation into spec")
	}
	if spec.Header().Get("X-Test") != "1" {
		t.Error("Header() copy leaked mutation into spec")
	}

	next := spec.WithQueryOverrides(map[string]string{"max_id": "100", "count": ""})
	if next.Query().Get("max_id") != "100" || next.Query().Has("count") {
		t.Errorf("WithQueryOverrides() query = %v", next.Query())
	}
	if spec.Query().Has("max_id") {
		t.Error("WithQueryOverrides() mutated the original spec")
	}
}

func TestRequestSpec_URLEncoding(t *testing.T) {
	spec, err := NewRequest("GET", "search/tweets.json?result_type=recent",
		WithQuery(map[string]any{"q": "go lang+"}))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	u, err := url.Parse(spec.URL())
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	if u.RawQuery != "q=go%20lang%2B&result_type=recent" {
		t.Errorf("RawQuery = %q", u.RawQuery)
	}
}
