package cache

import (
	"net/url"
	"testing"

	"github.com/Sternrassler/social-api-client/pkg/client"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "url only",
			key:  CacheKey{Method: "GET", URL: "https://api.twitter.com/1.1/geo/id/df51dec6f4ee2b2c.json"},
			want: "social:cache:GET:api.twitter.com/1.1/geo/id/df51dec6f4ee2b2c.json",
		},
		{
			name: "method normalized",
			key:  CacheKey{Method: "get", URL: "https://api.twitter.com/2/tweets"},
			want: "social:cache:GET:api.twitter.com/2/tweets",
		},
		{
			name: "query params sorted",
			key: CacheKey{
				Method: "GET",
				URL:    "https://api.twitter.com/1.1/statuses/user_timeline.json",
				QueryParams: url.Values{
					"screen_name": []string{"gopher"},
					"count":       []string{"200"},
				},
			},
			want: "social:cache:GET:api.twitter.com/1.1/statuses/user_timeline.json:count=200:screen_name=gopher",
		},
		{
			name: "multi value query",
			key: CacheKey{
				Method:      "GET",
				URL:         "https://api.twitter.com/1.1/users/lookup.json",
				QueryParams: url.Values{"user_id": []string{"1", "2"}},
			},
			want: "social:cache:GET:api.twitter.com/1.1/users/lookup.json:user_id=1,2",
		},
		{
			name: "credential scoped",
			key: CacheKey{
				Method:     "GET",
				URL:        "https://api.twitter.com/1.1/statuses/home_timeline.json",
				Credential: "oauth1:370773112",
			},
			want: "social:cache:GET:api.twitter.com/1.1/statuses/home_timeline.json:cred=oauth1:370773112",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Determinism(t *testing.T) {
	key := CacheKey{
		Method: "GET",
		URL:    "https://api.twitter.com/1.1/search/tweets.json",
		QueryParams: url.Values{
			"q":           []string{"golang"},
			"result_type": []string{"recent"},
			"count":       []string{"100"},
			"lang":        []string{"en"},
		},
	}

	first := key.String()
	for i := 0; i < 100; i++ {
		if got := key.String(); got != first {
			t.Fatalf("iteration %d: String() = %q, want %q", i, got, first)
		}
	}
}

func TestKeyFor(t *testing.T) {
	spec, err := client.NewRequest("GET", "geo/id/:place_id.json",
		client.WithPathParam("place_id", "df51dec6f4ee2b2c"),
		client.WithQuery(map[string]any{"lang": "en"}))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	bearer := KeyFor(spec, "bearer:abcd1234")
	anon := KeyFor(spec, "")

	if bearer.String() == anon.String() {
		t.Error("keys of different credentials must differ")
	}
	if want := "social:cache:GET:api.twitter.com/1.1/geo/id/df51dec6f4ee2b2c.json:lang=en"; anon.String() != want {
		t.Errorf("String() = %q, want %q", anon.String(), want)
	}
}
