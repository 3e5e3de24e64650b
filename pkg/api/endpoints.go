package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/Sternrassler/social-api-client/pkg/pagination"
	"github.com/Sternrassler/social-api-client/pkg/stream"
)

// Tweet is an undecoded tweet object. Callers decode what they need.
type Tweet = json.RawMessage

// User is an undecoded user object.
type User = json.RawMessage

// TweetID extracts id_str from a v1 tweet, falling back to v2 id.
func TweetID(t Tweet) string {
	var ids struct {
		IDStr string          `json:"id_str"`
		ID    json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(t, &ids); err != nil {
		return ""
	}
	if ids.IDStr != "" {
		return ids.IDStr
	}
	// v2 ids are quoted, v1 numeric ids are taken verbatim.
	return strings.Trim(string(ids.ID), `"`)
}

// GeoPlace returns all information about a known place.
func (r *ReadOnly) GeoPlace(ctx context.Context, placeID string) (*client.Response, error) {
	return r.Get(ctx, "geo/id/:place_id.json", nil, client.WithPathParam("place_id", placeID))
}

// UserTimeline pages statuses/user_timeline.json.
func (r *ReadOnly) UserTimeline(ctx context.Context, params map[string]any) (*pagination.Paginator[Tweet], error) {
	return r.timeline(ctx, "statuses/user_timeline.json", params)
}

// HomeTimeline pages statuses/home_timeline.json.
func (r *ReadOnly) HomeTimeline(ctx context.Context, params map[string]any) (*pagination.Paginator[Tweet], error) {
	return r.timeline(ctx, "statuses/home_timeline.json", params)
}

func (r *ReadOnly) timeline(ctx context.Context, template string, params map[string]any) (*pagination.Paginator[Tweet], error) {
	spec, err := r.Request("GET", template, client.WithQuery(params))
	if err != nil {
		return nil, err
	}
	return Paginate(ctx, r.pipeline, spec, pagination.Timeline, TimelineDecoder(TweetID))
}

// FollowersIDs pages followers/ids.json with string ids.
func (r *ReadOnly) FollowersIDs(ctx context.Context, params map[string]any) (*pagination.Paginator[string], error) {
	spec, err := r.Request("GET", "followers/ids.json",
		client.WithQuery(params),
		client.WithQuery(map[string]any{"stringify_ids": true}))
	if err != nil {
		return nil, err
	}
	return Paginate(ctx, r.pipeline, spec, pagination.CursoredCollection, CollectionDecoder[string]("ids"))
}

// SearchRecent pages the v2 recent search endpoint.
func (r *ReadOnly) SearchRecent(ctx context.Context, query string, params map[string]any) (*pagination.Paginator[Tweet], error) {
	spec, err := client.NewRequest("GET", "tweets/search/recent",
		client.WithPrefix(r.config.V2Prefix),
		client.WithQuery(params),
		client.WithQuery(map[string]any{"query": query}))
	if err != nil {
		return nil, err
	}
	return Paginate(ctx, r.pipeline, spec, pagination.SearchPaged, TokenDecoder[Tweet]())
}

// UsersLookup resolves user ids through users/lookup.json, 100 ids per
// request, in parallel. Users come back in request chunk order; partial
// results are returned together with the error.
func (r *ReadOnly) UsersLookup(ctx context.Context, userIDs []string) ([]User, error) {
	fetch := func(ctx context.Context, ids []string) ([]User, error) {
		resp, err := r.Get(ctx, "users/lookup.json", map[string]any{"user_id": ids})
		if err != nil {
			return nil, err
		}
		var users []User
		if err := resp.Decode(&users); err != nil {
			return nil, err
		}
		return users, nil
	}
	return pagination.NewBatchFetcher(fetch, r.config.Batch).FetchAll(ctx, userIDs)
}

// SampleStream opens statuses/sample.json.
func (r *ReadOnly) SampleStream(ctx context.Context, params map[string]any) (*stream.Session, error) {
	return r.Stream(ctx, "GET", "statuses/sample.json", client.WithQuery(params))
}

// FilterStream opens statuses/filter.json with form encoded filters such as
// track, follow and locations.
func (r *ReadOnly) FilterStream(ctx context.Context, params map[string]any) (*stream.Session, error) {
	return r.Stream(ctx, "POST", "statuses/filter.json", client.WithBody(params))
}

// Tweet posts a status update.
func (w *ReadWrite) Tweet(ctx context.Context, status string, params map[string]any) (*client.Response, error) {
	return w.Post(ctx, "statuses/update.json", params, client.WithBody(map[string]any{"status": status}))
}

// DeleteTweet destroys a status.
func (w *ReadWrite) DeleteTweet(ctx context.Context, id string) (*client.Response, error) {
	return w.Post(ctx, "statuses/destroy/:id.json", nil, client.WithPathParam("id", id))
}
