package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/social-api-client/pkg/client"
	"github.com/Sternrassler/social-api-client/pkg/pagination"
)

// PageDecoder turns one response into a page.
type PageDecoder[T any] func(resp *client.Response) (pagination.Page[T], error)

// PagedGet returns a FetchFunc that executes spec with the cursor merged
// into its query string by params.
func PagedGet[T any](c *client.Client, spec *client.RequestSpec, params pagination.CursorParams, decode PageDecoder[T]) pagination.FetchFunc[T] {
	return func(ctx context.Context, cursor pagination.Cursor) (pagination.Page[T], error) {
		resp, err := c.Execute(ctx, spec.WithQueryOverrides(params.Query(cursor)))
		if err != nil {
			return pagination.Page[T]{}, err
		}

		page, err := decode(resp)
		if err != nil {
			return pagination.Page[T]{}, fmt.Errorf("%s: %w", spec.Endpoint(), err)
		}
		if page.RateLimit == nil {
			page.RateLimit = resp.RateLimit
		}
		return page, nil
	}
}

// Paginate fetches the first page eagerly and returns a paginator over the
// rest, the way list endpoints hand back their first response.
func Paginate[T any](ctx context.Context, c *client.Client, spec *client.RequestSpec, params pagination.CursorParams, decode PageDecoder[T]) (*pagination.Paginator[T], error) {
	fetch := PagedGet(c, spec, params, decode)
	initial, err := fetch(ctx, pagination.Cursor{})
	if err != nil {
		return nil, err
	}
	return pagination.New(initial, fetch), nil
}

// CollectionDecoder decodes v1 cursored collections such as
// {"ids":[...],"next_cursor_str":"..","previous_cursor_str":".."}.
func CollectionDecoder[T any](field string) PageDecoder[T] {
	return func(resp *client.Response) (pagination.Page[T], error) {
		var envelope map[string]json.RawMessage
		if err := resp.Decode(&envelope); err != nil {
			return pagination.Page[T]{}, err
		}

		var page pagination.Page[T]
		if raw, ok := envelope[field]; ok {
			if err := json.Unmarshal(raw, &page.Items); err != nil {
				return pagination.Page[T]{}, fmt.Errorf("decode %s: %w", field, err)
			}
		}

		var cursors struct {
			Next     string `json:"next_cursor_str"`
			Previous string `json:"previous_cursor_str"`
		}
		if err := resp.Decode(&cursors); err != nil {
			return pagination.Page[T]{}, err
		}
		page.Next, page.Previous = pagination.CollectionCursors(cursors.Next, cursors.Previous)
		return page, nil
	}
}

// TimelineDecoder decodes v1 timelines (a bare JSON array) and derives
// max_id/since_id cursors from the ids returned by id.
func TimelineDecoder[T any](id func(T) string) PageDecoder[T] {
	return func(resp *client.Response) (pagination.Page[T], error) {
		var items []T
		if err := resp.Decode(&items); err != nil {
			return pagination.Page[T]{}, err
		}

		page := pagination.Page[T]{Items: items}
		if len(items) == 0 {
			return page, nil
		}

		minID, maxID := id(items[0]), id(items[0])
		for _, item := range items[1:] {
			v := id(item)
			if lessID(v, minID) {
				minID = v
			}
			if lessID(maxID, v) {
				maxID = v
			}
		}
		page.Next, page.Previous = pagination.TimelineCursors(minID, maxID)
		return page, nil
	}
}

// lessID compares decimal ids without parsing them.
func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// TokenDecoder decodes v2 lists: {"data":[...],"meta":{"next_token":".."}}.
func TokenDecoder[T any]() PageDecoder[T] {
	return func(resp *client.Response) (pagination.Page[T], error) {
		var body struct {
			Data []T `json:"data"`
			Meta struct {
				NextToken     string `json:"next_token"`
				PreviousToken string `json:"previous_token"`
			} `json:"meta"`
		}
		if err := resp.Decode(&body); err != nil {
			return pagination.Page[T]{}, err
		}

		page := pagination.Page[T]{Items: body.Data}
		page.Next, page.Previous = pagination.TokenCursors(body.Meta.NextToken, body.Meta.PreviousToken)
		return page, nil
	}
}
