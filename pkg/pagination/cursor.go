package pagination

import "strconv"

// CursorParams names the query parameters that carry a cursor.
type CursorParams struct {
	Next     string
	Previous string
}

// Cursor parameter conventions of the platform.
var (
	// CursoredCollection is used by v1 id and user lists (next_cursor/previous_cursor).
	CursoredCollection = CursorParams{Next: "cursor", Previous: "cursor"}

	// Timeline pages v1 timelines by tweet id.
	Timeline = CursorParams{Next: "max_id", Previous: "since_id"}

	// TokenPaged is used by v2 list endpoints (meta.next_token/previous_token).
	TokenPaged = CursorParams{Next: "pagination_token", Previous: "pagination_token"}

	// SearchPaged is used by v2 search (next_token only).
	SearchPaged = CursorParams{Next: "next_token", Previous: ""}
)

// Query returns the query overrides for c. Parameters of the unused
// direction are cleared with an empty value.
func (p CursorParams) Query(c Cursor) map[string]string {
	q := map[string]string{}
	if p.Next != "" {
		q[p.Next] = ""
	}
	if p.Previous != "" {
		q[p.Previous] = ""
	}
	if c.IsZero() {
		return q
	}

	if c.Direction == Backward && p.Previous != "" {
		q[p.Previous] = c.Token
	} else {
		q[p.Next] = c.Token
	}
	return q
}

// CollectionCursors converts next_cursor_str/previous_cursor_str values.
// "0" marks the end in either direction.
func CollectionCursors(next, previous string) (Cursor, Cursor) {
	return tokenCursor(next, Forward), tokenCursor(previous, Backward)
}

// TokenCursors converts meta.next_token/previous_token values.
func TokenCursors(next, previous string) (Cursor, Cursor) {
	return tokenCursor(next, Forward), tokenCursor(previous, Backward)
}

func tokenCursor(token string, dir Direction) Cursor {
	if token == "" || token == "0" || token == "-0" {
		return Cursor{}
	}
	return Cursor{Token: token, Direction: dir}
}

// TimelineCursors derives max_id/since_id cursors from the smallest and
// largest tweet ids of a page. An empty page has no cursors.
func TimelineCursors(minID, maxID string) (Cursor, Cursor) {
	var next, prev Cursor

	if id, err := strconv.ParseUint(minID, 10, 64); err == nil && id > 1 {
		next = Cursor{Token: strconv.FormatUint(id-1, 10), Direction: Forward}
	}
	if maxID != "" {
		if _, err := strconv.ParseUint(maxID, 10, 64); err == nil {
			prev = Cursor{Token: maxID, Direction: Backward}
		}
	}
	return next, prev
}
