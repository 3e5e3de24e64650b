package pagination

import "testing"

func TestCursorParams_Query(t *testing.T) {
	tests := []struct {
		name   string
		params CursorParams
		cursor Cursor
		want   map[string]string
	}{
		{"collection first page", CursoredCollection, Cursor{}, map[string]string{"cursor": ""}},
		{"collection next", CursoredCollection, Cursor{Token: "1374004777531007833"}, map[string]string{"cursor": "1374004777531007833"}},
		{"timeline next", Timeline, Cursor{Token: "99"}, map[string]string{"max_id": "99", "since_id": ""}},
		{"timeline previous", Timeline, Cursor{Token: "120", Direction: Backward}, map[string]string{"max_id": "", "since_id": "120"}},
		{"v2 token", TokenPaged, Cursor{Token: "7140dibdnow9c7btw3w29grvxfcgvpb9n9coehpk7xz5i"}, map[string]string{"pagination_token": "7140dibdnow9c7btw3w29grvxfcgvpb9n9coehpk7xz5i"}},
		{"search backward has no param", SearchPaged, Cursor{Token: "abc", Direction: Backward}, map[string]string{"next_token": "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.params.Query(tt.cursor)
			if len(got) != len(tt.want) {
				t.Fatalf("Query() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestCollectionCursors(t *testing.T) {
	next, prev := CollectionCursors("1489467245150000000", "0")
	if next.Token != "1489467245150000000" || next.Direction != Forward {
		t.Errorf("next = %+v", next)
	}
	if !prev.IsZero() {
		t.Errorf("prev = %+v, want zero for \"0\"", prev)
	}

	next, prev = CollectionCursors("0", "-1489467245150000000")
	if !next.IsZero() || prev.Direction != Backward {
		t.Errorf("next = %+v prev = %+v", next, prev)
	}

	next, prev = TokenCursors("", "")
	if !next.IsZero() || !prev.IsZero() {
		t.Error("empty tokens must yield zero cursors")
	}
}

func TestTimelineCursors(t *testing.T) {
	next, prev := TimelineCursors("1050118621198921700", "1050118621198921728")
	if next.Token != "1050118621198921699" {
		t.Errorf("next = %q, want min id - 1", next.Token)
	}
	if prev.Token != "1050118621198921728" || prev.Direction != Backward {
		t.Errorf("prev = %+v", prev)
	}

	next, prev = TimelineCursors("", "")
	if !next.IsZero() || !prev.IsZero() {
		t.Error("empty page must have no cursors")
	}

	if next, _ := TimelineCursors("1", "1"); !next.IsZero() {
		t.Errorf("id 1 has no older page, got %+v", next)
	}
}
