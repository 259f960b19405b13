package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestTokenRoundTripPreservesCursor(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2025, 6, 29, 12, 0, 0, 0, time.UTC), ID: "ord_2"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Fatalf("unexpected cursor %+v", decoded)
	}
}

func TestCursorAfterOrdersNewestFirst(t *testing.T) {
	at := time.Date(2025, 6, 29, 12, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: at, ID: "b"}

	if !cursor.After(at.Add(-time.Minute), "z") {
		t.Fatalf("older item should come after cursor")
	}
	if cursor.After(at.Add(time.Minute), "a") {
		t.Fatalf("newer item should not come after cursor")
	}
	if !cursor.After(at, "a") || cursor.After(at, "c") {
		t.Fatalf("ties should break on id descending")
	}
	if !(Cursor{}).After(at, "x") {
		t.Fatalf("zero cursor should accept everything")
	}
}

func TestParse(t *testing.T) {
	params, err := Parse(url.Values{"pageSize": {"500"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != MaxPageSize {
		t.Fatalf("expected page size clamp, got %d", params.PageSize)
	}

	if _, err := Parse(url.Values{"pageSize": {"-1"}}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := Parse(url.Values{"pageToken": {"%%%"}}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}

	params, err = Parse(url.Values{})
	if err != nil || params.PageSize != DefaultPageSize {
		t.Fatalf("expected defaults, got %+v err=%v", params, err)
	}
}
