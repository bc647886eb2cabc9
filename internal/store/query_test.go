package store

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)
	ts2, id, err := decodeCursor(encodeCursor(ts, "trade-1|x"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ts2.Equal(ts) || id != "trade-1|x" {
		t.Errorf("got (%v, %q)", ts2, id)
	}

	for _, bad := range []string{"!!!", "bm8tc2VwYXJhdG9y", "eHx5"} {
		if _, _, err := decodeCursor(bad); err == nil {
			t.Errorf("decodeCursor(%q) should fail", bad)
		}
	}
}

func TestQueryBuilder(t *testing.T) {
	q := newQuery("account_id", "paper")
	q.eq("symbol", "")
	q.eq("status", "filled")
	if err := q.after("created_at", "order_id", encodeCursor(time.Unix(0, 0).UTC(), "o1")); err != nil {
		t.Fatal(err)
	}

	want := "account_id = $1 AND status = $2 AND (created_at, order_id) < ($3, $4)"
	if got := q.where(); got != want {
		t.Errorf("where = %q, want %q", got, want)
	}
	if q.next() != 5 {
		t.Errorf("next = %d, want 5", q.next())
	}
	if len(q.args) != 4 {
		t.Errorf("args = %d, want 4", len(q.args))
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{{0, 50}, {-1, 50}, {10, 10}, {200, 200}, {500, 200}}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
