package insights

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewCache(mr.Addr(), "", time.Hour)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c, mr
}

func TestCacheAggregateRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.GetAggregate(ctx); err != nil || ok {
		t.Fatalf("expected empty cache, got ok=%v err=%v", ok, err)
	}
	if err := c.SetAggregate(ctx, "top pain point: screen time"); err != nil {
		t.Fatalf("SetAggregate: %v", err)
	}
	doc, ok, err := c.GetAggregate(ctx)
	if err != nil || !ok {
		t.Fatalf("GetAggregate: ok=%v err=%v", ok, err)
	}
	if doc != "top pain point: screen time" {
		t.Fatalf("unexpected doc %q", doc)
	}
}

func TestCacheSummaryKeyedBySession(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.SetSummary(ctx, "sess-1", "summary one"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	if err := c.SetSummary(ctx, "sess-2", "summary two"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	got, ok, err := c.GetSummary(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("GetSummary: ok=%v err=%v", ok, err)
	}
	if got != "summary one" {
		t.Fatalf("unexpected summary %q", got)
	}
	if _, ok, _ := c.GetSummary(ctx, "sess-3"); ok {
		t.Fatal("expected miss for unknown session")
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.SetAggregate(ctx, "doc"); err != nil {
		t.Fatalf("SetAggregate: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if _, ok, err := c.GetAggregate(ctx); err != nil || ok {
		t.Fatalf("expected expiry, got ok=%v err=%v", ok, err)
	}
}
