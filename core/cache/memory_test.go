package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "query:abc:analysis", []byte("payload"), time.Minute)

	got, ok := c.Get(ctx, "query:abc:analysis")
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}
}

func TestMemoryCacheExpiryNeverLeaksStaleValue(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set(ctx, "k", []byte("v"), 10*time.Second)

	c.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expired entry must read as a miss")
	}
}

func TestMemoryCacheZeroTTLIsDropped(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("zero-ttl set must not store")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("deleted entry must read as a miss")
	}
}

func TestMemoryCacheScanAndDelete(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "query:aaa:results", []byte("1"), time.Minute)
	c.Set(ctx, "query:bbb:results", []byte("2"), time.Minute)
	c.Set(ctx, "semantic:candidates:cat:food", []byte("3"), time.Minute)

	deleted, err := c.ScanAndDelete(ctx, "query:*:results")
	if err != nil {
		t.Fatalf("ScanAndDelete() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if _, ok := c.Get(ctx, "semantic:candidates:cat:food"); !ok {
		t.Error("non-matching key must survive the scan")
	}
}

func TestMemoryCacheSweepRemovesExpired(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set(ctx, "old", []byte("v"), time.Second)
	c.Set(ctx, "fresh", []byte("v"), time.Hour)

	c.now = func() time.Time { return base.Add(time.Minute) }
	c.sweep()

	c.mu.RLock()
	_, oldThere := c.entries["old"]
	_, freshThere := c.entries["fresh"]
	c.mu.RUnlock()

	if oldThere {
		t.Error("sweep should remove expired entries")
	}
	if !freshThere {
		t.Error("sweep must keep live entries")
	}
}

func TestHashHexIsOrderSensitive(t *testing.T) {
	if HashHex("a", "b") == HashHex("b", "a") {
		t.Error("part order must affect the fingerprint")
	}
	if HashHex("ab") == HashHex("a", "b") {
		t.Error("part boundaries must affect the fingerprint")
	}
}

func TestQueryKeyShape(t *testing.T) {
	key := QueryKey(HashHex("coffee shops", "{}"), SectionAnalysis)
	want := "query:" + HashHex("coffee shops", "{}") + ":analysis"
	if key != want {
		t.Errorf("QueryKey() = %q, want %q", key, want)
	}
}
