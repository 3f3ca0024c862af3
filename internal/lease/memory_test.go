package lease

import (
	"context"
	"testing"
	"time"
)

func TestMemory_AcquireReleaseExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	tok, ok, err := m.Acquire(ctx, "k", time.Minute)
	if err != nil || !ok || tok == "" {
		t.Fatalf("first acquire tok=%q ok=%v err=%v", tok, ok, err)
	}
	if _, ok, _ := m.Acquire(ctx, "k", time.Minute); ok {
		t.Fatalf("second acquire should fail while held")
	}

	// A stale token must not release someone else's lease.
	if err := m.Release(ctx, "k", "other"); err != nil {
		t.Fatalf("release err=%v", err)
	}
	if _, ok, _ := m.Acquire(ctx, "k", time.Minute); ok {
		t.Fatalf("lease released by wrong token")
	}

	if err := m.Release(ctx, "k", tok); err != nil {
		t.Fatalf("release err=%v", err)
	}
	tok2, ok, _ := m.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatalf("acquire after release failed")
	}

	now = now.Add(2 * time.Minute)
	tok3, ok, _ := m.Acquire(ctx, "k", time.Minute)
	if !ok || tok3 == tok2 {
		t.Fatalf("acquire after expiry ok=%v", ok)
	}
}
