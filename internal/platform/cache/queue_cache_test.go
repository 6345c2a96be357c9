package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/db"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *QueueCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewWithClient(client, 15*time.Second, zerolog.Nop())
}

func TestQueueCache_SetAndGet(t *testing.T) {
	_, qc := newTestCache(t)
	ctx := context.Background()

	if _, ok := qc.GetQueue(ctx, "clinic-1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	payload := []byte(`{"queue":[]}`)
	qc.SetQueue(ctx, "clinic-1", payload)

	got, ok := qc.GetQueue(ctx, "clinic-1")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(got) != string(payload) {
		t.Errorf("expected %s, got %s", payload, got)
	}

	// A different clinic is still a miss.
	if _, ok := qc.GetQueue(ctx, "clinic-2"); ok {
		t.Error("expected miss for different clinic")
	}
}

func TestQueueCache_Invalidate(t *testing.T) {
	_, qc := newTestCache(t)
	ctx := context.Background()

	qc.SetQueue(ctx, "clinic-1", []byte("view"))
	qc.Invalidate(ctx, "clinic-1")

	if _, ok := qc.GetQueue(ctx, "clinic-1"); ok {
		t.Error("expected miss after invalidation")
	}

	// Invalidating a missing key is a no-op.
	qc.Invalidate(ctx, "clinic-never-cached")
}

func TestQueueCache_TenantNamespacing(t *testing.T) {
	_, qc := newTestCache(t)

	ctxA := context.WithValue(context.Background(), db.TenantIDKey, "operator-a")
	ctxB := context.WithValue(context.Background(), db.TenantIDKey, "operator-b")

	qc.SetQueue(ctxA, "clinic-1", []byte("view-a"))

	if _, ok := qc.GetQueue(ctxB, "clinic-1"); ok {
		t.Error("expected tenant B not to see tenant A's cached view")
	}
	got, ok := qc.GetQueue(ctxA, "clinic-1")
	if !ok || string(got) != "view-a" {
		t.Errorf("expected tenant A hit, got %q ok=%v", got, ok)
	}
}

func TestQueueCache_TTLExpiry(t *testing.T) {
	mr, qc := newTestCache(t)
	ctx := context.Background()

	qc.SetQueue(ctx, "clinic-1", []byte("view"))
	mr.FastForward(16 * time.Second)

	if _, ok := qc.GetQueue(ctx, "clinic-1"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestQueueCache_ServerDown(t *testing.T) {
	mr, qc := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	// All operations degrade silently.
	if _, ok := qc.GetQueue(ctx, "clinic-1"); ok {
		t.Error("expected miss when server is down")
	}
	qc.SetQueue(ctx, "clinic-1", []byte("view"))
	qc.Invalidate(ctx, "clinic-1")
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New("not-a-url", time.Second, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid redis URL")
	}
}
