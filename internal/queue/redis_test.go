//go:build integration

package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// openTestRedis connects to the Redis instance named by GT_TEST_REDIS_URL,
// skipping the test when none is configured. Each test gets its own key so
// runs do not interfere.
func openTestRedis(t *testing.T) *RedisQueue {
	t.Helper()
	url := os.Getenv("GT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GT_TEST_REDIS_URL not set; skipping redis queue tests")
	}
	key := fmt.Sprintf("gt-test-%d", time.Now().UnixNano())
	q, err := OpenRedis(url, key)
	if err != nil {
		t.Fatalf("OpenRedis failed: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		q.client.Del(ctx, q.key, q.inflightKey)
		_ = q.Close()
	})
	return q
}

func TestRedisPushTakeAck(t *testing.T) {
	q := openTestRedis(t)
	ctx := context.Background()

	first := payload("v1", 1)
	second := payload("v1", 2)
	if err := q.Push(ctx, first); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := q.Push(ctx, second); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	item, err := q.Take(ctx)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if string(item.Body) != string(first) {
		t.Errorf("Take returned %s, want first item", item.Body)
	}
	if n, _ := q.InFlight(ctx); n != 1 {
		t.Errorf("InFlight = %d, want 1", n)
	}
	if err := q.Ack(ctx, item); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if n, _ := q.InFlight(ctx); n != 0 {
		t.Errorf("InFlight = %d after ack, want 0", n)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestRedisRequeueAppendsToTail(t *testing.T) {
	q := openTestRedis(t)
	ctx := context.Background()

	a := payload("v1", 1)
	b := payload("v1", 2)
	if err := q.Push(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(ctx, b); err != nil {
		t.Fatal(err)
	}

	item, err := q.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Requeue(ctx, item); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	item, err = q.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(item.Body) != string(b) {
		t.Errorf("Take after requeue returned %s, want b", item.Body)
	}
}

func TestRedisRecoverRestoresOrder(t *testing.T) {
	q := openTestRedis(t)
	ctx := context.Background()

	a := payload("v1", 1)
	b := payload("v1", 2)
	c := payload("v1", 3)
	for _, body := range [][]byte{a, b, c} {
		if err := q.Push(ctx, body); err != nil {
			t.Fatal(err)
		}
	}

	// Take two without acking, as a crashed worker would.
	if _, err := q.Take(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Take(ctx); err != nil {
		t.Fatal(err)
	}

	moved, err := q.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if moved != 2 {
		t.Errorf("Recover moved %d, want 2", moved)
	}

	// Original order must be restored: a, b, c.
	for i, want := range [][]byte{a, b, c} {
		item, err := q.Take(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(item.Body) != string(want) {
			t.Errorf("Take %d returned %s, want %s", i, item.Body, want)
		}
		_ = q.Ack(ctx, item)
	}
}

func TestRedisTruncateByVersionKeepsMalformed(t *testing.T) {
	q := openTestRedis(t)
	ctx := context.Background()

	if err := q.Push(ctx, payload("v1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(ctx, []byte("{broken")); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(ctx, payload("v2", 2)); err != nil {
		t.Fatal(err)
	}

	dropped, err := q.TruncateByVersion(ctx, "v1")
	if err != nil {
		t.Fatalf("TruncateByVersion failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	counts, err := q.LenByVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["v2"] != 1 || counts[VersionUnknown] != 1 {
		t.Errorf("counts after truncate = %v, want v2:1 unknown:1", counts)
	}
}
