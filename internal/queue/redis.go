package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps the pending list at key and the in-flight list at
// key + ":inflight". Hand-off uses BLMOVE, so takes block server-side
// instead of polling.
type RedisQueue struct {
	client      *redis.Client
	key         string
	inflightKey string
}

// OpenRedis connects to the Redis instance at url (redis://host:port) and
// verifies it is reachable.
func OpenRedis(url, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url %q: %w", url, err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", url, err)
	}

	if key == "" {
		key = "changes"
	}
	return &RedisQueue{
		client:      client,
		key:         key,
		inflightKey: key + ":inflight",
	}, nil
}

func (q *RedisQueue) Push(ctx context.Context, body []byte) error {
	if err := q.client.RPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("failed to push item: %w", err)
	}
	return nil
}

func (q *RedisQueue) Take(ctx context.Context) (*Item, error) {
	for {
		body, err := q.client.BLMove(ctx, q.key, q.inflightKey, "LEFT", "RIGHT", time.Second).Result()
		if err == nil {
			return &Item{Body: []byte(body)}, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to take item: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// Ack removes one occurrence of the item's body from the in-flight list.
// Removing zero occurrences is not an error, so acking twice is safe.
func (q *RedisQueue) Ack(ctx context.Context, item *Item) error {
	if err := q.client.LRem(ctx, q.inflightKey, 1, item.Body).Err(); err != nil {
		return fmt.Errorf("failed to ack item: %w", err)
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, item *Item) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.inflightKey, 1, item.Body)
		pipe.RPush(ctx, q.key, item.Body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to requeue item: %w", err)
	}
	return nil
}

// Recover drains the in-flight list back onto the head of the pending list.
// Moving from the right of in-flight to the left of pending, repeatedly,
// restores the original FIFO order.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.inflightKey, q.key, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover in-flight items: %w", err)
		}
		moved++
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) InFlight(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.inflightKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read in-flight length: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) LenByVersion(ctx context.Context) (map[string]int, error) {
	bodies, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}
	counts := make(map[string]int)
	for _, body := range bodies {
		version := itemVersion([]byte(body))
		if version == "" {
			version = VersionUnknown
		}
		counts[version]++
	}
	return counts, nil
}

func (q *RedisQueue) Truncate(ctx context.Context) (int, error) {
	return q.truncate(ctx, func(string) bool { return true })
}

// TruncateByVersion rewrites the pending list without the matching items.
// Items whose version cannot be read never match, so they stay in place for
// inspection.
func (q *RedisQueue) TruncateByVersion(ctx context.Context, version string) (int, error) {
	return q.truncate(ctx, func(body string) bool {
		return itemVersion([]byte(body)) == version
	})
}

// truncate removes pending items matching drop under an optimistic WATCH so
// that items pushed concurrently are not lost. Retries a few times if a
// concurrent push invalidates the transaction.
func (q *RedisQueue) truncate(ctx context.Context, drop func(body string) bool) (int, error) {
	dropped := 0
	txn := func(tx *redis.Tx) error {
		bodies, err := tx.LRange(ctx, q.key, 0, -1).Result()
		if err != nil {
			return err
		}
		kept := make([]interface{}, 0, len(bodies))
		n := 0
		for _, body := range bodies {
			if drop(body) {
				n++
				continue
			}
			kept = append(kept, body)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, q.key)
			if len(kept) > 0 {
				pipe.RPush(ctx, q.key, kept...)
			}
			return nil
		})
		if err == nil {
			dropped = n
		}
		return err
	}

	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = q.client.Watch(ctx, txn, q.key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to truncate queue: %w", err)
	}
	return dropped, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
