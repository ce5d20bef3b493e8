// Package queue implements the durable change queue: a FIFO of pending
// mutation payloads with reliable hand-off to a single worker.
//
// The queue keeps two lists. Producers append to the pending list; the worker
// atomically moves one item from the head of pending to the in-flight list,
// processes it, then acks (removes from in-flight) or requeues (back to the
// tail of pending). If the worker dies mid-item, the item is still in the
// in-flight list and a recovery sweep at startup moves it back to pending.
//
// Two backends are provided: SQLite (default, zero external services) and
// Redis (for multi-producer deployments).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/untoldecay/graphtwin/internal/config"
)

// VersionUnknown is the grouping bucket for queued payloads whose version
// field cannot be read (malformed JSON or no version field). Such items are
// never matched by TruncateByVersion, so operators can still inspect them.
const VersionUnknown = "unknown"

var errEmpty = errors.New("queue is empty")

// Item is one queued payload. ID identifies the item within its backend
// while it is in flight; Body is the raw payload as pushed.
type Item struct {
	ID   int64
	Body []byte
}

// Queue is the durable change queue shared by producers (HTTP server, CLI)
// and the single worker.
//
// Take blocks until an item is available or ctx is done. All other methods
// return promptly. Implementations must be safe for concurrent producers;
// only one consumer may call Take/Ack/Requeue at a time.
type Queue interface {
	// Push appends a payload to the tail of the pending list.
	Push(ctx context.Context, body []byte) error

	// Take atomically moves the head of the pending list to the in-flight
	// list and returns it, blocking while the queue is empty.
	Take(ctx context.Context) (*Item, error)

	// Ack removes a taken item from the in-flight list.
	Ack(ctx context.Context, item *Item) error

	// Requeue removes a taken item from the in-flight list and appends it
	// to the tail of the pending list.
	Requeue(ctx context.Context, item *Item) error

	// Recover moves all in-flight items back to the head of the pending
	// list, preserving their original order. Called once at worker startup,
	// before Take.
	Recover(ctx context.Context) (int, error)

	// Len reports the number of pending items.
	Len(ctx context.Context) (int, error)

	// InFlight reports the number of in-flight items.
	InFlight(ctx context.Context) (int, error)

	// LenByVersion groups pending items by their version field. Items whose
	// version cannot be read count under VersionUnknown.
	LenByVersion(ctx context.Context) (map[string]int, error)

	// Truncate drops every pending item and reports how many were dropped.
	// In-flight items are untouched.
	Truncate(ctx context.Context) (int, error)

	// TruncateByVersion drops pending items whose version field equals
	// version. Items whose version cannot be read are kept in place.
	TruncateByVersion(ctx context.Context, version string) (int, error)

	Close() error
}

// Open constructs the queue backend selected by configuration
// (queue.backend: "sqlite" or "redis").
func Open() (Queue, error) {
	backend := config.GetString("queue.backend")
	switch backend {
	case "", "sqlite":
		return OpenSQLite(config.QueuePath())
	case "redis":
		return OpenRedis(config.GetString("queue.url"), config.GetString("queue.key"))
	default:
		return nil, fmt.Errorf("unknown queue backend %q (want sqlite or redis)", backend)
	}
}

// itemVersion reads the version field out of a payload for grouping and
// truncation scans. Returns "" when the payload cannot be decoded or carries
// no version.
func itemVersion(body []byte) string {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Version
}
