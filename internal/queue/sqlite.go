package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/untoldecay/graphtwin/internal/config"
)

func init() {
	setupWASMCache()
}

// setupWASMCache persists the compiled SQLite WASM module across runs.
// Without it every process start pays the full wazero compile (~200ms on a
// laptop); with the on-disk cache later starts load in a few milliseconds.
// Falls back to an in-memory cache when the user cache dir is unavailable.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir := filepath.Join(dir, "graphtwin", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS queue_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    body BLOB NOT NULL,
    -- version is read from the payload at push time; NULL when unreadable,
    -- which keeps malformed items out of per-version truncation.
    version TEXT,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'inflight')),
    enqueued_at INTEGER NOT NULL,
    taken_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status, id);
`

// SQLiteQueue is the default queue backend. FIFO order is the rowid order of
// the pending rows; the in-flight list is the same table with
// status = 'inflight'.
type SQLiteQueue struct {
	db   *sql.DB
	poll time.Duration
}

// OpenSQLite opens (creating if needed) the queue database at path.
func OpenSQLite(path string) (*SQLiteQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if _, err := db.Exec(queueSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	poll := time.Duration(config.GetInt("queue.poll_interval_ms")) * time.Millisecond
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	return &SQLiteQueue{db: db, poll: poll}, nil
}

func (q *SQLiteQueue) Push(ctx context.Context, body []byte) error {
	var version any
	if v := itemVersion(body); v != "" {
		version = v
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_items (body, version, status, enqueued_at)
		VALUES (?, ?, 'pending', ?)
	`, body, version, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to push item: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) Take(ctx context.Context) (*Item, error) {
	for {
		item, err := q.tryTake(ctx)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, errEmpty) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *SQLiteQueue) tryTake(ctx context.Context) (*Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin take: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var item Item
	err = tx.QueryRowContext(ctx, `
		SELECT id, body FROM queue_items
		WHERE status = 'pending'
		ORDER BY id
		LIMIT 1
	`).Scan(&item.ID, &item.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_items SET status = 'inflight', taken_at = ? WHERE id = ?
	`, time.Now().UnixMilli(), item.ID); err != nil {
		return nil, fmt.Errorf("failed to mark item in flight: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit take: %w", err)
	}
	return &item, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, item *Item) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_items WHERE id = ? AND status = 'inflight'
	`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to ack item %d: %w", item.ID, err)
	}
	return nil
}

// Requeue deletes the in-flight row and inserts the body as a fresh pending
// row, which places it at the tail of the queue.
func (q *SQLiteQueue) Requeue(ctx context.Context, item *Item) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin requeue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM queue_items WHERE id = ? AND status = 'inflight'
	`, item.ID); err != nil {
		return fmt.Errorf("failed to remove in-flight item %d: %w", item.ID, err)
	}

	var version any
	if v := itemVersion(item.Body); v != "" {
		version = v
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO queue_items (body, version, status, enqueued_at)
		VALUES (?, ?, 'pending', ?)
	`, item.Body, version, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to requeue item %d: %w", item.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit requeue: %w", err)
	}
	return nil
}

// Recover flips in-flight rows back to pending. They keep their original
// rowids, so they sort ahead of anything pushed after they were taken.
func (q *SQLiteQueue) Recover(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'pending', taken_at = NULL
		WHERE status = 'inflight'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	return q.countStatus(ctx, "pending")
}

func (q *SQLiteQueue) InFlight(ctx context.Context) (int, error) {
	return q.countStatus(ctx, "inflight")
}

func (q *SQLiteQueue) countStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_items WHERE status = ?
	`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s items: %w", status, err)
	}
	return n, nil
}

func (q *SQLiteQueue) LenByVersion(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT COALESCE(version, ''), COUNT(*) FROM queue_items
		WHERE status = 'pending'
		GROUP BY COALESCE(version, '')
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items by version: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var version string
		var n int
		if err := rows.Scan(&version, &n); err != nil {
			return nil, err
		}
		if version == "" {
			version = VersionUnknown
		}
		counts[version] = n
	}
	return counts, rows.Err()
}

func (q *SQLiteQueue) Truncate(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_items WHERE status = 'pending'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// TruncateByVersion matches on the version column, so rows with a NULL
// version (unreadable payloads) always survive.
func (q *SQLiteQueue) TruncateByVersion(ctx context.Context, version string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_items WHERE status = 'pending' AND version = ?
	`, version)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate version %s: %w", version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
