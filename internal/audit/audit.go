// Package audit records every mutation outcome in an append-only SQLite
// table. Entry ids are content-derived, so replaying a payload (the queue is
// at-least-once) never produces a duplicate row.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Outcome values for a recorded delta.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
)

// deltaNamespace is the fixed UUIDv5 namespace for delta ids.
var deltaNamespace = uuid.MustParse("8f1c2a4e-3d5b-4c6a-9e7f-102938475665")

// Delta is one mutation outcome. ID is derived from the content fields, so
// the same payload outcome always maps to the same row.
type Delta struct {
	ID        string          `json:"id"`
	Version   string          `json:"version"`
	Action    string          `json:"action"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Outcome   string          `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EntryID returns the deterministic id for a delta's content fields.
func EntryID(d *Delta) string {
	parts := strings.Join([]string{
		d.Version,
		d.Action,
		d.Type,
		strconv.FormatInt(d.Timestamp, 10),
		d.Outcome,
		string(d.Payload),
	}, "|")
	return uuid.NewSHA1(deltaNamespace, []byte(parts)).String()
}

// Log is the audit sink the worker writes to. Recording must never make a
// mutation fail; callers log record errors and move on.
type Log interface {
	Record(ctx context.Context, d *Delta) (string, error)
	List(ctx context.Context, version string, limit int) ([]*Delta, error)
	Close() error
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS state_deltas (
    id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    action TEXT NOT NULL,
    change_type TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    outcome TEXT NOT NULL DEFAULT 'applied',
    error TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_state_deltas_version ON state_deltas(version, timestamp);
`

// SQLiteLog is the durable audit backend.
type SQLiteLog struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*SQLiteLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Record inserts the delta, deriving its id when unset. Re-recording an
// identical delta is a no-op and returns the same id.
func (l *SQLiteLog) Record(ctx context.Context, d *Delta) (string, error) {
	if d == nil {
		return "", fmt.Errorf("nil delta")
	}
	if d.Outcome == "" {
		d.Outcome = OutcomeApplied
	}
	if d.ID == "" {
		d.ID = EntryID(d)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO state_deltas
		(id, version, action, change_type, timestamp, outcome, error, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Version, d.Action, d.Type, d.Timestamp, d.Outcome, d.Error,
		string(d.Payload), d.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to record delta: %w", err)
	}
	return d.ID, nil
}

// List returns deltas newest-first. An empty version matches all versions;
// limit <= 0 means a default page of 50.
func (l *SQLiteLog) List(ctx context.Context, version string, limit int) ([]*Delta, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, version, action, change_type, timestamp, outcome, error, payload, created_at
		FROM state_deltas
	`
	args := []any{}
	if version != "" {
		query += " WHERE version = ?"
		args = append(args, version)
	}
	query += " ORDER BY rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deltas: %w", err)
	}
	defer rows.Close()

	var deltas []*Delta
	for rows.Next() {
		var d Delta
		var payload string
		var createdMS int64
		if err := rows.Scan(&d.ID, &d.Version, &d.Action, &d.Type, &d.Timestamp,
			&d.Outcome, &d.Error, &payload, &createdMS); err != nil {
			return nil, err
		}
		if payload != "" {
			d.Payload = json.RawMessage(payload)
		}
		d.CreatedAt = time.UnixMilli(createdMS).UTC()
		deltas = append(deltas, &d)
	}
	return deltas, rows.Err()
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

// Nop discards all deltas. Used when audit.enabled is false.
type Nop struct{}

func (Nop) Record(context.Context, *Delta) (string, error) { return "", nil }

func (Nop) List(context.Context, string, int) ([]*Delta, error) { return nil, nil }

func (Nop) Close() error { return nil }
