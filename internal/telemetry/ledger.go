package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rzbill/pcs/internal/workitem"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// Ledger persists telemetry events in SQLite so failures and durations
// survive restarts.
type Ledger struct {
	db     *sql.DB
	logger logpkg.Logger
}

// OpenLedger opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway ledger.
func OpenLedger(path string, logger logpkg.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open ledger: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	l := &Ledger{db: db, logger: logger.With(logpkg.Component("ledger"))}
	if err := l.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// InitSchema creates the events table.
func (l *Ledger) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		at_ms INTEGER NOT NULL,
		type TEXT NOT NULL,
		work_item_id TEXT,
		message_id TEXT,
		dequeue_count INTEGER DEFAULT 0,
		duration_ns INTEGER DEFAULT 0,
		success INTEGER NOT NULL,
		sync_key TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("telemetry: init schema: %w", err)
	}
	return nil
}

// Record implements workitem.Recorder. Write failures are logged.
func (l *Ledger) Record(ev workitem.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events (kind, at_ms, type, work_item_id, message_id, dequeue_count, duration_ns, success, sync_key, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ev.Kind), ev.At.UnixMilli(), ev.Type, ev.WorkItemID, ev.MessageID,
		ev.DequeueCount, int64(ev.Duration), ev.Success, ev.SyncKey, ev.Error)
	if err != nil {
		l.logger.Warn("ledger insert failed", logpkg.Str("event", string(ev.Kind)), logpkg.Err(err))
	}
}

// EventQuery filters ListEvents. Zero fields match everything.
type EventQuery struct {
	Type  string
	Kind  workitem.EventKind
	Limit int
}

// ListEvents returns matching events, newest first.
func (l *Ledger) ListEvents(ctx context.Context, q EventQuery) ([]workitem.Event, error) {
	query := `SELECT kind, at_ms, type, work_item_id, message_id, dequeue_count, duration_ns, success, sync_key, error
	          FROM events WHERE 1=1`
	args := []interface{}{}
	if q.Type != "" {
		query += " AND type = ?"
		args = append(args, q.Type)
	}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(q.Kind))
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: list events: %w", err)
	}
	defer rows.Close()

	var out []workitem.Event
	for rows.Next() {
		var (
			ev                            workitem.Event
			kind                          string
			atMs, durNs                   int64
			wid, mid, syncKey, errMessage sql.NullString
		)
		if err := rows.Scan(&kind, &atMs, &ev.Type, &wid, &mid, &ev.DequeueCount, &durNs, &ev.Success, &syncKey, &errMessage); err != nil {
			return nil, fmt.Errorf("telemetry: scan event: %w", err)
		}
		ev.Kind = workitem.EventKind(kind)
		ev.At = time.UnixMilli(atMs)
		ev.Duration = time.Duration(durNs)
		ev.WorkItemID = wid.String
		ev.MessageID = mid.String
		ev.SyncKey = syncKey.String
		ev.Error = errMessage.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByKind returns the number of stored events per kind.
func (l *Ledger) CountByKind(ctx context.Context) (map[workitem.EventKind]int64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("telemetry: count events: %w", err)
	}
	defer rows.Close()
	out := make(map[workitem.EventKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[workitem.EventKind(kind)] = n
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }
