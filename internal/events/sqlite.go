package events

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_time   INTEGER NOT NULL,
	event_type   TEXT    NOT NULL,
	event_source TEXT    NOT NULL,
	event_text   TEXT    NOT NULL,
	device_id    TEXT
);
CREATE INDEX IF NOT EXISTS events_time ON events(event_time);
CREATE INDEX IF NOT EXISTS events_device ON events(device_id, event_time);
`

// SQLiteLog is the durable event log.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the event database at path.
func OpenSQLite(path string) (*SQLiteLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("events db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create events db dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open events db")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate events db")
	}
	return &SQLiteLog{db: db}, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append implements Sink.
func (l *SQLiteLog) Append(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events(event_time, event_type, event_source, event_text, device_id) VALUES(?,?,?,?,?)`,
		e.EpochMillis(), string(e.Type), e.Source, e.Text, nullStr(e.DeviceID),
	)
	if err != nil {
		return errors.Wrap(err, "insert event")
	}
	return nil
}

// Query selects events from the log. Zero fields do not filter.
type Query struct {
	From     time.Time
	To       time.Time
	Type     Type
	Source   string
	DeviceID string
	Limit    int
	Offset   int
}

// DefaultQueryLimit caps queries that do not set a limit.
const DefaultQueryLimit = 100

// Query returns matching events, newest first.
func (l *SQLiteLog) Query(ctx context.Context, q Query) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if !q.From.IsZero() {
		where = append(where, "event_time >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "event_time < ?")
		args = append(args, q.To.UnixMilli())
	}
	if q.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(q.Type))
	}
	if q.Source != "" {
		where = append(where, "event_source = ?")
		args = append(args, q.Source)
	}
	if q.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, q.DeviceID)
	}

	stmt := "SELECT event_time, event_type, event_source, event_text, device_id FROM events"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	// rowid breaks ties between events appended within the same millisecond.
	stmt += " ORDER BY event_time DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(q.Offset, 0))

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ms       int64
			typ, src string
			text     string
			device   sql.NullString
		)
		if err := rows.Scan(&ms, &typ, &src, &text, &device); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, Event{
			Time:     time.UnixMilli(ms),
			Type:     Type(typ),
			Source:   src,
			Text:     text,
			DeviceID: device.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate events")
	}
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
