// Package trace persists the environment's mutation stream to SQLite
// and rebuilds an identical environment from it.
//
// The log is append-only: one row per applied mutation, keyed by a
// monotonically increasing sequence number. Event args are stored as
// canonical JSON, so two runs that apply the same mutations produce
// byte-identical logs.
package trace

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mirrorlab/devicesim/internal/canon"
	"github.com/mirrorlab/devicesim/internal/device"
)

//go:embed schema.sql
var schemaSQL string

// Log is a durable mutation log backed by SQLite. It implements
// device.Recorder; attach it with device.WithRecorder to capture a
// session, then hand it to Replay to rebuild the environment.
type Log struct {
	db *sql.DB
}

// Open creates or opens a trace log at path. The database is opened in
// WAL mode with a single connection, matching the environment's
// single-writer model. Idempotent.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect trace log: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under the environment's exclusive lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Record appends one mutation event. Called by the environment while
// its exclusive lock is held, so the stored sequence is exactly the
// applied sequence.
func (l *Log) Record(ev device.MutationEvent) error {
	argsJSON, err := marshalArgs(ev.Args)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO events (facet, op, entity_id, at, args)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(ev.Facet),
		string(ev.Op),
		ev.EntityID,
		ev.At.UTC().Format(time.RFC3339Nano),
		argsJSON,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// marshalArgs serializes event args to canonical JSON. Nil args encode
// as an empty object so the column is never ambiguous.
func marshalArgs(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	b, err := canon.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Events returns the full log in applied order.
//
// Numeric arg values decode as json.Number to keep int64 ids and
// durations exact; the replayer's accessors convert them.
func (l *Log) Events(ctx context.Context) ([]device.MutationEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT facet, op, entity_id, at, args
		FROM events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []device.MutationEvent
	for rows.Next() {
		var (
			facet, op, entityID, at, argsJSON string
		)
		if err := rows.Scan(&facet, &op, &entityID, &at, &argsJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		stamp, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp %q: %w", at, err)
		}
		args, err := unmarshalArgs(argsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode event args: %w", err)
		}

		events = append(events, device.MutationEvent{
			Facet:    device.Facet(facet),
			Op:       device.Op(op),
			EntityID: entityID,
			At:       stamp,
			Args:     args,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Len reports the number of recorded events.
func (l *Log) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func unmarshalArgs(argsJSON string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(argsJSON)))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}
