package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/normalize"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type DB struct {
	sql    *sql.DB
	schema *Schema
}

func Open(path string) (*DB, error) {
	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS payloads (
  instance_id      TEXT PRIMARY KEY,
  fetched_at       TEXT NOT NULL,
  selector_version TEXT NOT NULL,
  module_count     INTEGER NOT NULL,
  rule_count       INTEGER NOT NULL,
  warning_count    INTEGER NOT NULL,
  body             TEXT NOT NULL,
  written_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS sync_runs (
  id            TEXT PRIMARY KEY,
  instance_id   TEXT NOT NULL,
  started_at    TEXT NOT NULL,
  finished_at   TEXT,
  ok            INTEGER NOT NULL DEFAULT 0 CHECK (ok IN (0,1)),
  error_code    TEXT,
  error_message TEXT,
  module_count  INTEGER NOT NULL DEFAULT 0,
  rule_count    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_instance ON sync_runs(instance_id, started_at);
    `); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{sql: db, schema: schema}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SavePayload validates p against the payload schema and replaces any
// previous payload of the same instance.
func (d *DB) SavePayload(ctx context.Context, p *normalize.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("could not encode payload: %w", err)
	}
	if err := d.schema.Validate(body); err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `
INSERT INTO payloads(instance_id, fetched_at, selector_version, module_count, rule_count, warning_count, body, written_at)
VALUES(?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(instance_id) DO UPDATE SET
  fetched_at=excluded.fetched_at,
  selector_version=excluded.selector_version,
  module_count=excluded.module_count,
  rule_count=excluded.rule_count,
  warning_count=excluded.warning_count,
  body=excluded.body,
  written_at=CURRENT_TIMESTAMP`,
		p.InstanceID, p.FetchedAt.UTC().Format(timeLayout), p.SelectorVersion,
		len(p.Modules), p.RuleCount(), len(p.Warnings), string(body))
	if err != nil {
		return fmt.Errorf("could not store payload for %s: %w", p.InstanceID, err)
	}
	return nil
}

// LoadPayload returns the latest payload of an instance, or a NOT_FOUND
// error when no sync has completed yet.
func (d *DB) LoadPayload(ctx context.Context, instanceID string) (*normalize.Payload, error) {
	var body string
	err := d.sql.QueryRowContext(ctx, "SELECT body FROM payloads WHERE instance_id = ?", instanceID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "no payload stored for instance %s", instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("could not load payload for %s: %w", instanceID, err)
	}
	var p normalize.Payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("stored payload for %s is corrupt: %w", instanceID, err)
	}
	return &p, nil
}

// PayloadInfo is the stored payload without its body.
type PayloadInfo struct {
	InstanceID      string
	FetchedAt       time.Time
	SelectorVersion string
	ModuleCount     int
	RuleCount       int
	WarningCount    int
}

func (d *DB) ListPayloads(ctx context.Context) ([]PayloadInfo, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT instance_id, fetched_at, selector_version, module_count, rule_count, warning_count FROM payloads ORDER BY instance_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayloadInfo
	for rows.Next() {
		var p PayloadInfo
		var fetchedAt string
		if err := rows.Scan(&p.InstanceID, &fetchedAt, &p.SelectorVersion, &p.ModuleCount, &p.RuleCount, &p.WarningCount); err != nil {
			return nil, err
		}
		p.FetchedAt = parseTime(fetchedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
