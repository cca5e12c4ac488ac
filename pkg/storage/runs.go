package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncRun is one recorded sync attempt.
type SyncRun struct {
	ID           string     `json:"id"`
	InstanceID   string     `json:"instanceId"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	OK           bool       `json:"ok"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ModuleCount  int        `json:"moduleCount"`
	RuleCount    int        `json:"ruleCount"`
}

// RunOutcome is what FinishRun records.
type RunOutcome struct {
	FinishedAt   time.Time
	OK           bool
	ErrorCode    string
	ErrorMessage string
	ModuleCount  int
	RuleCount    int
}

// StartRun inserts an unfinished run and returns its id. Ids are UUIDv7 so
// they sort by creation time.
func (d *DB) StartRun(ctx context.Context, instanceID string, startedAt time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("could not generate run id: %w", err)
	}
	_, err = d.sql.ExecContext(ctx,
		"INSERT INTO sync_runs(id, instance_id, started_at) VALUES(?,?,?)",
		id.String(), instanceID, startedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("could not record run for %s: %w", instanceID, err)
	}
	return id.String(), nil
}

func (d *DB) FinishRun(ctx context.Context, runID string, out RunOutcome) error {
	res, err := d.sql.ExecContext(ctx, `
UPDATE sync_runs SET finished_at=?, ok=?, error_code=?, error_message=?, module_count=?, rule_count=?
WHERE id=?`,
		out.FinishedAt.UTC().Format(timeLayout), boolToInt(out.OK),
		nullIfEmpty(out.ErrorCode), nullIfEmpty(out.ErrorMessage),
		out.ModuleCount, out.RuleCount, runID)
	if err != nil {
		return fmt.Errorf("could not finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s does not exist", runID)
	}
	return nil
}

// ListRuns returns the newest runs of an instance first. limit <= 0 means
// no limit.
func (d *DB) ListRuns(ctx context.Context, instanceID string, limit int) ([]SyncRun, error) {
	q := `SELECT id, instance_id, started_at, finished_at, ok, error_code, error_message, module_count, rule_count
FROM sync_runs WHERE instance_id = ? ORDER BY started_at DESC, id DESC`
	args := []interface{}{instanceID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncRun
	for rows.Next() {
		var (
			r                     SyncRun
			startedAt             string
			finishedAt, code, msg sql.NullString
			ok                    int
		)
		if err := rows.Scan(&r.ID, &r.InstanceID, &startedAt, &finishedAt, &ok, &code, &msg, &r.ModuleCount, &r.RuleCount); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			t := parseTime(finishedAt.String)
			r.FinishedAt = &t
		}
		r.OK = ok == 1
		r.ErrorCode = code.String
		r.ErrorMessage = msg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
