package storage

import (
	"context"
	"fmt"
	"time"
)

// BuildRecord is one executed build step
type BuildRecord struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"jobId"`
	Ref        string    `json:"ref"`
	Commit     string    `json:"commit,omitempty"`
	Path       string    `json:"path,omitempty"`
	Step       string    `json:"step"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
}

// fixed width so that text order matches time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Build step outcomes
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RecordBuild appends a build step to the history
func (db *DB) RecordBuild(ctx context.Context, rec BuildRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO builds (job_id, ref, commit_id, path, step, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.JobID, rec.Ref, rec.Commit, rec.Path, rec.Step, rec.Status, rec.Error,
		rec.StartedAt.UTC().Format(timeLayout), rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}
	return nil
}

// RecentBuilds returns up to limit records, newest first
func (db *DB) RecentBuilds(ctx context.Context, limit int) ([]BuildRecord, error) {
	return db.queryBuilds(ctx, `
		SELECT id, job_id, ref, commit_id, path, step, status, error, started_at, duration_ms
		FROM builds ORDER BY started_at DESC, id DESC LIMIT ?
	`, clampLimit(limit))
}

// BuildsForRef returns up to limit records for ref, newest first
func (db *DB) BuildsForRef(ctx context.Context, ref string, limit int) ([]BuildRecord, error) {
	return db.queryBuilds(ctx, `
		SELECT id, job_id, ref, commit_id, path, step, status, error, started_at, duration_ms
		FROM builds WHERE ref = ? ORDER BY started_at DESC, id DESC LIMIT ?
	`, ref, clampLimit(limit))
}

// PruneBuilds deletes records that started before cutoff and returns how
// many were removed.
func (db *DB) PruneBuilds(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM builds WHERE started_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune builds: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) queryBuilds(ctx context.Context, query string, args ...interface{}) ([]BuildRecord, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	records := []BuildRecord{}
	for rows.Next() {
		var rec BuildRecord
		var startedAt string
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Ref, &rec.Commit, &rec.Path,
			&rec.Step, &rec.Status, &rec.Error, &startedAt, &rec.DurationMs); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(timeLayout, startedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
