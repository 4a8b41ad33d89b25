package database

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"activity-provider-sync/internal/metrics"
)

// SyncRun records the outcome of one provider sync call
type SyncRun struct {
	ID         int64
	Provider   string
	StartedAt  time.Time
	FinishedAt time.Time
	Checkpoint *string
	Fetched    int
	Processed  int
	Skipped    int
	Failed     int
	Error      *string
}

// RecordSyncRun stores a finished sync run and returns its id
func (db *DB) RecordSyncRun(ctx context.Context, run *SyncRun) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpRecordSyncRun))
	defer timer.ObserveDuration()

	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_runs (provider, started_at, finished_at, checkpoint, fetched, processed, skipped, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Provider, run.StartedAt.Unix(), run.FinishedAt.Unix(), run.Checkpoint,
		run.Fetched, run.Processed, run.Skipped, run.Failed, run.Error)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpRecordSyncRun).Inc()
		return 0, fmt.Errorf("failed to record sync run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpRecordSyncRun).Inc()
		return 0, fmt.Errorf("failed to get sync run id: %w", err)
	}
	run.ID = id

	return id, nil
}

// ListSyncRuns returns the most recent sync runs, newest first.
// An empty provider lists runs of every provider.
func (db *DB) ListSyncRuns(ctx context.Context, provider string, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, provider, started_at, finished_at, checkpoint, fetched, processed, skipped, failed, error
		FROM sync_runs`
	args := []any{}
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var run SyncRun
		var startedAt, finishedAt int64
		if err := rows.Scan(&run.ID, &run.Provider, &startedAt, &finishedAt, &run.Checkpoint,
			&run.Fetched, &run.Processed, &run.Skipped, &run.Failed, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.StartedAt = time.Unix(startedAt, 0)
		run.FinishedAt = time.Unix(finishedAt, 0)
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}
