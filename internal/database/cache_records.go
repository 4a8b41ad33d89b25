package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"activity-provider-sync/internal/metrics"
)

// GetCacheRecord returns the newest cached value for a provider resource
func (db *DB) GetCacheRecord(ctx context.Context, provider, kind, id string) ([]byte, time.Time, bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetCacheRecord))
	defer timer.ObserveDuration()

	var value []byte
	var createdAt int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT value, created_at FROM cache_records
		WHERE provider = ? AND kind = ? AND resource_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, provider, kind, id).Scan(&value, &createdAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetCacheRecord).Inc()
		return nil, time.Time{}, false, fmt.Errorf("failed to get cache record: %w", err)
	}
	return value, time.UnixMilli(createdAt), true, nil
}

// SetCacheRecord replaces the cached value for a provider resource
func (db *DB) SetCacheRecord(ctx context.Context, provider, kind, id string, value []byte) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSetCacheRecord))
	defer timer.ObserveDuration()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cache_records WHERE provider = ? AND kind = ? AND resource_id = ?
		`, provider, kind, id); err != nil {
			return fmt.Errorf("failed to clear cache record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cache_records (provider, kind, resource_id, value, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, provider, kind, id, value, db.now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert cache record: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSetCacheRecord).Inc()
		return err
	}
	return nil
}
