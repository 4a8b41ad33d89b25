package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"activity-provider-sync/internal/metrics"
)

// ProviderActivity represents a raw per-provider activity record
type ProviderActivity struct {
	Provider           string
	ProviderActivityID string
	Timestamp          int64 // epoch ms
	Original           bool
	RawJSON            *string
	CreatedAt          int64
}

// ActivityConnection links a canonical activity to a provider activity
type ActivityConnection struct {
	ActivityID         string
	Provider           string
	ProviderActivityID string
	CreatedAt          int64
}

func insertProviderActivity(ctx context.Context, q querier, pa *ProviderActivity) error {
	// Already-inserted provider activities are left untouched
	_, err := q.ExecContext(ctx, `
		INSERT INTO provider_activities (provider, provider_activity_id, timestamp, original, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, provider_activity_id) DO NOTHING
	`, pa.Provider, pa.ProviderActivityID, pa.Timestamp, pa.Original, pa.RawJSON, pa.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert provider activity: %w", err)
	}
	return nil
}

func insertActivityConnection(ctx context.Context, q querier, c *ActivityConnection) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO activity_connections (activity_id, provider, provider_activity_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider, provider_activity_id) DO NOTHING
	`, c.ActivityID, c.Provider, c.ProviderActivityID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert activity connection: %w", err)
	}
	return nil
}

func getActivityConnection(ctx context.Context, q querier, provider, providerActivityID string) (string, bool, error) {
	var activityID string
	err := q.QueryRowContext(ctx, `
		SELECT activity_id FROM activity_connections
		WHERE provider = ? AND provider_activity_id = ?
	`, provider, providerActivityID).Scan(&activityID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get activity connection: %w", err)
	}
	return activityID, true, nil
}

// GetActivityConnection returns the canonical activity id connected to a provider activity
func (db *DB) GetActivityConnection(ctx context.Context, provider, providerActivityID string) (string, bool, error) {
	return getActivityConnection(ctx, db.conn, provider, providerActivityID)
}

// HasProviderActivity reports whether a provider activity is already connected
func (db *DB) HasProviderActivity(ctx context.Context, provider, providerActivityID string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpHasProviderActivity))
	defer timer.ObserveDuration()

	_, found, err := getActivityConnection(ctx, db.conn, provider, providerActivityID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpHasProviderActivity).Inc()
		return false, err
	}
	return found, nil
}

// GetLastProviderActivity returns the most recent provider activity for a provider,
// or nil if none has been synced yet
func (db *DB) GetLastProviderActivity(ctx context.Context, provider string) (*ProviderActivity, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetLastProviderActivity))
	defer timer.ObserveDuration()

	var pa ProviderActivity
	err := db.conn.QueryRowContext(ctx, `
		SELECT provider, provider_activity_id, timestamp, original, raw_json, created_at
		FROM provider_activities
		WHERE provider = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1
	`, provider).Scan(&pa.Provider, &pa.ProviderActivityID, &pa.Timestamp, &pa.Original, &pa.RawJSON, &pa.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetLastProviderActivity).Inc()
		return nil, fmt.Errorf("failed to get last provider activity: %w", err)
	}
	return &pa, nil
}

// ListActivityConnections returns every provider connection of a canonical activity
func (db *DB) ListActivityConnections(ctx context.Context, activityID string) ([]*ActivityConnection, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT activity_id, provider, provider_activity_id, created_at
		FROM activity_connections
		WHERE activity_id = ?
		ORDER BY created_at ASC, provider ASC
	`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity connections: %w", err)
	}
	defer rows.Close()

	var connections []*ActivityConnection
	for rows.Next() {
		var c ActivityConnection
		if err := rows.Scan(&c.ActivityID, &c.Provider, &c.ProviderActivityID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity connection: %w", err)
		}
		connections = append(connections, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity connections: %w", err)
	}

	return connections, nil
}
