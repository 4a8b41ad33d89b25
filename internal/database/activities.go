package database

import (
	"context"
	"database/sql"
	"fmt"

	"activity-provider-sync/internal/provider"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Activity represents a canonical activity row
type Activity struct {
	ID string
	provider.Activity
	CreatedAt int64
	UpdatedAt int64
}

const activityColumns = `
	id, name, start_time, timezone, distance, duration, manufacturer,
	location_name, location_country, start_latitude, start_longitude,
	activity_type, activity_subtype, notes, is_event, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*Activity, error) {
	var a Activity
	err := row.Scan(
		&a.ID, &a.Name, &a.StartTime, &a.Timezone, &a.Distance, &a.Duration, &a.Manufacturer,
		&a.LocationName, &a.LocationCountry, &a.StartLatitude, &a.StartLongitude,
		&a.Type, &a.Subtype, &a.Notes, &a.IsEvent, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func insertActivity(ctx context.Context, q querier, a *Activity) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO activities (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.StartTime, a.Timezone, a.Distance, a.Duration, a.Manufacturer,
		a.LocationName, a.LocationCountry, a.StartLatitude, a.StartLongitude,
		a.Type, a.Subtype, a.Notes, a.IsEvent, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

func getActivity(ctx context.Context, q querier, id string) (*Activity, error) {
	a, err := scanActivity(q.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

func findActivityByStartTime(ctx context.Context, q querier, startTime int64) (*Activity, error) {
	a, err := scanActivity(q.QueryRowContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE start_time = ?
		ORDER BY created_at ASC
		LIMIT 1
	`, startTime))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find activity by start time: %w", err)
	}
	return a, nil
}

// updateActivitySyncedFields writes the fields the reconciler may change
func updateActivitySyncedFields(ctx context.Context, q querier, a *Activity) error {
	_, err := q.ExecContext(ctx, `
		UPDATE activities
		SET manufacturer = ?, location_name = ?, location_country = ?,
		    start_latitude = ?, start_longitude = ?, updated_at = ?
		WHERE id = ?
	`, a.Manufacturer, a.LocationName, a.LocationCountry,
		a.StartLatitude, a.StartLongitude, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	return nil
}

// GetActivity retrieves a canonical activity by ID
func (db *DB) GetActivity(ctx context.Context, id string) (*Activity, error) {
	return getActivity(ctx, db.conn, id)
}

// UpdateActivity applies an explicit user edit to a canonical activity
func (db *DB) UpdateActivity(ctx context.Context, a *Activity) error {
	a.UpdatedAt = db.now().Unix()

	result, err := db.conn.ExecContext(ctx, `
		UPDATE activities
		SET name = ?, timezone = ?, distance = ?, duration = ?, manufacturer = ?,
		    location_name = ?, location_country = ?, start_latitude = ?, start_longitude = ?,
		    activity_type = ?, activity_subtype = ?, notes = ?, is_event = ?, updated_at = ?
		WHERE id = ?
	`, a.Name, a.Timezone, a.Distance, a.Duration, a.Manufacturer,
		a.LocationName, a.LocationCountry, a.StartLatitude, a.StartLongitude,
		a.Type, a.Subtype, a.Notes, a.IsEvent, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("activity not found")
	}

	return nil
}

// ListActivities returns canonical activities, newest first, with pagination
func (db *DB) ListActivities(ctx context.Context, offset, limit int) ([]*Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities ORDER BY start_time DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}

	return activities, nil
}

// CountActivities returns the number of canonical activities
func (db *DB) CountActivities(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return n, nil
}
