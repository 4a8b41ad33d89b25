package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"activity-provider-sync/internal/metrics"
)

// DateLayout is the storage format of gear active-date ranges
const DateLayout = "2006-01-02"

// Gear represents a canonical gear item
type Gear struct {
	ID              string
	Name            string
	Code            string
	Brand           string
	Type            string
	DateBegin       *string
	DateEnd         *string
	MaximumDistance *float64
	CreatedAt       int64
	UpdatedAt       int64
}

const gearColumns = `id, name, code, brand, gear_type, date_begin, date_end, maximum_distance, created_at, updated_at`

func scanGear(row rowScanner) (*Gear, error) {
	var g Gear
	err := row.Scan(&g.ID, &g.Name, &g.Code, &g.Brand, &g.Type, &g.DateBegin, &g.DateEnd,
		&g.MaximumDistance, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(DateLayout)
	return &s
}

func insertGear(ctx context.Context, q querier, g *Gear) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO gears (`+gearColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Name, g.Code, g.Brand, g.Type, g.DateBegin, g.DateEnd, g.MaximumDistance, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create gear: %w", err)
	}
	return nil
}

func getGear(ctx context.Context, q querier, id string) (*Gear, error) {
	g, err := scanGear(q.QueryRowContext(ctx, `SELECT `+gearColumns+` FROM gears WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gear: %w", err)
	}
	return g, nil
}

func findGearByCode(ctx context.Context, q querier, code string) (*Gear, error) {
	if code == "" {
		return nil, nil
	}
	g, err := scanGear(q.QueryRowContext(ctx, `SELECT `+gearColumns+` FROM gears WHERE code = ?`, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find gear by code: %w", err)
	}
	return g, nil
}

func updateGearLifecycle(ctx context.Context, q querier, g *Gear) error {
	_, err := q.ExecContext(ctx, `
		UPDATE gears SET date_end = ?, maximum_distance = ?, updated_at = ? WHERE id = ?
	`, g.DateEnd, g.MaximumDistance, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update gear: %w", err)
	}
	return nil
}

func upsertProviderGear(ctx context.Context, q querier, provider, providerGearID string, raw *string, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO provider_gears (provider, provider_gear_id, raw_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, provider_gear_id) DO UPDATE SET
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at
	`, provider, providerGearID, raw, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert provider gear: %w", err)
	}
	return nil
}

func insertGearConnection(ctx context.Context, q querier, gearID, provider, providerGearID string, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO gear_connections (gear_id, provider, provider_gear_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider, provider_gear_id) DO NOTHING
	`, gearID, provider, providerGearID, now)
	if err != nil {
		return fmt.Errorf("failed to insert gear connection: %w", err)
	}
	return nil
}

func getGearConnection(ctx context.Context, q querier, provider, providerGearID string) (string, bool, error) {
	var gearID string
	err := q.QueryRowContext(ctx, `
		SELECT gear_id FROM gear_connections WHERE provider = ? AND provider_gear_id = ?
	`, provider, providerGearID).Scan(&gearID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get gear connection: %w", err)
	}
	return gearID, true, nil
}

func linkActivityGear(ctx context.Context, q querier, activityID, gearID string, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO activity_gears (activity_id, gear_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(activity_id, gear_id) DO NOTHING
	`, activityID, gearID, now)
	if err != nil {
		return fmt.Errorf("failed to link activity gear: %w", err)
	}
	return nil
}

// GetGear retrieves a canonical gear item by ID
func (db *DB) GetGear(ctx context.Context, id string) (*Gear, error) {
	return getGear(ctx, db.conn, id)
}

// GetGearConnection returns the canonical gear id connected to a provider gear
func (db *DB) GetGearConnection(ctx context.Context, provider, providerGearID string) (string, bool, error) {
	return getGearConnection(ctx, db.conn, provider, providerGearID)
}

// CountGearConnections returns the number of provider gears connected to a canonical gear
func (db *DB) CountGearConnections(ctx context.Context, gearID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM gear_connections WHERE gear_id = ?`, gearID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count gear connections: %w", err)
	}
	return n, nil
}

// ListGears returns every canonical gear item ordered by name
func (db *DB) ListGears(ctx context.Context) ([]*Gear, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+gearColumns+` FROM gears ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gears: %w", err)
	}
	defer rows.Close()

	var gears []*Gear
	for rows.Next() {
		g, err := scanGear(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gear: %w", err)
		}
		gears = append(gears, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating gears: %w", err)
	}

	return gears, nil
}

// LinkActivityGear links a canonical gear to a canonical activity
func (db *DB) LinkActivityGear(ctx context.Context, activityID, gearID string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpLinkActivityGear))
	defer timer.ObserveDuration()

	if err := linkActivityGear(ctx, db.conn, activityID, gearID, db.now().Unix()); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpLinkActivityGear).Inc()
		return err
	}
	return nil
}

// UnlinkActivityGear removes a canonical activity/gear link
func (db *DB) UnlinkActivityGear(ctx context.Context, activityID, gearID string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM activity_gears WHERE activity_id = ? AND gear_id = ?`, activityID, gearID)
	if err != nil {
		return fmt.Errorf("failed to unlink activity gear: %w", err)
	}
	return nil
}

// ListActivityGearIDs returns the canonical gear ids linked to an activity
func (db *DB) ListActivityGearIDs(ctx context.Context, activityID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT gear_id FROM activity_gears WHERE activity_id = ? ORDER BY created_at ASC, gear_id ASC
	`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity gears: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan activity gear: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity gears: %w", err)
	}

	return ids, nil
}

// CountGears returns the number of canonical gear items
func (db *DB) CountGears(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM gears`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count gears: %w", err)
	}
	return n, nil
}
