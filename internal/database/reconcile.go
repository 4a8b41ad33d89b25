package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
)

// InsertResult describes how a provider activity was reconciled
type InsertResult struct {
	ActivityID string
	Created    bool
	GearIDs    []string
}

// InsertActivity merges a mapped provider activity into the canonical store.
//
// The merge target is the activity already connected to the provider
// activity id, else the activity with the same start time, else a new one.
// Existing targets only get empty fields backfilled, except the manufacturer
// which an original capture device overwrites. Everything runs in a single
// immediate transaction so concurrent inserts for one timestamp serialize.
func (db *DB) InsertActivity(ctx context.Context, m provider.MappedActivity) (*InsertResult, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpInsertActivity))
	defer timer.ObserveDuration()

	var result InsertResult
	var gearsCreated []bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := db.now().Unix()
		prov := string(m.Provider)

		var target *Activity
		if m.ProviderActivityID != "" {
			activityID, found, err := getActivityConnection(ctx, tx, prov, m.ProviderActivityID)
			if err != nil {
				return err
			}
			if found {
				if target, err = getActivity(ctx, tx, activityID); err != nil {
					return err
				}
			}
		}

		if target == nil {
			var err error
			if target, err = findActivityByStartTime(ctx, tx, m.StartTime); err != nil {
				return err
			}
		}

		if target == nil {
			target = &Activity{
				ID:        uuid.NewString(),
				Activity:  m.Activity,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if target.Timezone == "" {
				target.Timezone = "UTC"
			}
			if target.Type == "" {
				target.Type = provider.TypeOther
			}
			if err := insertActivity(ctx, tx, target); err != nil {
				return err
			}
			result.Created = true
		} else {
			changed := backfillActivity(target, m.Activity)
			if m.Original && m.Manufacturer != "" && target.Manufacturer != m.Manufacturer {
				target.Manufacturer = m.Manufacturer
				changed = true
			}
			if changed {
				target.UpdatedAt = now
				if err := updateActivitySyncedFields(ctx, tx, target); err != nil {
					return err
				}
			}
		}
		result.ActivityID = target.ID

		if m.ProviderActivityID != "" {
			var raw *string
			if len(m.Raw) > 0 {
				s := string(m.Raw)
				raw = &s
			}
			if err := insertProviderActivity(ctx, tx, &ProviderActivity{
				Provider:           prov,
				ProviderActivityID: m.ProviderActivityID,
				Timestamp:          m.StartTime,
				Original:           m.Original,
				RawJSON:            raw,
				CreatedAt:          now,
			}); err != nil {
				return err
			}
			if err := insertActivityConnection(ctx, tx, &ActivityConnection{
				ActivityID:         target.ID,
				Provider:           prov,
				ProviderActivityID: m.ProviderActivityID,
				CreatedAt:          now,
			}); err != nil {
				return err
			}
		}

		// Gears are reconciled one at a time so two items sharing a code
		// in this batch resolve to the same canonical gear
		for _, g := range m.Gears {
			gearID, created, err := db.insertGearTx(ctx, tx, g, now)
			if err != nil {
				return err
			}
			gearsCreated = append(gearsCreated, created)
			if err := linkActivityGear(ctx, tx, target.ID, gearID, now); err != nil {
				return err
			}
			result.GearIDs = append(result.GearIDs, gearID)
		}

		return nil
	})
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpInsertActivity).Inc()
		return nil, fmt.Errorf("failed to insert activity %s/%s: %w", m.Provider, m.ProviderActivityID, err)
	}

	outcome := metrics.ReconcileMerged
	if result.Created {
		outcome = metrics.ReconcileCreated
	}
	metrics.ReconcileTotal.WithLabelValues(metrics.EntityActivity, outcome).Inc()
	for _, created := range gearsCreated {
		recordGearReconcile(created)
	}

	return &result, nil
}

// backfillActivity fills empty canonical fields from an incoming payload and
// reports whether anything changed. Non-empty fields are never overwritten.
func backfillActivity(target *Activity, in provider.Activity) bool {
	changed := false
	if target.Manufacturer == "" && in.Manufacturer != "" {
		target.Manufacturer = in.Manufacturer
		changed = true
	}
	if target.LocationName == "" && in.LocationName != "" {
		target.LocationName = in.LocationName
		changed = true
	}
	if target.LocationCountry == "" && in.LocationCountry != "" {
		target.LocationCountry = in.LocationCountry
		changed = true
	}
	if target.StartLatitude == nil && target.StartLongitude == nil &&
		in.StartLatitude != nil && in.StartLongitude != nil {
		lat, lng := *in.StartLatitude, *in.StartLongitude
		target.StartLatitude = &lat
		target.StartLongitude = &lng
		changed = true
	}
	return changed
}

// InsertGear merges a mapped provider gear into the canonical store and
// returns the canonical gear id.
//
// The merge target is the gear already connected to the provider gear id,
// else the gear with the same code, else a new one.
func (db *DB) InsertGear(ctx context.Context, g provider.MappedGear) (string, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpInsertGear))
	defer timer.ObserveDuration()

	var gearID string
	var created bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		gearID, created, err = db.insertGearTx(ctx, tx, g, db.now().Unix())
		return err
	})
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpInsertGear).Inc()
		return "", fmt.Errorf("failed to insert gear %s/%s: %w", g.Provider, g.ProviderGearID, err)
	}
	recordGearReconcile(created)
	return gearID, nil
}

// recordGearReconcile counts a gear merge once its transaction has committed
func recordGearReconcile(created bool) {
	outcome := metrics.ReconcileMerged
	if created {
		outcome = metrics.ReconcileCreated
	}
	metrics.ReconcileTotal.WithLabelValues(metrics.EntityGear, outcome).Inc()
}

func (db *DB) insertGearTx(ctx context.Context, tx *sql.Tx, g provider.MappedGear, now int64) (string, bool, error) {
	prov := string(g.Provider)

	var target *Gear
	gearID, found, err := getGearConnection(ctx, tx, prov, g.ProviderGearID)
	if err != nil {
		return "", false, err
	}
	if found {
		if target, err = getGear(ctx, tx, gearID); err != nil {
			return "", false, err
		}
	}
	if target == nil {
		if target, err = findGearByCode(ctx, tx, g.Code); err != nil {
			return "", false, err
		}
	}

	created := false
	if target == nil {
		gearType := string(g.Type)
		if gearType == "" {
			gearType = string(provider.GearOther)
		}
		target = &Gear{
			ID:              uuid.NewString(),
			Name:            g.Name,
			Code:            g.Code,
			Brand:           g.Brand,
			Type:            gearType,
			DateBegin:       formatDate(g.DateBegin),
			DateEnd:         formatDate(g.DateEnd),
			MaximumDistance: g.MaximumDistance,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := insertGear(ctx, tx, target); err != nil {
			return "", false, err
		}
		created = true
	} else {
		changed := false
		if target.DateEnd == nil && g.DateEnd != nil {
			target.DateEnd = formatDate(g.DateEnd)
			changed = true
		}
		if g.MaximumDistance != nil && (target.MaximumDistance == nil || *target.MaximumDistance != *g.MaximumDistance) {
			limit := *g.MaximumDistance
			target.MaximumDistance = &limit
			changed = true
		}
		if changed {
			target.UpdatedAt = now
			if err := updateGearLifecycle(ctx, tx, target); err != nil {
				return "", false, err
			}
		}
	}

	var raw *string
	if len(g.Raw) > 0 {
		s := string(g.Raw)
		raw = &s
	}
	if err := upsertProviderGear(ctx, tx, prov, g.ProviderGearID, raw, now); err != nil {
		return "", false, err
	}
	if err := insertGearConnection(ctx, tx, target.ID, prov, g.ProviderGearID, now); err != nil {
		return "", false, err
	}

	return target.ID, created, nil
}
