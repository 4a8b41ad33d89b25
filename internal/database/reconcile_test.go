package database

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
)

func floatPtr(f float64) *float64 { return &f }

func TestInsertActivityIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := provider.MappedActivity{
		Activity: provider.Activity{
			Name:      "Lunch Ride",
			StartTime: 1700000000000,
			Type:      provider.TypeBike,
		},
		Provider:           provider.Strava,
		ProviderActivityID: "42",
		Raw:                json.RawMessage(`{"id":42}`),
	}

	first, err := db.InsertActivity(ctx, m)
	if err != nil {
		t.Fatalf("Failed to insert activity: %v", err)
	}
	if !first.Created {
		t.Error("Expected first insert to create an activity")
	}

	second, err := db.InsertActivity(ctx, m)
	if err != nil {
		t.Fatalf("Failed to re-insert activity: %v", err)
	}
	if second.Created {
		t.Error("Expected second insert to merge")
	}
	if second.ActivityID != first.ActivityID {
		t.Errorf("Expected same canonical id, got %s and %s", first.ActivityID, second.ActivityID)
	}

	counts, err := db.CountRecords(ctx)
	if err != nil {
		t.Fatalf("Failed to count records: %v", err)
	}
	for _, table := range []string{"activities", "provider_activities", "activity_connections"} {
		if counts[table] != 1 {
			t.Errorf("Expected 1 row in %s, got %d", table, counts[table])
		}
	}

	a, err := db.GetActivity(ctx, first.ActivityID)
	if err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if a.Timezone != "UTC" {
		t.Errorf("Expected default timezone UTC, got %q", a.Timezone)
	}
}

func TestInsertActivityMergesByStartTime(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := int64(1700000000000)

	garmin, err := db.InsertActivity(ctx, provider.MappedActivity{
		Activity: provider.Activity{
			Name:         "Morning Run",
			StartTime:    start,
			Manufacturer: "GARMIN",
			Type:         provider.TypeRun,
		},
		Provider:           provider.Garmin,
		ProviderActivityID: "G1",
		Original:           true,
	})
	if err != nil {
		t.Fatalf("Failed to insert garmin activity: %v", err)
	}

	strava, err := db.InsertActivity(ctx, provider.MappedActivity{
		Activity: provider.Activity{
			Name:            "Strava name",
			StartTime:       start,
			Manufacturer:    "Strava",
			LocationName:    "Annecy",
			LocationCountry: "France",
			StartLatitude:   floatPtr(45.9),
			StartLongitude:  floatPtr(6.12),
			Type:            provider.TypeRun,
		},
		Provider:           provider.Strava,
		ProviderActivityID: "S1",
	})
	if err != nil {
		t.Fatalf("Failed to insert strava activity: %v", err)
	}

	if strava.Created {
		t.Error("Expected strava activity to merge into the garmin one")
	}
	if strava.ActivityID != garmin.ActivityID {
		t.Fatalf("Expected one canonical activity, got %s and %s", garmin.ActivityID, strava.ActivityID)
	}

	a, err := db.GetActivity(ctx, garmin.ActivityID)
	if err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if a.Manufacturer != "GARMIN" {
		t.Errorf("Expected original manufacturer to be kept, got %q", a.Manufacturer)
	}
	if a.Name != "Morning Run" {
		t.Errorf("Expected name not to be overwritten, got %q", a.Name)
	}
	if a.LocationName != "Annecy" || a.LocationCountry != "France" {
		t.Errorf("Expected location to be backfilled, got %q/%q", a.LocationName, a.LocationCountry)
	}
	if a.StartLatitude == nil || *a.StartLatitude != 45.9 {
		t.Errorf("Expected latitude to be backfilled, got %v", a.StartLatitude)
	}

	connections, err := db.ListActivityConnections(ctx, a.ID)
	if err != nil {
		t.Fatalf("Failed to list connections: %v", err)
	}
	if len(connections) != 2 {
		t.Errorf("Expected 2 connections, got %d", len(connections))
	}
}

func TestInsertActivityOriginalOverwritesManufacturer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := int64(1700000000000)

	first, err := db.InsertActivity(ctx, provider.MappedActivity{
		Activity:           provider.Activity{StartTime: start, Manufacturer: "Strava", LocationName: "Paris"},
		Provider:           provider.Strava,
		ProviderActivityID: "S1",
	})
	if err != nil {
		t.Fatalf("Failed to insert strava activity: %v", err)
	}

	if _, err := db.InsertActivity(ctx, provider.MappedActivity{
		Activity:           provider.Activity{StartTime: start, Manufacturer: "GARMIN", LocationName: "Lyon"},
		Provider:           provider.Garmin,
		ProviderActivityID: "G1",
		Original:           true,
	}); err != nil {
		t.Fatalf("Failed to insert garmin activity: %v", err)
	}

	a, err := db.GetActivity(ctx, first.ActivityID)
	if err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if a.Manufacturer != "GARMIN" {
		t.Errorf("Expected original device manufacturer, got %q", a.Manufacturer)
	}
	if a.LocationName != "Paris" {
		t.Errorf("Expected existing location to be kept, got %q", a.LocationName)
	}
}

func TestInsertActivityDistinctStartTimes(t *testing.T) {
	db := setupTestDB(t)

	a := insertTestActivity(t, db, provider.Garmin, "1", time.UnixMilli(1700000000000))
	b := insertTestActivity(t, db, provider.Strava, "1", time.UnixMilli(1700000000001))

	if a.ActivityID == b.ActivityID {
		t.Error("Expected activities one millisecond apart to stay separate")
	}
}

func TestInsertActivityConcurrentSameStartTime(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := int64(1700000000000)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, p := range []provider.ID{provider.Strava, provider.Garmin, provider.Coros} {
		wg.Add(1)
		go func(p provider.ID) {
			defer wg.Done()
			_, err := db.InsertActivity(ctx, provider.MappedActivity{
				Activity:           provider.Activity{StartTime: start},
				Provider:           p,
				ProviderActivityID: "same",
			})
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	n, err := db.CountActivities(ctx)
	if err != nil {
		t.Fatalf("Failed to count activities: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected concurrent inserts to converge on 1 activity, got %d", n)
	}
}

func TestInsertActivityGears(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	shoes := provider.MappedGear{
		Provider:       provider.Garmin,
		ProviderGearID: "uuid-1",
		Name:           "Speedgoat",
		Code:           "SG5",
		Type:           provider.GearShoes,
	}

	result, err := db.InsertActivity(ctx, provider.MappedActivity{
		Activity:           provider.Activity{StartTime: 1700000000000},
		Provider:           provider.Garmin,
		ProviderActivityID: "G1",
		Gears:              []provider.MappedGear{shoes, shoes},
	})
	if err != nil {
		t.Fatalf("Failed to insert activity: %v", err)
	}
	if len(result.GearIDs) != 2 || result.GearIDs[0] != result.GearIDs[1] {
		t.Fatalf("Expected duplicate gear to resolve to one id, got %v", result.GearIDs)
	}

	linked, err := db.ListActivityGearIDs(ctx, result.ActivityID)
	if err != nil {
		t.Fatalf("Failed to list activity gears: %v", err)
	}
	if len(linked) != 1 {
		t.Errorf("Expected 1 linked gear, got %d", len(linked))
	}

	if err := db.UnlinkActivityGear(ctx, result.ActivityID, linked[0]); err != nil {
		t.Fatalf("Failed to unlink gear: %v", err)
	}
	linked, err = db.ListActivityGearIDs(ctx, result.ActivityID)
	if err != nil {
		t.Fatalf("Failed to list activity gears: %v", err)
	}
	if len(linked) != 0 {
		t.Errorf("Expected no linked gear after unlink, got %d", len(linked))
	}
}

func TestGearReconcileCountedAfterCommit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created := metrics.ReconcileTotal.WithLabelValues(metrics.EntityGear, metrics.ReconcileCreated)
	merged := metrics.ReconcileTotal.WithLabelValues(metrics.EntityGear, metrics.ReconcileMerged)
	createdBefore, mergedBefore := testutil.ToFloat64(created), testutil.ToFloat64(merged)

	if _, err := db.conn.ExecContext(ctx, `CREATE TRIGGER reject_activity_gears BEFORE INSERT ON activity_gears
		BEGIN SELECT RAISE(ABORT, 'link rejected'); END`); err != nil {
		t.Fatalf("Failed to create trigger: %v", err)
	}

	activity := provider.MappedActivity{
		Activity:           provider.Activity{StartTime: 1700000000000},
		Provider:           provider.Garmin,
		ProviderActivityID: "G1",
		Gears: []provider.MappedGear{{
			Provider:       provider.Garmin,
			ProviderGearID: "uuid-1",
			Name:           "Speedgoat",
			Code:           "SG5",
			Type:           provider.GearShoes,
		}},
	}
	if _, err := db.InsertActivity(ctx, activity); err == nil {
		t.Fatal("Expected insert to fail while gear links are rejected")
	}
	if _, found, err := db.GetGearConnection(ctx, "garmin", "uuid-1"); err != nil || found {
		t.Fatalf("Expected gear to be rolled back, got found=%v err=%v", found, err)
	}
	if delta := testutil.ToFloat64(created) - createdBefore; delta != 0 {
		t.Errorf("Expected no gear counted for a rolled back insert, got %v", delta)
	}

	if _, err := db.conn.ExecContext(ctx, `DROP TRIGGER reject_activity_gears`); err != nil {
		t.Fatalf("Failed to drop trigger: %v", err)
	}
	if _, err := db.InsertActivity(ctx, activity); err != nil {
		t.Fatalf("Failed to insert activity: %v", err)
	}
	if _, err := db.InsertGear(ctx, activity.Gears[0]); err != nil {
		t.Fatalf("Failed to insert gear: %v", err)
	}

	if delta := testutil.ToFloat64(created) - createdBefore; delta != 1 {
		t.Errorf("Expected 1 created gear, got %v", delta)
	}
	if delta := testutil.ToFloat64(merged) - mergedBefore; delta != 1 {
		t.Errorf("Expected 1 merged gear, got %v", delta)
	}
}

func TestInsertGearMergesByCode(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	begin := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)

	garminID, err := db.InsertGear(ctx, provider.MappedGear{
		Provider:       provider.Garmin,
		ProviderGearID: "uuid-1",
		Name:           "Speedgoat 5",
		Code:           "SG5",
		Brand:          "Hoka",
		Type:           provider.GearShoes,
		DateBegin:      &begin,
	})
	if err != nil {
		t.Fatalf("Failed to insert garmin gear: %v", err)
	}

	corosID, err := db.InsertGear(ctx, provider.MappedGear{
		Provider:        provider.Coros,
		ProviderGearID:  "777",
		Name:            "SG5 trail",
		Code:            "SG5",
		Type:            provider.GearShoes,
		DateEnd:         &end,
		MaximumDistance: floatPtr(800000),
	})
	if err != nil {
		t.Fatalf("Failed to insert coros gear: %v", err)
	}

	if garminID != corosID {
		t.Fatalf("Expected gears sharing a code to merge, got %s and %s", garminID, corosID)
	}

	g, err := db.GetGear(ctx, garminID)
	if err != nil {
		t.Fatalf("Failed to get gear: %v", err)
	}
	if g.Name != "Speedgoat 5" {
		t.Errorf("Expected name to be kept, got %q", g.Name)
	}
	if g.DateBegin == nil || *g.DateBegin != "2024-03-01" {
		t.Errorf("Expected date_begin 2024-03-01, got %v", g.DateBegin)
	}
	if g.DateEnd == nil || *g.DateEnd != "2024-09-30" {
		t.Errorf("Expected date_end to be refreshed, got %v", g.DateEnd)
	}
	if g.MaximumDistance == nil || *g.MaximumDistance != 800000 {
		t.Errorf("Expected maximum distance to be updated, got %v", g.MaximumDistance)
	}

	n, err := db.CountGearConnections(ctx, garminID)
	if err != nil {
		t.Fatalf("Failed to count gear connections: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 gear connections, got %d", n)
	}

	// Without a code, gear is only merged through its connection
	otherID, err := db.InsertGear(ctx, provider.MappedGear{
		Provider:       provider.Strava,
		ProviderGearID: "b123",
		Name:           "Road bike",
		Type:           provider.GearBike,
	})
	if err != nil {
		t.Fatalf("Failed to insert strava gear: %v", err)
	}
	if otherID == garminID {
		t.Error("Expected uncoded gear to create a new canonical gear")
	}

	again, err := db.InsertGear(ctx, provider.MappedGear{
		Provider:       provider.Strava,
		ProviderGearID: "b123",
		Name:           "Road bike",
	})
	if err != nil {
		t.Fatalf("Failed to re-insert strava gear: %v", err)
	}
	if again != otherID {
		t.Errorf("Expected connection to resolve to %s, got %s", otherID, again)
	}

	gears, err := db.ListGears(ctx)
	if err != nil {
		t.Fatalf("Failed to list gears: %v", err)
	}
	if len(gears) != 2 {
		t.Errorf("Expected 2 canonical gears, got %d", len(gears))
	}
}
