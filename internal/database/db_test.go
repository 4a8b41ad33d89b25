package database

import (
	"context"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseOperations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("InitIsIdempotent", func(t *testing.T) {
		if err := db.Init(); err != nil {
			t.Fatalf("Failed to re-init schema: %v", err)
		}
		if err := db.Health(); err != nil {
			t.Fatalf("Expected healthy database: %v", err)
		}
	})

	t.Run("CacheRecords", func(t *testing.T) {
		_, _, ok, err := db.GetCacheRecord(ctx, "garmin", "activity", "1")
		if err != nil {
			t.Fatalf("Failed to get cache record: %v", err)
		}
		if ok {
			t.Fatal("Expected cache miss on empty store")
		}

		if err := db.SetCacheRecord(ctx, "garmin", "activity", "1", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("Failed to set cache record: %v", err)
		}
		if err := db.SetCacheRecord(ctx, "garmin", "activity", "1", []byte(`{"v":2}`)); err != nil {
			t.Fatalf("Failed to overwrite cache record: %v", err)
		}

		value, createdAt, ok, err := db.GetCacheRecord(ctx, "garmin", "activity", "1")
		if err != nil {
			t.Fatalf("Failed to get cache record: %v", err)
		}
		if !ok {
			t.Fatal("Expected cache hit")
		}
		if string(value) != `{"v":2}` {
			t.Errorf("Expected last written value, got %s", value)
		}
		if time.Since(createdAt) > time.Minute {
			t.Errorf("Expected recent created_at, got %v", createdAt)
		}

		// The same id under another kind is a separate record
		_, _, ok, err = db.GetCacheRecord(ctx, "garmin", "gear", "1")
		if err != nil {
			t.Fatalf("Failed to get cache record: %v", err)
		}
		if ok {
			t.Error("Expected miss for a different kind")
		}

		var n int
		if err := db.Conn().QueryRow("SELECT COUNT(*) FROM cache_records").Scan(&n); err != nil {
			t.Fatalf("Failed to count cache records: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected overwrite to leave 1 record, got %d", n)
		}
	})

	t.Run("SyncRuns", func(t *testing.T) {
		started := time.Now().Add(-time.Minute)
		errMsg := "login failed"

		for _, run := range []*SyncRun{
			{Provider: "strava", StartedAt: started, FinishedAt: started.Add(time.Second), Fetched: 3, Processed: 3},
			{Provider: "coros", StartedAt: started.Add(time.Second), FinishedAt: started.Add(2 * time.Second), Error: &errMsg},
		} {
			id, err := db.RecordSyncRun(ctx, run)
			if err != nil {
				t.Fatalf("Failed to record sync run: %v", err)
			}
			if id == 0 || run.ID != id {
				t.Errorf("Expected run id to be assigned, got %d", id)
			}
		}

		runs, err := db.ListSyncRuns(ctx, "", 10)
		if err != nil {
			t.Fatalf("Failed to list sync runs: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("Expected 2 runs, got %d", len(runs))
		}
		if runs[0].Provider != "coros" {
			t.Errorf("Expected newest run first, got %s", runs[0].Provider)
		}
		if runs[0].Error == nil || *runs[0].Error != errMsg {
			t.Errorf("Expected error to round trip, got %v", runs[0].Error)
		}

		runs, err = db.ListSyncRuns(ctx, "strava", 10)
		if err != nil {
			t.Fatalf("Failed to list sync runs: %v", err)
		}
		if len(runs) != 1 || runs[0].Processed != 3 {
			t.Errorf("Expected one strava run with 3 processed, got %+v", runs)
		}
	})

	t.Run("CountRecords", func(t *testing.T) {
		counts, err := db.CountRecords(ctx)
		if err != nil {
			t.Fatalf("Failed to count records: %v", err)
		}
		if counts["cache_records"] != 1 {
			t.Errorf("Expected 1 cache record, got %d", counts["cache_records"])
		}
		if _, ok := counts["activities"]; !ok {
			t.Error("Expected activities table in counts")
		}
	})
}
