package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"activity-provider-sync/internal/database"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
)

type fakeClient struct {
	id provider.ID

	mu          sync.Mutex
	activities  []provider.MappedActivity
	failures    []provider.ItemError
	gears       []provider.MappedGear
	syncErr     error
	checkpoints []provider.Checkpoint
	links       []string
	uploadID    string
	uploaded    []string
	exported    string
}

func (f *fakeClient) ID() provider.ID { return f.id }

func (f *fakeClient) Connect(ctx context.Context, creds provider.Credentials) error { return nil }

func (f *fakeClient) Sync(ctx context.Context, cp provider.Checkpoint) (*provider.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkpoints = append(f.checkpoints, cp)
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	batch := &provider.Batch{Failures: f.failures}
	for _, a := range f.activities {
		if !a.Start().Before(cp.Since) {
			batch.Activities = append(batch.Activities, a)
		}
	}
	return batch, nil
}

func (f *fakeClient) SyncActivity(ctx context.Context, activityID string) (*provider.MappedActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range f.activities {
		if a.ProviderActivityID == activityID {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("activity %s: %w", activityID, provider.ErrMapping)
}

func (f *fakeClient) SyncGears(ctx context.Context) ([]provider.MappedGear, error) {
	return f.gears, nil
}

func (f *fakeClient) LinkActivityGear(ctx context.Context, activityID, gearID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, "link "+activityID+" "+gearID)
	return nil
}

func (f *fakeClient) UnlinkActivityGear(ctx context.Context, activityID, gearID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, "unlink "+activityID+" "+gearID)
	return nil
}

func (f *fakeClient) DownloadActivity(ctx context.Context, activityID, path string) error {
	return os.WriteFile(path, []byte("export of "+activityID), 0o644)
}

func (f *fakeClient) UploadActivity(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, string(data))
	return f.uploadID, nil
}

func (f *fakeClient) CreateManualActivity(ctx context.Context, activity provider.Activity) (string, error) {
	if f.uploadID == "" {
		return "", provider.ErrNotSupported
	}
	return f.uploadID, nil
}

var baseTime = time.Date(2024, 5, 10, 7, 30, 0, 0, time.UTC)

func mapped(id provider.ID, providerActivityID string, start time.Time) provider.MappedActivity {
	return provider.MappedActivity{
		Activity: provider.Activity{
			Name:      "Morning Run",
			StartTime: start.UnixMilli(),
			Timezone:  "Europe/London",
			Distance:  10000,
			Duration:  3000,
			Type:      provider.TypeRun,
		},
		Provider:           id,
		ProviderActivityID: providerActivityID,
		Original:           true,
	}
}

func setupEngine(t *testing.T, clients ...*fakeClient) (*Engine, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	manager := provider.NewManager(nil)
	for _, c := range clients {
		if err := manager.Add(c); err != nil {
			t.Fatalf("Failed to add client: %v", err)
		}
		if err := manager.Connect(context.Background(), c.id, provider.Credentials{}); err != nil {
			t.Fatalf("Failed to connect client: %v", err)
		}
	}

	return NewEngine(db, manager, nil), db
}

func TestSync_FullThenIncremental(t *testing.T) {
	client := &fakeClient{id: provider.Garmin}
	for i := 0; i < 3; i++ {
		client.activities = append(client.activities,
			mapped(provider.Garmin, fmt.Sprintf("g-%d", i), baseTime.Add(time.Duration(i)*24*time.Hour)))
	}
	engine, db := setupEngine(t, client)
	ctx := context.Background()

	result, err := engine.Sync(ctx, provider.Garmin)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Fetched != 3 || result.Processed != 3 || result.Skipped != 0 {
		t.Errorf("Unexpected first result: %+v", result)
	}
	if !client.checkpoints[0].IsZero() {
		t.Errorf("Expected full sync checkpoint, got %+v", client.checkpoints[0])
	}

	client.activities = append(client.activities, mapped(provider.Garmin, "g-3", baseTime.Add(72*time.Hour)))
	client.failures = []provider.ItemError{{ID: "g-bad", Err: provider.ErrMapping}}

	result, err = engine.Sync(ctx, provider.Garmin)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}

	cp := client.checkpoints[1]
	if !cp.Since.Equal(baseTime.Add(48*time.Hour)) || cp.LastID != "g-2" {
		t.Errorf("Expected checkpoint at g-2, got %+v", cp)
	}
	// g-2 sits on the boundary and is already connected
	if result.Fetched != 3 || result.Processed != 1 || result.Skipped != 1 {
		t.Errorf("Unexpected second result: %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].ID != "g-bad" {
		t.Errorf("Expected g-bad failure, got %+v", result.Errors)
	}

	n, err := db.CountActivities(ctx)
	if err != nil {
		t.Fatalf("Failed to count activities: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 activities, got %d", n)
	}

	runs, err := engine.ListRuns(ctx, provider.Garmin, 10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != result.RunID || runs[0].Failed != 1 || runs[0].Checkpoint == nil {
		t.Errorf("Unexpected latest run: %+v", runs[0])
	}
	if runs[1].Checkpoint != nil {
		t.Errorf("Expected no checkpoint on first run, got %q", *runs[1].Checkpoint)
	}
}

// pooledClient fetches details through the shared pool, failing the ids in bad
type pooledClient struct {
	fakeClient
	ids []string
	bad map[string]bool
}

func (p *pooledClient) Sync(ctx context.Context, cp provider.Checkpoint) (*provider.Batch, error) {
	activities, failures := provider.FetchDetails(ctx, p.ids, provider.PoolOptions{Provider: p.id},
		func(ctx context.Context, id string) (provider.MappedActivity, error) {
			if p.bad[id] {
				return provider.MappedActivity{}, fmt.Errorf("detail %s: %w", id, provider.ErrMapping)
			}
			var n int
			fmt.Sscanf(id, "c-%d", &n)
			return mapped(p.id, id, baseTime.Add(time.Duration(n)*time.Hour)), nil
		})
	return &provider.Batch{Activities: activities, Failures: failures}, nil
}

func TestSync_CountsEachFailureOnce(t *testing.T) {
	client := &pooledClient{
		fakeClient: fakeClient{id: provider.Coros},
		bad:        map[string]bool{"c-3": true, "c-7": true},
	}
	for i := 0; i < 10; i++ {
		client.ids = append(client.ids, fmt.Sprintf("c-%d", i))
	}

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	manager := provider.NewManager(nil)
	if err := manager.Add(client); err != nil {
		t.Fatalf("Failed to add client: %v", err)
	}
	if err := manager.Connect(context.Background(), provider.Coros, provider.Credentials{}); err != nil {
		t.Fatalf("Failed to connect client: %v", err)
	}
	engine := NewEngine(db, manager, nil)

	failed := metrics.SyncItemsTotal.WithLabelValues(string(provider.Coros), metrics.ResultFailed)
	processed := metrics.SyncItemsTotal.WithLabelValues(string(provider.Coros), metrics.ResultProcessed)
	failedBefore, processedBefore := testutil.ToFloat64(failed), testutil.ToFloat64(processed)

	result, err := engine.Sync(context.Background(), provider.Coros)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Processed != 8 || len(result.Errors) != 2 {
		t.Fatalf("Expected 8 processed and 2 errors, got %+v", result)
	}

	if delta := testutil.ToFloat64(failed) - failedBefore; delta != 2 {
		t.Errorf("Expected failed counter to grow by 2, got %v", delta)
	}
	if delta := testutil.ToFloat64(processed) - processedBefore; delta != 8 {
		t.Errorf("Expected processed counter to grow by 8, got %v", delta)
	}
}

func TestSync_AuthFailureRecordsRun(t *testing.T) {
	client := &fakeClient{id: provider.Coros, syncErr: fmt.Errorf("session: %w", provider.ErrAuthentication)}
	engine, _ := setupEngine(t, client)
	ctx := context.Background()

	_, err := engine.Sync(ctx, provider.Coros)
	if !errors.Is(err, provider.ErrAuthentication) {
		t.Fatalf("Expected authentication error, got %v", err)
	}

	runs, err := engine.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Error == nil {
		t.Fatalf("Expected one failed run, got %+v", runs)
	}
}

func TestSync_UnknownProvider(t *testing.T) {
	engine, _ := setupEngine(t)

	_, err := engine.Sync(context.Background(), provider.Strava)
	if !errors.Is(err, provider.ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestSyncActivity_MergesAcrossProviders(t *testing.T) {
	strava := &fakeClient{id: provider.Strava, activities: []provider.MappedActivity{mapped(provider.Strava, "s-1", baseTime)}}
	garmin := &fakeClient{id: provider.Garmin, activities: []provider.MappedActivity{mapped(provider.Garmin, "g-1", baseTime)}}
	engine, db := setupEngine(t, strava, garmin)
	ctx := context.Background()

	first, err := engine.SyncActivity(ctx, provider.Strava, "s-1")
	if err != nil {
		t.Fatalf("SyncActivity failed: %v", err)
	}
	if !first.Created {
		t.Error("Expected first insert to create an activity")
	}

	second, err := engine.SyncActivity(ctx, provider.Garmin, "g-1")
	if err != nil {
		t.Fatalf("SyncActivity failed: %v", err)
	}
	if second.Created || second.ActivityID != first.ActivityID {
		t.Errorf("Expected merge into %s, got %+v", first.ActivityID, second)
	}

	connections, err := db.ListActivityConnections(ctx, first.ActivityID)
	if err != nil {
		t.Fatalf("Failed to list connections: %v", err)
	}
	if len(connections) != 2 {
		t.Errorf("Expected 2 connections, got %d", len(connections))
	}

	if _, err := engine.SyncActivity(ctx, provider.Strava, "missing"); !errors.Is(err, provider.ErrMapping) {
		t.Errorf("Expected mapping error, got %v", err)
	}
}

func TestGearLinking(t *testing.T) {
	client := &fakeClient{
		id:         provider.Garmin,
		activities: []provider.MappedActivity{mapped(provider.Garmin, "g-1", baseTime)},
		gears: []provider.MappedGear{
			{Provider: provider.Garmin, ProviderGearID: "shoe-1", Name: "Pegasus [PEG1]", Code: "PEG1", Type: provider.GearShoes},
			{Provider: provider.Garmin, ProviderGearID: "bike-1", Name: "Tarmac", Type: provider.GearBike},
		},
	}
	engine, db := setupEngine(t, client)
	ctx := context.Background()

	gearIDs, err := engine.SyncGears(ctx, provider.Garmin)
	if err != nil {
		t.Fatalf("SyncGears failed: %v", err)
	}
	if len(gearIDs) != 2 {
		t.Fatalf("Expected 2 gear ids, got %d", len(gearIDs))
	}

	// Linking before the activity is synced only reaches the provider
	if err := engine.LinkGear(ctx, provider.Garmin, "g-1", "shoe-1"); err != nil {
		t.Fatalf("LinkGear failed: %v", err)
	}

	activity, err := engine.SyncActivity(ctx, provider.Garmin, "g-1")
	if err != nil {
		t.Fatalf("SyncActivity failed: %v", err)
	}
	linked, err := db.ListActivityGearIDs(ctx, activity.ActivityID)
	if err != nil {
		t.Fatalf("Failed to list gear links: %v", err)
	}
	if len(linked) != 0 {
		t.Errorf("Expected no canonical links yet, got %v", linked)
	}

	if err := engine.LinkGear(ctx, provider.Garmin, "g-1", "shoe-1"); err != nil {
		t.Fatalf("LinkGear failed: %v", err)
	}
	linked, _ = db.ListActivityGearIDs(ctx, activity.ActivityID)
	if len(linked) != 1 || linked[0] != gearIDs[0] {
		t.Errorf("Expected link to %s, got %v", gearIDs[0], linked)
	}

	if err := engine.UnlinkGear(ctx, provider.Garmin, "g-1", "shoe-1"); err != nil {
		t.Fatalf("UnlinkGear failed: %v", err)
	}
	linked, _ = db.ListActivityGearIDs(ctx, activity.ActivityID)
	if len(linked) != 0 {
		t.Errorf("Expected link removed, got %v", linked)
	}

	want := []string{"link g-1 shoe-1", "link g-1 shoe-1", "unlink g-1 shoe-1"}
	if fmt.Sprint(client.links) != fmt.Sprint(want) {
		t.Errorf("Expected provider calls %v, got %v", want, client.links)
	}
}

func TestCopyActivity(t *testing.T) {
	strava := &fakeClient{id: provider.Strava, activities: []provider.MappedActivity{mapped(provider.Strava, "s-1", baseTime)}}
	garmin := &fakeClient{
		id:         provider.Garmin,
		activities: []provider.MappedActivity{mapped(provider.Garmin, "g-9", baseTime)},
		uploadID:   "g-9",
	}
	engine, db := setupEngine(t, strava, garmin)
	ctx := context.Background()

	result, err := engine.CopyActivity(ctx, provider.Strava, provider.Garmin, "s-1", "")
	if err != nil {
		t.Fatalf("CopyActivity failed: %v", err)
	}
	if result.Created {
		t.Error("Expected the uploaded copy to merge into the source activity")
	}
	if len(garmin.uploaded) != 1 || garmin.uploaded[0] != "export of s-1" {
		t.Errorf("Unexpected uploads: %v", garmin.uploaded)
	}

	connections, err := db.ListActivityConnections(ctx, result.ActivityID)
	if err != nil {
		t.Fatalf("Failed to list connections: %v", err)
	}
	if len(connections) != 2 {
		t.Errorf("Expected strava and garmin connections, got %d", len(connections))
	}

	if _, err := engine.CopyActivity(ctx, provider.Strava, provider.Strava, "s-1", ""); err == nil {
		t.Error("Expected error copying onto the same provider")
	}
}

func TestCreateManual(t *testing.T) {
	strava := &fakeClient{
		id:         provider.Strava,
		activities: []provider.MappedActivity{mapped(provider.Strava, "s-5", baseTime)},
		uploadID:   "s-5",
	}
	coros := &fakeClient{id: provider.Coros}
	engine, _ := setupEngine(t, strava, coros)
	ctx := context.Background()

	result, err := engine.CreateManual(ctx, provider.Strava, mapped(provider.Strava, "", baseTime).Activity)
	if err != nil {
		t.Fatalf("CreateManual failed: %v", err)
	}
	if !result.Created {
		t.Error("Expected a new canonical activity")
	}

	if _, err := engine.CreateManual(ctx, provider.Coros, provider.Activity{}); !errors.Is(err, provider.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}
}
