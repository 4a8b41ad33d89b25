// Package syncer moves provider activities and gear into the canonical store.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"activity-provider-sync/internal/database"
	"activity-provider-sync/internal/fitfile"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
)

// Engine runs syncs against the providers registered in a Manager
type Engine struct {
	db      *database.DB
	manager *provider.Manager
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a sync engine
func NewEngine(db *database.DB, manager *provider.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:      db,
		manager: manager,
		logger:  logger,
		now:     time.Now,
	}
}

// Result summarises one incremental sync
type Result struct {
	Provider  provider.ID
	RunID     int64
	Fetched   int
	Processed int
	Skipped   int
	Errors    []provider.ItemError
}

// Checkpoint derives where the next sync of a provider starts from its
// most recent stored activity
func (e *Engine) Checkpoint(ctx context.Context, id provider.ID) (provider.Checkpoint, error) {
	last, err := e.db.GetLastProviderActivity(ctx, string(id))
	if err != nil {
		return provider.Checkpoint{}, err
	}
	if last == nil {
		return provider.Checkpoint{}, nil
	}
	return provider.Checkpoint{
		Since:  time.UnixMilli(last.Timestamp).UTC(),
		LastID: last.ProviderActivityID,
	}, nil
}

// Sync fetches activities newer than the checkpoint and reconciles them.
// Item failures are reported in the result; authentication and
// persistence failures abort the run.
func (e *Engine) Sync(ctx context.Context, id provider.ID) (*Result, error) {
	timer := prometheus.NewTimer(metrics.SyncDuration.WithLabelValues(string(id)))
	defer timer.ObserveDuration()

	run := &database.SyncRun{Provider: string(id), StartedAt: e.now()}
	result := &Result{Provider: id}

	checkpoint, err := e.Checkpoint(ctx, id)
	if err != nil {
		return nil, e.fail(ctx, run, fmt.Errorf("failed to load checkpoint: %w", err))
	}
	if !checkpoint.IsZero() {
		cp := fmt.Sprintf("since=%s last_id=%s", checkpoint.Since.Format(time.RFC3339), checkpoint.LastID)
		run.Checkpoint = &cp
	}

	e.logger.Info("Starting sync", "provider", id, "since", checkpoint.Since, "last_id", checkpoint.LastID)

	batch, err := e.manager.Sync(ctx, id, checkpoint)
	if err != nil {
		return nil, e.fail(ctx, run, fmt.Errorf("failed to sync %s: %w", id, err))
	}
	result.Fetched = len(batch.Activities) + len(batch.Failures)
	result.Errors = batch.Failures
	metrics.SyncItemsTotal.WithLabelValues(string(id), metrics.ResultFailed).Add(float64(len(batch.Failures)))

	for _, m := range batch.Activities {
		connected, err := e.db.HasProviderActivity(ctx, string(id), m.ProviderActivityID)
		if err != nil {
			return nil, e.fail(ctx, run, err)
		}
		if connected {
			result.Skipped++
			metrics.SyncItemsTotal.WithLabelValues(string(id), metrics.ResultSkipped).Inc()
			continue
		}

		if _, err := e.db.InsertActivity(ctx, m); err != nil {
			return nil, e.fail(ctx, run, err)
		}
		result.Processed++
		metrics.SyncItemsTotal.WithLabelValues(string(id), metrics.ResultProcessed).Inc()
	}

	run.FinishedAt = e.now()
	run.Fetched = result.Fetched
	run.Processed = result.Processed
	run.Skipped = result.Skipped
	run.Failed = len(result.Errors)
	if _, err := e.db.RecordSyncRun(ctx, run); err != nil {
		e.logger.Error("Failed to record sync run", "provider", id, "error", err)
	}
	result.RunID = run.ID

	outcome := metrics.OutcomeSuccess
	if len(result.Errors) > 0 {
		outcome = metrics.OutcomePartial
	}
	metrics.SyncRunsTotal.WithLabelValues(string(id), outcome).Inc()

	e.logger.Info("Completed sync",
		"provider", id,
		"fetched", result.Fetched,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", len(result.Errors),
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds())

	return result, nil
}

// fail records an aborted run and returns err
func (e *Engine) fail(ctx context.Context, run *database.SyncRun, err error) error {
	run.FinishedAt = e.now()
	msg := err.Error()
	run.Error = &msg
	if _, recErr := e.db.RecordSyncRun(ctx, run); recErr != nil {
		e.logger.Error("Failed to record sync run", "provider", run.Provider, "error", recErr)
	}
	metrics.SyncRunsTotal.WithLabelValues(run.Provider, metrics.OutcomeFailure).Inc()
	e.logger.Error("Sync failed", "provider", run.Provider, "error", err)
	return err
}

// SyncActivity fetches one provider activity and reconciles it
func (e *Engine) SyncActivity(ctx context.Context, id provider.ID, providerActivityID string) (*database.InsertResult, error) {
	m, err := e.manager.SyncActivity(ctx, id, providerActivityID)
	if err != nil {
		return nil, fmt.Errorf("failed to sync %s activity %s: %w", id, providerActivityID, err)
	}
	result, err := e.db.InsertActivity(ctx, *m)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Synced activity", "provider", id, "provider_activity_id", providerActivityID,
		"activity_id", result.ActivityID, "created", result.Created)
	return result, nil
}

// SyncGears fetches the provider's gear list and reconciles it, returning
// the canonical gear ids in provider order
func (e *Engine) SyncGears(ctx context.Context, id provider.ID) ([]string, error) {
	gears, err := e.manager.SyncGears(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to sync %s gears: %w", id, err)
	}

	ids := make([]string, 0, len(gears))
	for _, g := range gears {
		gearID, err := e.db.InsertGear(ctx, g)
		if err != nil {
			return nil, err
		}
		ids = append(ids, gearID)
	}

	e.logger.Info("Synced gears", "provider", id, "count", len(ids))
	return ids, nil
}

// LinkGear links gear to an activity on the provider, then mirrors the
// link in the canonical store when both sides are already synced
func (e *Engine) LinkGear(ctx context.Context, id provider.ID, providerActivityID, providerGearID string) error {
	if err := e.manager.LinkActivityGear(ctx, id, providerActivityID, providerGearID); err != nil {
		return err
	}
	activityID, gearID, ok, err := e.resolve(ctx, id, providerActivityID, providerGearID)
	if err != nil || !ok {
		return err
	}
	return e.db.LinkActivityGear(ctx, activityID, gearID)
}

// UnlinkGear is the inverse of LinkGear
func (e *Engine) UnlinkGear(ctx context.Context, id provider.ID, providerActivityID, providerGearID string) error {
	if err := e.manager.UnlinkActivityGear(ctx, id, providerActivityID, providerGearID); err != nil {
		return err
	}
	activityID, gearID, ok, err := e.resolve(ctx, id, providerActivityID, providerGearID)
	if err != nil || !ok {
		return err
	}
	return e.db.UnlinkActivityGear(ctx, activityID, gearID)
}

func (e *Engine) resolve(ctx context.Context, id provider.ID, providerActivityID, providerGearID string) (string, string, bool, error) {
	activityID, found, err := e.db.GetActivityConnection(ctx, string(id), providerActivityID)
	if err != nil || !found {
		if err == nil {
			e.logger.Warn("Activity not synced yet, canonical gear link skipped", "provider", id, "provider_activity_id", providerActivityID)
		}
		return "", "", false, err
	}
	gearID, found, err := e.db.GetGearConnection(ctx, string(id), providerGearID)
	if err != nil || !found {
		if err == nil {
			e.logger.Warn("Gear not synced yet, canonical gear link skipped", "provider", id, "provider_gear_id", providerGearID)
		}
		return "", "", false, err
	}
	return activityID, gearID, true, nil
}

// Download writes the provider's export of an activity to path
func (e *Engine) Download(ctx context.Context, id provider.ID, providerActivityID, path string) error {
	client, err := e.manager.Get(id)
	if err != nil {
		return err
	}
	return client.DownloadActivity(ctx, providerActivityID, path)
}

// Upload imports an activity file into a provider and reconciles the new activity
func (e *Engine) Upload(ctx context.Context, id provider.ID, path string) (*database.InsertResult, error) {
	client, err := e.manager.Get(id)
	if err != nil {
		return nil, err
	}
	providerActivityID, err := client.UploadActivity(ctx, path)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Uploaded activity", "provider", id, "file", filepath.Base(path), "provider_activity_id", providerActivityID)
	return e.SyncActivity(ctx, id, providerActivityID)
}

// CreateManual pushes a locally created activity to a provider and reconciles it
func (e *Engine) CreateManual(ctx context.Context, id provider.ID, activity provider.Activity) (*database.InsertResult, error) {
	client, err := e.manager.Get(id)
	if err != nil {
		return nil, err
	}
	providerActivityID, err := client.CreateManualActivity(ctx, activity)
	if err != nil {
		return nil, err
	}
	return e.SyncActivity(ctx, id, providerActivityID)
}

// CopyActivity downloads an activity from one provider and uploads it to
// another. Both sides are reconciled, so they merge into one canonical
// activity. An empty dir uses a temporary directory.
func (e *Engine) CopyActivity(ctx context.Context, from, to provider.ID, providerActivityID, dir string) (*database.InsertResult, error) {
	if from == to {
		return nil, fmt.Errorf("cannot copy an activity onto its own provider")
	}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "activity-copy-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	if _, err := e.SyncActivity(ctx, from, providerActivityID); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.fit", from, providerActivityID))
	if err := e.Download(ctx, from, providerActivityID, path); err != nil {
		return nil, fmt.Errorf("failed to download %s activity %s: %w", from, providerActivityID, err)
	}
	path, err := fitfile.Unpack(path)
	if err != nil {
		return nil, err
	}

	result, err := e.Upload(ctx, to, path)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to %s: %w", to, err)
	}
	e.logger.Info("Copied activity", "from", from, "to", to, "provider_activity_id", providerActivityID, "activity_id", result.ActivityID)
	return result, nil
}

// ListRuns returns recent sync runs, newest first. An empty id lists every provider.
func (e *Engine) ListRuns(ctx context.Context, id provider.ID, limit int) ([]*database.SyncRun, error) {
	return e.db.ListSyncRuns(ctx, string(id), limit)
}
