// Package bootstrap builds the shared runtime pieces from configuration
package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"activity-provider-sync/internal/cache"
	"activity-provider-sync/internal/config"
	"activity-provider-sync/internal/database"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/coros"
	"activity-provider-sync/internal/provider/garmin"
	"activity-provider-sync/internal/provider/strava"
)

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogOutput returns w, or a rotating file when LOG_FILE is set
func LogOutput(cfg *config.Config, w io.Writer) io.Writer {
	if cfg.LogFile == "" {
		return w
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// NewCache builds the detail cache selected by CACHE_BACKEND
func NewCache(cfg *config.Config, db *database.DB) cache.Cache {
	if cfg.CacheBackend == config.CacheMemory {
		return cache.NewMemory(cfg.CacheMaxAge)
	}
	return cache.NewStore(db, cfg.CacheMaxAge)
}

func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.DetailRatePerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.DetailRatePerSecond), 1)
}

// NewClient builds the adapter for one provider
func NewClient(id provider.ID, cfg *config.Config, c cache.Cache, logger *slog.Logger) provider.Client {
	switch id {
	case provider.Strava:
		return strava.New(strava.Options{
			Cache:       c,
			Concurrency: cfg.DetailConcurrency,
			Limiter:     newLimiter(cfg),
			Logger:      logger,
		})
	case provider.Garmin:
		return garmin.New(garmin.Options{
			Cache:       c,
			Concurrency: cfg.DetailConcurrency,
			Limiter:     newLimiter(cfg),
			Logger:      logger,
		})
	default:
		return coros.New(coros.Options{
			Cache:       c,
			Concurrency: cfg.DetailConcurrency,
			Limiter:     newLimiter(cfg),
			Logger:      logger,
		})
	}
}

// NewManager registers every provider with complete credentials and
// connects it. Connection failures are logged and leave the provider
// registered but unusable until a reconnect succeeds.
func NewManager(ctx context.Context, cfg *config.Config, db *database.DB, logger *slog.Logger) (*provider.Manager, error) {
	manager := provider.NewManager(logger)
	c := NewCache(cfg, db)

	for _, id := range cfg.Enabled() {
		client := NewClient(id, cfg, c, logger.With("provider", id))
		if err := manager.Add(client); err != nil {
			return nil, err
		}
		if err := manager.Connect(ctx, id, cfg.Credentials[id]); err != nil {
			logger.Error("Failed to connect provider", "provider", id, "error", err)
		}
	}

	return manager, nil
}
