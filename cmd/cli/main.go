package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"activity-provider-sync/internal/bootstrap"
	"activity-provider-sync/internal/config"
	"activity-provider-sync/internal/database"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/syncer"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "cli",
	Short: "Sync activities and gear between providers and the local store",
	Long: `Sync activities and gear from Strava, Garmin and Coros into the local
activity store, and move activity files between providers.

Credentials are read from the environment (STRAVA_CLIENT_ID,
STRAVA_CLIENT_SECRET, STRAVA_REFRESH_TOKEN, GARMIN_USERNAME,
GARMIN_PASSWORD, COROS_USERNAME, COROS_PASSWORD) or from the YAML file
named by CREDENTIALS_FILE.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log provider requests to stderr")
}

// session is the state shared by every command
type session struct {
	cfg     *config.Config
	db      *database.DB
	manager *provider.Manager
	engine  *syncer.Engine
}

// open loads configuration and connects only the providers a command needs
func open(ctx context.Context, ids ...provider.ID) (*session, error) {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	manager := provider.NewManager(logger)
	c := bootstrap.NewCache(cfg, db)
	enabled := cfg.Enabled()
	for _, id := range ids {
		if !slices.Contains(enabled, id) {
			db.Close()
			return nil, fmt.Errorf("no credentials configured for %s", id)
		}
		if err := manager.Add(bootstrap.NewClient(id, cfg, c, logger.With("provider", id))); err != nil {
			db.Close()
			return nil, err
		}
		if err := manager.Connect(ctx, id, cfg.Credentials[id]); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &session{
		cfg:     cfg,
		db:      db,
		manager: manager,
		engine:  syncer.NewEngine(db, manager, logger),
	}, nil
}

func (s *session) Close() {
	s.manager.Shutdown()
	s.db.Close()
}

func parseProviders(args ...string) ([]provider.ID, error) {
	ids := make([]provider.ID, 0, len(args))
	for _, arg := range args {
		id, err := provider.ParseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
