package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"activity-provider-sync/internal/bootstrap"
	"activity-provider-sync/internal/config"
	"activity-provider-sync/internal/database"
	"activity-provider-sync/internal/handlers"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/middleware"
	"activity-provider-sync/internal/syncer"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.InternalAPIKey == "" {
		fmt.Fprintln(os.Stderr, "Missing required environment variable: INTERNAL_API_KEY")
		os.Exit(1)
	}

	// Set up logger
	logger := slog.New(slog.NewJSONHandler(bootstrap.LogOutput(cfg, os.Stdout), &slog.HandlerOptions{
		Level: bootstrap.ParseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting activity-provider-sync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"cache", cfg.CacheBackend,
		"log_level", cfg.LogLevel)

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register and connect providers
	manager, err := bootstrap.NewManager(ctx, cfg, db, logger)
	if err != nil {
		logger.Error("Failed to set up providers", "error", err)
		os.Exit(1)
	}
	defer manager.Shutdown()

	for _, id := range manager.Providers() {
		logger.Info("Configured provider", "provider", id, "state", manager.State(id))
	}

	engine := syncer.NewEngine(db, manager, logger)
	syncHandler := handlers.NewSyncHandler(engine, manager, cfg)

	// Set up HTTP routes
	mux := http.NewServeMux()
	syncHandler.Register(mux)

	// Health check endpoint
	mux.Handle("GET /health", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(); err != nil {
			http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	// Create HTTP server. Full syncs fetch many details, so writes get a long timeout.
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.Logging(logger)(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Start record count collector and metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting record count collector")
			metrics.StartRecordCountCollector(ctx, db, 15*time.Second)
		}()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop collector
	cancel()

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
