package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for record count queries
type DB interface {
	CountRecords(ctx context.Context) (map[string]int, error)
}

// StartRecordCountCollector starts a background goroutine that periodically
// collects canonical store row counts from the database
func StartRecordCountCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectRecordCounts(ctx, db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Record count collector stopping")
			return
		case <-ticker.C:
			collectRecordCounts(ctx, db, logger)
		}
	}
}

func collectRecordCounts(ctx context.Context, db DB, logger *slog.Logger) {
	counts, err := db.CountRecords(ctx)
	if err != nil {
		logger.Error("Failed to count canonical records", "error", err)
		return
	}
	for table, n := range counts {
		RecordsTotal.WithLabelValues(table).Set(float64(n))
	}
}
