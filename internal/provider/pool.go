package provider

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"activity-provider-sync/internal/cache"
	"activity-provider-sync/internal/metrics"
)

// DefaultConcurrency keeps detail fetches under third-party rate limits
const DefaultConcurrency = 4

// PoolOptions bounds the detail-fetch phase of a sync
type PoolOptions struct {
	Provider    ID
	Concurrency int
	Limiter     *rate.Limiter // optional request pacing
	Logger      *slog.Logger
}

// FetchDetails runs fetch for every id with at most Concurrency calls in
// flight. Results keep the order of ids; failed items are logged and
// reported separately instead of aborting the batch.
func FetchDetails[T any](ctx context.Context, ids []string, opts PoolOptions, fetch func(ctx context.Context, id string) (T, error)) ([]T, []ItemError) {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inFlight := metrics.DetailFetchInFlight.WithLabelValues(string(opts.Provider))

	results := make([]T, len(ids))
	errs := make([]error, len(ids))

	// Workers never return an error: one failed item must not cancel the rest
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, id := range ids {
		g.Go(func() error {
			if opts.Limiter != nil {
				if err := opts.Limiter.Wait(ctx); err != nil {
					errs[i] = err
					return nil
				}
			}

			inFlight.Inc()
			defer inFlight.Dec()

			results[i], errs[i] = fetch(ctx, id)
			return nil
		})
	}
	g.Wait()

	var out []T
	var failures []ItemError
	for i, id := range ids {
		if errs[i] != nil {
			logger.Warn("Activity detail fetch failed", "provider", opts.Provider, "activity_id", id, "error", errs[i])
			failures = append(failures, ItemError{ID: id, Err: errs[i]})
			continue
		}
		out = append(out, results[i])
	}

	return out, failures
}

// CachedFetch serves key from c when present. Otherwise it calls fetch and
// writes the payload back before returning it. A nil cache always fetches.
func CachedFetch(ctx context.Context, c cache.Cache, key cache.Key, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if c != nil {
		value, ok, err := c.Get(ctx, key)
		if err != nil {
			slog.Default().Warn("Cache read failed", "key", key.String(), "error", err)
		} else if ok {
			return value, nil
		}
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if c != nil {
		if err := c.Set(ctx, key, value); err != nil {
			slog.Default().Warn("Cache write failed", "key", key.String(), "error", err)
		}
	}
	return value, nil
}

// FirstAuthFailure returns the first failure caused by ErrAuthentication.
// A rejected session fails the whole sync rather than each item.
func FirstAuthFailure(failures []ItemError) error {
	for _, f := range failures {
		if errors.Is(f.Err, ErrAuthentication) {
			return f.Err
		}
	}
	return nil
}
