// Package cache shields providers from redundant calls within a run.
// Records are last-write-wins and are never evicted beyond overwrite.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"activity-provider-sync/internal/metrics"
)

// Resource kinds stored by the adapters
const (
	KindActivity     = "activity"
	KindActivityGear = "activity_gear"
	KindGear         = "gear"
)

// Key identifies a cached provider resource
type Key struct {
	Provider string
	Kind     string
	ID       string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Provider, k.Kind, k.ID)
}

// Cache is a key/value store for provider payloads. A miss is reported
// with ok=false and is not an error.
type Cache interface {
	Get(ctx context.Context, key Key) (value []byte, ok bool, err error)
	Set(ctx context.Context, key Key, value []byte) error
}

type entry struct {
	value     []byte
	createdAt time.Time
}

// Memory is an in-process Cache
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]entry
	maxAge  time.Duration
	now     func() time.Time
}

// NewMemory creates an in-memory cache. A maxAge of zero keeps records forever.
func NewMemory(maxAge time.Duration) *Memory {
	return &Memory{
		entries: make(map[Key]entry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && m.maxAge > 0 && m.now().Sub(e.createdAt) > m.maxAge {
		ok = false
	}
	observe(key, ok)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{value: append([]byte(nil), value...), createdAt: m.now()}
	return nil
}

// Len returns the number of stored records
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RecordStore is the persistence needed by Store
type RecordStore interface {
	GetCacheRecord(ctx context.Context, provider, kind, id string) (value []byte, createdAt time.Time, ok bool, err error)
	SetCacheRecord(ctx context.Context, provider, kind, id string, value []byte) error
}

// Store is a disk-backed Cache on top of the database
type Store struct {
	records RecordStore
	maxAge  time.Duration
	now     func() time.Time
}

// NewStore creates a disk-backed cache. A maxAge of zero keeps records forever.
func NewStore(records RecordStore, maxAge time.Duration) *Store {
	return &Store{records: records, maxAge: maxAge, now: time.Now}
}

func (s *Store) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	value, createdAt, ok, err := s.records.GetCacheRecord(ctx, key.Provider, key.Kind, key.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache record %s: %w", key, err)
	}
	if ok && s.maxAge > 0 && s.now().Sub(createdAt) > s.maxAge {
		ok = false
	}
	observe(key, ok)
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key Key, value []byte) error {
	if err := s.records.SetCacheRecord(ctx, key.Provider, key.Kind, key.ID, value); err != nil {
		return fmt.Errorf("failed to write cache record %s: %w", key, err)
	}
	return nil
}

func observe(key Key, hit bool) {
	result := metrics.CacheMiss
	if hit {
		result = metrics.CacheHit
	}
	metrics.CacheLookupsTotal.WithLabelValues(key.Provider, key.Kind, result).Inc()
}
