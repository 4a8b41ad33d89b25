package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type record struct {
	value     []byte
	createdAt time.Time
}

type memoryRecords struct {
	mu      sync.Mutex
	records map[string]record
	now     time.Time
	fail    bool
}

func newMemoryRecords(now time.Time) *memoryRecords {
	return &memoryRecords{records: make(map[string]record), now: now}
}

func (m *memoryRecords) GetCacheRecord(_ context.Context, provider, kind, id string) ([]byte, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, time.Time{}, false, errors.New("database is locked")
	}
	r, ok := m.records[provider+"/"+kind+"/"+id]
	return r.value, r.createdAt, ok, nil
}

func (m *memoryRecords) SetCacheRecord(_ context.Context, provider, kind, id string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database is locked")
	}
	m.records[provider+"/"+kind+"/"+id] = record{value: value, createdAt: m.now}
	return nil
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	key := Key{Provider: "strava", Kind: KindActivity, ID: "1"}

	if _, ok, err := c.Get(ctx, key); ok || err != nil {
		t.Fatalf("Expected miss without error, got ok=%v err=%v", ok, err)
	}

	value := []byte(`{"id":1}`)
	if err := c.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value[0] = 'X' // stored copies are not aliased

	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != `{"id":1}` {
		t.Errorf("Unexpected value %s", got)
	}

	if err := c.Set(ctx, key, []byte(`{"id":2}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _, _ = c.Get(ctx, key)
	if string(got) != `{"id":2}` {
		t.Errorf("Expected last write to win, got %s", got)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 record, got %d", c.Len())
	}

	other := Key{Provider: "strava", Kind: KindActivityGear, ID: "1"}
	if _, ok, _ := c.Get(ctx, other); ok {
		t.Error("Expected kinds to be separate")
	}
}

func TestMemoryMaxAge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(time.Hour)
	c.now = func() time.Time { return now }

	key := Key{Provider: "coros", Kind: KindActivity, ID: "L1"}
	if err := c.Set(ctx, key, []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	now = now.Add(30 * time.Minute)
	if _, ok, _ := c.Get(ctx, key); !ok {
		t.Error("Expected fresh record to hit")
	}

	now = now.Add(time.Hour)
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Error("Expected stale record to miss")
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	records := newMemoryRecords(now)
	s := NewStore(records, 24*time.Hour)
	s.now = func() time.Time { return now }

	key := Key{Provider: "garmin", Kind: KindGear, ID: "shoe-1"}
	if _, ok, err := s.Get(ctx, key); ok || err != nil {
		t.Fatalf("Expected miss without error, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, key, []byte("gear")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok || string(got) != "gear" {
		t.Fatalf("Unexpected get result %q ok=%v err=%v", got, ok, err)
	}

	now = now.Add(25 * time.Hour)
	if _, ok, _ := s.Get(ctx, key); ok {
		t.Error("Expected stale record to miss")
	}

	records.fail = true
	if _, _, err := s.Get(ctx, key); err == nil {
		t.Error("Expected read error to surface")
	}
	if err := s.Set(ctx, key, []byte("x")); err == nil {
		t.Error("Expected write error to surface")
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Provider: "strava", Kind: KindActivity, ID: "42"}
	if k.String() != "strava/activity/42" {
		t.Errorf("Unexpected key string %s", k.String())
	}
}
