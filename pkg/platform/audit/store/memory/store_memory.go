package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

// InMemoryStore is a process-local record store for tests. It stands in for
// the Postgres store with the same id, ordering and filter semantics; the
// server always runs on Postgres.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   []audit.Record
	nextID    int64
	now       func() time.Time
	available bool
	failWith  error
}

// Option configures the store.
type Option func(*InMemoryStore)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) { s.now = now }
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{now: time.Now, available: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Name() string { return "database" }

func (s *InMemoryStore) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// SetAvailable toggles the capability, simulating an adapter that failed to
// initialize.
func (s *InMemoryStore) SetAvailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = v
}

// FailWith makes every subsequent Append fail with err; nil restores normal
// behavior.
func (s *InMemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *InMemoryStore) Ping(_ context.Context) error {
	if !s.Available() {
		return sentinel.ErrUnavailable
	}
	return nil
}

func (s *InMemoryStore) Append(ctx context.Context, rec audit.Record) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, time.Time{}, fmt.Errorf("insert audit record: %w", s.failWith)
	}
	s.nextID++
	rec.ID = s.nextID
	rec.Timestamp = s.now().UTC()
	s.records = append(s.records, rec)
	return rec.ID, rec.Timestamp, nil
}

// Query returns matching records newest first, ties broken by id.
func (s *InMemoryStore) Query(_ context.Context, q audit.RecordQuery) ([]audit.Record, error) {
	s.mu.RLock()
	matched := make([]audit.Record, 0, len(s.records))
	for _, rec := range s.records {
		if q.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.nextID = 0
}
