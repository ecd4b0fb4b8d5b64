package engine

import (
	"context"
	"sync"
)

// DefaultHistoryLimit is the retention cap applied when a store is
// created without an explicit one.
const DefaultHistoryLimit = 50

// CycleStore retains finished cycle records. Appends arrive in strictly
// increasing cycle-number order; stores keep at most their retention cap,
// evicting the oldest records first.
type CycleStore interface {
	// Append records one finished cycle, evicting the oldest record
	// when the retention cap is exceeded.
	Append(ctx context.Context, rec CycleRecord) error

	// Recent returns up to limit records, newest first. limit <= 0
	// returns everything retained.
	Recent(ctx context.Context, limit int) ([]CycleRecord, error)

	// Latest returns the most recently appended record.
	Latest(ctx context.Context) (CycleRecord, bool, error)
}

// MemoryCycleStore is the default in-process cycle store: a capped FIFO
// that lives for the process lifetime.
type MemoryCycleStore struct {
	mu    sync.RWMutex
	limit int
	items []CycleRecord
}

// NewMemoryCycleStore creates an empty store retaining at most limit
// records. limit <= 0 uses DefaultHistoryLimit.
func NewMemoryCycleStore(limit int) *MemoryCycleStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryCycleStore{limit: limit}
}

// Append records one finished cycle.
func (s *MemoryCycleStore) Append(ctx context.Context, rec CycleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, rec)
	if len(s.items) > s.limit {
		overflow := len(s.items) - s.limit
		s.items = append(s.items[:0], s.items[overflow:]...)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryCycleStore) Recent(ctx context.Context, limit int) ([]CycleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]CycleRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.items[i])
	}
	return out, nil
}

// Latest returns the most recently appended record.
func (s *MemoryCycleStore) Latest(ctx context.Context) (CycleRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return CycleRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 {
		return CycleRecord{}, false, nil
	}
	return s.items[len(s.items)-1], true, nil
}
