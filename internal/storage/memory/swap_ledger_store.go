package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/storage"
)

// SwapLedgerStore is an in-memory implementation of storage.SwapLedgerStore.
type SwapLedgerStore struct {
	mu      sync.RWMutex
	entries []*domain.SwapLedgerEntry
}

// NewSwapLedgerStore creates a new in-memory swap ledger store.
func NewSwapLedgerStore() *SwapLedgerStore {
	return &SwapLedgerStore{}
}

// Compile-time interface check.
var _ storage.SwapLedgerStore = (*SwapLedgerStore)(nil)

// Append adds one ledger entry.
func (s *SwapLedgerStore) Append(_ context.Context, e *domain.SwapLedgerEntry) error {
	if e == nil || e.User == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *e
	entryCopy.CreatedAt = time.Now()
	s.entries = append(s.entries, &entryCopy)
	return nil
}

// AppendBulk adds multiple entries in one batch.
func (s *SwapLedgerStore) AppendBulk(ctx context.Context, entries []*domain.SwapLedgerEntry) error {
	for _, e := range entries {
		if err := s.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// GetByUser retrieves all entries for a user, ordered by timestamp ASC.
func (s *SwapLedgerStore) GetByUser(_ context.Context, user string) ([]*domain.SwapLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapLedgerEntry
	for _, e := range s.entries {
		if e.User == user {
			entryCopy := *e
			result = append(result, &entryCopy)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	return result, nil
}
