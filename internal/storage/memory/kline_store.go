package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/storage"
)

// KlineStore is an in-memory implementation of storage.KlineStore.
type KlineStore struct {
	mu   sync.RWMutex
	data map[string]*domain.KlineBucket
}

// NewKlineStore creates a new in-memory kline store.
func NewKlineStore() *KlineStore {
	return &KlineStore{
		data: make(map[string]*domain.KlineBucket),
	}
}

// Compile-time interface check.
var _ storage.KlineStore = (*KlineStore)(nil)

func bucketKey(pairID int32, res domain.Resolution, start time.Time) string {
	return fmt.Sprintf("%d|%s|%d", pairID, res, start.UTC().Unix())
}

// MergeBuckets upserts all buckets atomically: absent buckets are created
// as given, existing ones keep open, merge high/low, replace close and
// accumulate volumes. Returns the merged rows in input order.
func (s *KlineStore) MergeBuckets(_ context.Context, buckets []domain.KlineBucket) ([]domain.KlineBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	merged := make([]domain.KlineBucket, 0, len(buckets))
	for _, b := range buckets {
		key := bucketKey(b.PairID, b.Resolution, b.StartTime)
		existing, ok := s.data[key]
		if !ok {
			bucketCopy := b
			bucketCopy.UpdatedAt = now
			s.data[key] = &bucketCopy
			merged = append(merged, bucketCopy)
			continue
		}

		if b.High.GreaterThan(existing.High) {
			existing.High = b.High
		}
		if b.Low.LessThan(existing.Low) {
			existing.Low = b.Low
		}
		existing.Close = b.Close
		existing.VolumeBase = existing.VolumeBase.Add(b.VolumeBase)
		existing.VolumeQuote = existing.VolumeQuote.Add(b.VolumeQuote)
		existing.UpdatedAt = now
		merged = append(merged, *existing)
	}
	return merged, nil
}

// GetBucket retrieves one bucket. Returns ErrNotFound if not exists.
func (s *KlineStore) GetBucket(_ context.Context, pairID int32, res domain.Resolution, start time.Time) (*domain.KlineBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[bucketKey(pairID, res, start)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	bucketCopy := *b
	return &bucketCopy, nil
}
