package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/storage"
)

// KlineStore implements storage.KlineStore using PostgreSQL.
type KlineStore struct {
	pool *Pool
}

// NewKlineStore creates a new KlineStore.
func NewKlineStore(pool *Pool) *KlineStore {
	return &KlineStore{pool: pool}
}

// Compile-time interface check.
var _ storage.KlineStore = (*KlineStore)(nil)

// MergeBuckets upserts all buckets in one transaction and returns the
// merged rows in input order. Absent buckets are created as given; existing
// ones keep open, merge high/low, replace close and accumulate volumes.
func (s *KlineStore) MergeBuckets(ctx context.Context, buckets []domain.KlineBucket) ([]domain.KlineBucket, error) {
	if len(buckets) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO klines (
			pair_id, resolution, start_time, open, high, low, close, volume_base, volume_quote
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pair_id, resolution, start_time) DO UPDATE SET
			high = GREATEST(klines.high, EXCLUDED.high),
			low = LEAST(klines.low, EXCLUDED.low),
			close = EXCLUDED.close,
			volume_base = klines.volume_base + EXCLUDED.volume_base,
			volume_quote = klines.volume_quote + EXCLUDED.volume_quote,
			updated_at = NOW()
		RETURNING pair_id, resolution, start_time, open, high, low, close, volume_base, volume_quote, updated_at
	`

	merged := make([]domain.KlineBucket, 0, len(buckets))
	for _, b := range buckets {
		row := tx.QueryRow(ctx, query,
			b.PairID,
			string(b.Resolution),
			b.StartTime,
			b.Open,
			b.High,
			b.Low,
			b.Close,
			b.VolumeBase,
			b.VolumeQuote,
		)

		m, err := scanKlineBucket(row)
		if err != nil {
			return nil, fmt.Errorf("merge bucket %s/%s: %w", b.Resolution, b.StartTime.Format(time.RFC3339), err)
		}
		merged = append(merged, m)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return merged, nil
}

// GetBucket retrieves one bucket. Returns ErrNotFound if not exists.
func (s *KlineStore) GetBucket(ctx context.Context, pairID int32, res domain.Resolution, start time.Time) (*domain.KlineBucket, error) {
	query := `
		SELECT pair_id, resolution, start_time, open, high, low, close, volume_base, volume_quote, updated_at
		FROM klines
		WHERE pair_id = $1 AND resolution = $2 AND start_time = $3
	`

	row := s.pool.QueryRow(ctx, query, pairID, string(res), start)
	b, err := scanKlineBucket(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get kline bucket: %w", err)
	}
	return &b, nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanKlineBucket scans one klines row.
func scanKlineBucket(row rowScanner) (domain.KlineBucket, error) {
	var b domain.KlineBucket
	var resolution string
	var open, high, low, close_, volBase, volQuote decimal.Decimal

	err := row.Scan(
		&b.PairID,
		&resolution,
		&b.StartTime,
		&open,
		&high,
		&low,
		&close_,
		&volBase,
		&volQuote,
		&b.UpdatedAt,
	)
	if err != nil {
		return domain.KlineBucket{}, err
	}

	b.Resolution = domain.Resolution(resolution)
	b.StartTime = b.StartTime.UTC()
	b.Open = open
	b.High = high
	b.Low = low
	b.Close = close_
	b.VolumeBase = volBase
	b.VolumeQuote = volQuote

	return b, nil
}
