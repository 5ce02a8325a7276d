package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/storage"
)

// SwapLedgerStore implements storage.SwapLedgerStore using ClickHouse.
// The table is MergeTree: inserts are append-only and never deduplicated.
type SwapLedgerStore struct {
	conn *Conn
}

// NewSwapLedgerStore creates a new SwapLedgerStore.
func NewSwapLedgerStore(conn *Conn) *SwapLedgerStore {
	return &SwapLedgerStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SwapLedgerStore = (*SwapLedgerStore)(nil)

// Append adds one ledger entry.
func (s *SwapLedgerStore) Append(ctx context.Context, e *domain.SwapLedgerEntry) error {
	return s.AppendBulk(ctx, []*domain.SwapLedgerEntry{e})
}

// AppendBulk adds multiple entries in one batch.
func (s *SwapLedgerStore) AppendBulk(ctx context.Context, entries []*domain.SwapLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e == nil || e.User == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO swap_ledger (
			user, zero_for_one, amount_in, amount_out, ts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range entries {
		amountIn := e.AmountIn
		if amountIn == nil {
			amountIn = big.NewInt(0)
		}
		amountOut := e.AmountOut
		if amountOut == nil {
			amountOut = big.NewInt(0)
		}
		if err := batch.Append(
			e.User,
			e.ZeroForOne,
			amountIn,
			amountOut,
			time.Unix(e.Timestamp, 0).UTC(),
		); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByUser retrieves all entries for a user, ordered by timestamp ASC.
func (s *SwapLedgerStore) GetByUser(ctx context.Context, user string) ([]*domain.SwapLedgerEntry, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT user, zero_for_one, amount_in, amount_out, ts, created_at
		FROM swap_ledger
		WHERE user = ?
		ORDER BY ts ASC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("query swap_ledger: %w", err)
	}
	defer rows.Close()

	var entries []*domain.SwapLedgerEntry
	for rows.Next() {
		var (
			e         domain.SwapLedgerEntry
			amountIn  big.Int
			amountOut big.Int
			ts        time.Time
		)
		if err := rows.Scan(&e.User, &e.ZeroForOne, &amountIn, &amountOut, &ts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan swap_ledger row: %w", err)
		}
		e.AmountIn = &amountIn
		e.AmountOut = &amountOut
		e.Timestamp = ts.Unix()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap_ledger rows: %w", err)
	}
	return entries, nil
}
