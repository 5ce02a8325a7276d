package storage

import (
	"context"
	"time"

	"mosaic-sync/internal/domain"
)

// InventoryStore provides access to units and chips storage. Units and
// chips mutate together under row-locked reconciliation transactions, so a
// single store covers the aggregate.
type InventoryStore interface {
	// InsertUnit seeds a new unit. Returns ErrDuplicateKey if the id exists.
	InsertUnit(ctx context.Context, u *domain.Unit) error

	// InsertChips seeds chips in bulk. Fails the entire batch on any duplicate.
	InsertChips(ctx context.Context, chips []*domain.Chip) error

	// GetUnitByID retrieves a unit by id. Returns ErrNotFound if not exists.
	GetUnitByID(ctx context.Context, id int64) (*domain.Unit, error)

	// GetChipsByUnitID retrieves all chips of a unit, ordered by id ASC.
	GetChipsByUnitID(ctx context.Context, unitID int64) ([]*domain.Chip, error)

	// OwnedChipCount counts chips assigned to user, excluding mint-consumed
	// ones. This is the count reconciliation converges to floor-balance.
	OwnedChipCount(ctx context.Context, user string) (int64, error)

	// UserUnitSummaries reports per-unit chip ownership for the user's
	// received units, ordered by unit id ASC.
	UserUnitSummaries(ctx context.Context, user string) ([]domain.UnitEligibility, error)

	// MarkMintPending flags a user-owned unit as awaiting mint confirmation.
	// Returns the number of units updated (0 when the unit is not owned by
	// user or already has a mint in flight).
	MarkMintPending(ctx context.Context, unitID int64, user string) (int64, error)

	// FinalizeMint records a confirmed mint on the unit: owner, external
	// token id, media locator, confirmation height, minted state. Returns
	// the number of units updated (0 when the unit does not exist).
	FinalizeMint(ctx context.Context, unitID int64, m *domain.MintConfirmedEvent) (int64, error)

	// Begin opens a reconciliation transaction. The caller must Commit or
	// Rollback it.
	Begin(ctx context.Context) (InventoryTx, error)
}

// InventoryTx is a single reconciliation transaction over units and chips.
// Row selection uses FOR UPDATE SKIP LOCKED semantics: concurrent
// transactions operate on disjoint rows instead of blocking.
type InventoryTx interface {
	// ClaimOwnedUnitChips assigns to user up to limit unassigned chips
	// belonging to units the user already owns, chosen in random order.
	// Returns the number of chips claimed.
	ClaimOwnedUnitChips(ctx context.Context, user string, limit int64) (int64, error)

	// ClaimFreshUnits assigns to user up to limit wholly-unowned units,
	// chosen in random order. Their chips are claimed separately. Returns
	// the number of units claimed.
	ClaimFreshUnits(ctx context.Context, user string, limit int64) (int64, error)

	// RevertableUnits lists ids of the user's received units with no mint
	// in flight and no confirmed mint, in random order.
	RevertableUnits(ctx context.Context, user string) ([]int64, error)

	// LockOwnedChips locks and returns ids of the user's received chips in
	// the unit, skipping rows locked by other transactions.
	LockOwnedChips(ctx context.Context, unitID int64, user string) ([]int64, error)

	// ReleaseChips returns chips to the unassigned pool.
	ReleaseChips(ctx context.Context, chipIDs []int64) error

	// ReleaseUnit returns a unit to the unassigned pool.
	ReleaseUnit(ctx context.Context, unitID int64) error

	// ConsumeUnitChips permanently marks every lockable chip of the unit as
	// mint-consumed by user. Consumed chips never return to the pool.
	// Returns the number of chips consumed.
	ConsumeUnitChips(ctx context.Context, unitID int64, user string) (int64, error)

	// Commit finalizes the transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction. A no-op after Commit.
	Rollback(ctx context.Context) error
}

// KlineStore provides access to klines storage.
type KlineStore interface {
	// MergeBuckets upserts all buckets in one transaction: absent buckets
	// are created as given, existing ones keep open, merge high/low,
	// replace close and accumulate volumes. Returns the merged rows in
	// input order.
	MergeBuckets(ctx context.Context, buckets []domain.KlineBucket) ([]domain.KlineBucket, error)

	// GetBucket retrieves one bucket. Returns ErrNotFound if not exists.
	GetBucket(ctx context.Context, pairID int32, res domain.Resolution, start time.Time) (*domain.KlineBucket, error)
}

// SwapLedgerStore provides access to the append-only swap_ledger storage.
type SwapLedgerStore interface {
	// Append adds one ledger entry.
	Append(ctx context.Context, e *domain.SwapLedgerEntry) error

	// AppendBulk adds multiple entries in one batch.
	AppendBulk(ctx context.Context, entries []*domain.SwapLedgerEntry) error

	// GetByUser retrieves all entries for a user, ordered by timestamp ASC.
	GetByUser(ctx context.Context, user string) ([]*domain.SwapLedgerEntry, error)
}
