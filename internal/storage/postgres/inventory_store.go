package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/storage"
)

// InventoryStore implements storage.InventoryStore using PostgreSQL.
// Mint state literals in queries follow the schema: 0 pending, 1 none,
// 2 minted.
type InventoryStore struct {
	pool *Pool
}

// NewInventoryStore creates a new InventoryStore.
func NewInventoryStore(pool *Pool) *InventoryStore {
	return &InventoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.InventoryStore = (*InventoryStore)(nil)

// InsertUnit seeds a new unit. Returns ErrDuplicateKey if the id exists.
func (s *InventoryStore) InsertUnit(ctx context.Context, u *domain.Unit) error {
	if u.ID <= 0 {
		return fmt.Errorf("%w: unit id must be positive", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO units (
			id, owner, received, mint_state, token_id, token_url, file_name, block_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		u.ID,
		u.Owner,
		u.Received,
		int16(u.MintState),
		u.TokenID,
		u.TokenURL,
		u.FileName,
		u.BlockNumber,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}

// InsertChips seeds chips in bulk. Fails the entire batch on any duplicate.
func (s *InventoryStore) InsertChips(ctx context.Context, chips []*domain.Chip) error {
	if len(chips) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO chips (
			id, unit_id, owner, received, mint_state, mint_owner, pos_x, pos_y
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, c := range chips {
		_, err := tx.Exec(ctx, query,
			c.ID,
			c.UnitID,
			c.Owner,
			c.Received,
			int16(c.MintState),
			c.MintOwner,
			c.PosX,
			c.PosY,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			if isForeignKeyError(err) {
				return fmt.Errorf("%w: chip %d references unknown unit %d", storage.ErrInvalidInput, c.ID, c.UnitID)
			}
			return fmt.Errorf("insert chip in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetUnitByID retrieves a unit by id. Returns ErrNotFound if not exists.
func (s *InventoryStore) GetUnitByID(ctx context.Context, id int64) (*domain.Unit, error) {
	query := `
		SELECT id, owner, received, mint_state, token_id, token_url, file_name, block_number, created_at, updated_at
		FROM units
		WHERE id = $1
	`

	var u domain.Unit
	var mintState int16
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Owner,
		&u.Received,
		&mintState,
		&u.TokenID,
		&u.TokenURL,
		&u.FileName,
		&u.BlockNumber,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get unit by id: %w", err)
	}
	u.MintState = domain.MintState(mintState)

	return &u, nil
}

// GetChipsByUnitID retrieves all chips of a unit, ordered by id ASC.
func (s *InventoryStore) GetChipsByUnitID(ctx context.Context, unitID int64) ([]*domain.Chip, error) {
	query := `
		SELECT id, unit_id, owner, received, mint_state, mint_owner, pos_x, pos_y, created_at, updated_at
		FROM chips
		WHERE unit_id = $1
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, unitID)
	if err != nil {
		return nil, fmt.Errorf("get chips by unit id: %w", err)
	}
	defer rows.Close()

	return scanChips(rows)
}

// OwnedChipCount counts chips assigned to user, excluding mint-consumed
// ones so the count stays comparable to floor-balance after a mint burn.
func (s *InventoryStore) OwnedChipCount(ctx context.Context, user string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM chips
		WHERE owner = $1 AND received = TRUE AND mint_state <> 2
	`

	var count int64
	if err := s.pool.QueryRow(ctx, query, user).Scan(&count); err != nil {
		return 0, fmt.Errorf("count owned chips: %w", err)
	}
	return count, nil
}

// UserUnitSummaries reports per-unit chip ownership for the user's received
// units, ordered by unit id ASC.
func (s *InventoryStore) UserUnitSummaries(ctx context.Context, user string) ([]domain.UnitEligibility, error) {
	query := `
		SELECT u.id, COALESCE(u.file_name, ''), u.token_id, u.mint_state,
		       COUNT(c.id) AS total_chips,
		       COUNT(c.id) FILTER (WHERE c.owner = $1 AND c.received = TRUE) AS owned_chips
		FROM units u
		JOIN chips c ON c.unit_id = u.id
		WHERE u.owner = $1 AND u.received = TRUE
		GROUP BY u.id, u.file_name, u.token_id, u.mint_state
		ORDER BY u.id ASC
	`

	rows, err := s.pool.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("get user unit summaries: %w", err)
	}
	defer rows.Close()

	var summaries []domain.UnitEligibility
	for rows.Next() {
		var e domain.UnitEligibility
		var mintState int16

		err := rows.Scan(
			&e.UnitID,
			&e.FileName,
			&e.TokenID,
			&mintState,
			&e.TotalChips,
			&e.OwnedChips,
		)
		if err != nil {
			return nil, fmt.Errorf("scan unit summary row: %w", err)
		}
		e.MintState = domain.MintState(mintState)
		e.Complete = e.TotalChips > 0 && e.OwnedChips == e.TotalChips

		summaries = append(summaries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit summary rows: %w", err)
	}

	return summaries, nil
}

// MarkMintPending flags a user-owned unit as awaiting mint confirmation.
// Returns the number of units updated.
func (s *InventoryStore) MarkMintPending(ctx context.Context, unitID int64, user string) (int64, error) {
	query := `
		UPDATE units
		SET mint_state = 0, updated_at = NOW()
		WHERE id = $1 AND owner = $2 AND received = TRUE AND mint_state = 1
	`

	tag, err := s.pool.Exec(ctx, query, unitID, user)
	if err != nil {
		return 0, fmt.Errorf("mark mint pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FinalizeMint records a confirmed mint on the unit. Returns the number of
// units updated.
func (s *InventoryStore) FinalizeMint(ctx context.Context, unitID int64, m *domain.MintConfirmedEvent) (int64, error) {
	query := `
		UPDATE units
		SET owner = $2, token_id = $3, token_url = $4, block_number = $5, mint_state = 2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, unitID, m.User, m.TokenID, m.TokenURL, m.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("finalize mint: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Begin opens a reconciliation transaction.
func (s *InventoryStore) Begin(ctx context.Context) (storage.InventoryTx, error) {
	tx, err := s.pool.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin inventory tx: %w", err)
	}
	return &inventoryTx{tx: tx}, nil
}

// inventoryTx implements storage.InventoryTx on a pgx transaction. All row
// selection uses FOR UPDATE SKIP LOCKED so concurrent reconcilers claim
// disjoint rows instead of blocking on each other.
type inventoryTx struct {
	tx pgx.Tx
}

// Compile-time interface check.
var _ storage.InventoryTx = (*inventoryTx)(nil)

// ClaimOwnedUnitChips assigns to user up to limit unassigned chips of units
// the user already owns, chosen in random order.
func (t *inventoryTx) ClaimOwnedUnitChips(ctx context.Context, user string, limit int64) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	query := `
		SELECT id
		FROM chips
		WHERE unit_id IN (SELECT id FROM units WHERE owner = $1 AND received = TRUE)
		  AND received = FALSE AND mint_state <> 2
		ORDER BY RANDOM()
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	ids, err := queryIDs(ctx, t.tx, query, user, limit)
	if err != nil {
		return 0, fmt.Errorf("lock claimable chips: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	update := `
		UPDATE chips
		SET owner = $1, received = TRUE, updated_at = NOW()
		WHERE id = ANY($2)
	`

	tag, err := t.tx.Exec(ctx, update, user, ids)
	if err != nil {
		return 0, fmt.Errorf("claim chips: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimFreshUnits assigns to user up to limit wholly-unowned units, chosen
// in random order. Consumed units are never offered.
func (t *inventoryTx) ClaimFreshUnits(ctx context.Context, user string, limit int64) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	query := `
		SELECT id
		FROM units
		WHERE received = FALSE AND mint_state <> 2
		ORDER BY RANDOM()
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	ids, err := queryIDs(ctx, t.tx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("lock fresh units: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	update := `
		UPDATE units
		SET owner = $1, received = TRUE, updated_at = NOW()
		WHERE id = ANY($2)
	`

	tag, err := t.tx.Exec(ctx, update, user, ids)
	if err != nil {
		return 0, fmt.Errorf("claim fresh units: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RevertableUnits lists ids of the user's received units with no mint in
// flight and no confirmed mint, in random order.
func (t *inventoryTx) RevertableUnits(ctx context.Context, user string) ([]int64, error) {
	query := `
		SELECT id
		FROM units
		WHERE owner = $1 AND received = TRUE AND mint_state = 1
		ORDER BY RANDOM()
	`

	ids, err := queryIDs(ctx, t.tx, query, user)
	if err != nil {
		return nil, fmt.Errorf("list revertable units: %w", err)
	}
	return ids, nil
}

// LockOwnedChips locks and returns ids of the user's received chips in the
// unit, skipping rows locked by other transactions.
func (t *inventoryTx) LockOwnedChips(ctx context.Context, unitID int64, user string) ([]int64, error) {
	query := `
		SELECT id
		FROM chips
		WHERE unit_id = $1 AND owner = $2 AND received = TRUE AND mint_state = 1
		FOR UPDATE SKIP LOCKED
	`

	ids, err := queryIDs(ctx, t.tx, query, unitID, user)
	if err != nil {
		return nil, fmt.Errorf("lock owned chips: %w", err)
	}
	return ids, nil
}

// ReleaseChips returns chips to the unassigned pool.
func (t *inventoryTx) ReleaseChips(ctx context.Context, chipIDs []int64) error {
	if len(chipIDs) == 0 {
		return nil
	}

	query := `
		UPDATE chips
		SET owner = NULL, received = FALSE, updated_at = NOW()
		WHERE id = ANY($1)
	`

	if _, err := t.tx.Exec(ctx, query, chipIDs); err != nil {
		return fmt.Errorf("release chips: %w", err)
	}
	return nil
}

// ReleaseUnit returns a unit to the unassigned pool.
func (t *inventoryTx) ReleaseUnit(ctx context.Context, unitID int64) error {
	query := `
		UPDATE units
		SET owner = NULL, received = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := t.tx.Exec(ctx, query, unitID); err != nil {
		return fmt.Errorf("release unit: %w", err)
	}
	return nil
}

// ConsumeUnitChips permanently marks every lockable chip of the unit as
// mint-consumed by user.
func (t *inventoryTx) ConsumeUnitChips(ctx context.Context, unitID int64, user string) (int64, error) {
	query := `
		SELECT id
		FROM chips
		WHERE unit_id = $1
		FOR UPDATE SKIP LOCKED
	`

	ids, err := queryIDs(ctx, t.tx, query, unitID)
	if err != nil {
		return 0, fmt.Errorf("lock unit chips: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	update := `
		UPDATE chips
		SET mint_state = 2, mint_owner = $1, updated_at = NOW()
		WHERE id = ANY($2)
	`

	tag, err := t.tx.Exec(ctx, update, user, ids)
	if err != nil {
		return 0, fmt.Errorf("consume unit chips: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Commit finalizes the transaction.
func (t *inventoryTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit inventory tx: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. A no-op after Commit.
func (t *inventoryTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback inventory tx: %w", err)
	}
	return nil
}

// queryIDs runs a query returning a single bigint column.
func queryIDs(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// scanChips scans multiple rows into a slice of Chip.
func scanChips(rows pgx.Rows) ([]*domain.Chip, error) {
	var chips []*domain.Chip

	for rows.Next() {
		var c domain.Chip
		var mintState int16

		err := rows.Scan(
			&c.ID,
			&c.UnitID,
			&c.Owner,
			&c.Received,
			&mintState,
			&c.MintOwner,
			&c.PosX,
			&c.PosY,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan chip row: %w", err)
		}
		c.MintState = domain.MintState(mintState)

		chips = append(chips, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chip rows: %w", err)
	}

	return chips, nil
}
