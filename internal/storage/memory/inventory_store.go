package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/storage"
)

// InventoryStore is an in-memory implementation of storage.InventoryStore.
// Transactions mirror the row-locking behavior of the Postgres store: rows
// locked by a live transaction are skipped by concurrent selections, and a
// rollback undoes every mutation the transaction applied.
type InventoryStore struct {
	mu    sync.Mutex
	units map[int64]*domain.Unit
	chips map[int64]*domain.Chip

	lockedUnits map[int64]struct{}
	lockedChips map[int64]struct{}
}

// NewInventoryStore creates a new in-memory inventory store.
func NewInventoryStore() *InventoryStore {
	return &InventoryStore{
		units:       make(map[int64]*domain.Unit),
		chips:       make(map[int64]*domain.Chip),
		lockedUnits: make(map[int64]struct{}),
		lockedChips: make(map[int64]struct{}),
	}
}

// Compile-time interface check.
var _ storage.InventoryStore = (*InventoryStore)(nil)

// InsertUnit seeds a new unit. Returns ErrDuplicateKey if the id exists.
func (s *InventoryStore) InsertUnit(_ context.Context, u *domain.Unit) error {
	if u == nil || u.ID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.units[u.ID]; exists {
		return storage.ErrDuplicateKey
	}

	unitCopy := *u
	now := time.Now()
	unitCopy.CreatedAt = now
	unitCopy.UpdatedAt = now
	s.units[u.ID] = &unitCopy
	return nil
}

// InsertChips seeds chips in bulk. Fails the entire batch on any duplicate.
func (s *InventoryStore) InsertChips(_ context.Context, chips []*domain.Chip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chips {
		if c == nil || c.ID == 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.chips[c.ID]; exists {
			return storage.ErrDuplicateKey
		}
	}

	now := time.Now()
	for _, c := range chips {
		chipCopy := *c
		chipCopy.CreatedAt = now
		chipCopy.UpdatedAt = now
		s.chips[c.ID] = &chipCopy
	}
	return nil
}

// GetUnitByID retrieves a unit by id. Returns ErrNotFound if not exists.
func (s *InventoryStore) GetUnitByID(_ context.Context, id int64) (*domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.units[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	unitCopy := *u
	return &unitCopy, nil
}

// GetChipsByUnitID retrieves all chips of a unit, ordered by id ASC.
func (s *InventoryStore) GetChipsByUnitID(_ context.Context, unitID int64) ([]*domain.Chip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Chip
	for _, c := range s.chips {
		if c.UnitID == unitID {
			chipCopy := *c
			result = append(result, &chipCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// OwnedChipCount counts chips assigned to user, excluding mint-consumed ones.
func (s *InventoryStore) OwnedChipCount(_ context.Context, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownedChipCountLocked(user), nil
}

func (s *InventoryStore) ownedChipCountLocked(user string) int64 {
	var count int64
	for _, c := range s.chips {
		if c.Owner != nil && *c.Owner == user && c.Received && c.MintState != domain.MintStateMinted {
			count++
		}
	}
	return count
}

// UserUnitSummaries reports per-unit chip ownership for the user's
// received units, ordered by unit id ASC.
func (s *InventoryStore) UserUnitSummaries(_ context.Context, user string) ([]domain.UnitEligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.UnitEligibility
	for _, u := range s.units {
		if u.Owner == nil || *u.Owner != user || !u.Received {
			continue
		}

		e := domain.UnitEligibility{
			UnitID:    u.ID,
			TokenID:   u.TokenID,
			MintState: u.MintState,
		}
		if u.FileName != nil {
			e.FileName = *u.FileName
		}
		for _, c := range s.chips {
			if c.UnitID != u.ID {
				continue
			}
			e.TotalChips++
			if c.Owner != nil && *c.Owner == user && c.Received {
				e.OwnedChips++
			}
		}
		e.Complete = e.TotalChips > 0 && e.OwnedChips == e.TotalChips
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UnitID < result[j].UnitID })
	return result, nil
}

// MarkMintPending flags a user-owned unit as awaiting mint confirmation.
func (s *InventoryStore) MarkMintPending(_ context.Context, unitID int64, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.units[unitID]
	if !exists || u.Owner == nil || *u.Owner != user || !u.Received || u.MintState != domain.MintStateNone {
		return 0, nil
	}
	u.MintState = domain.MintStatePending
	u.UpdatedAt = time.Now()
	return 1, nil
}

// FinalizeMint records a confirmed mint on the unit.
func (s *InventoryStore) FinalizeMint(_ context.Context, unitID int64, m *domain.MintConfirmedEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.units[unitID]
	if !exists {
		return 0, nil
	}
	user := m.User
	tokenID := m.TokenID
	tokenURL := m.TokenURL
	blockNumber := m.BlockNumber
	u.Owner = &user
	u.TokenID = &tokenID
	u.TokenURL = &tokenURL
	u.BlockNumber = &blockNumber
	u.MintState = domain.MintStateMinted
	u.UpdatedAt = time.Now()
	return 1, nil
}

// Begin opens a reconciliation transaction.
func (s *InventoryStore) Begin(_ context.Context) (storage.InventoryTx, error) {
	return &inventoryTx{store: s}, nil
}

// inventoryTx applies mutations immediately and keeps an undo log; locked
// row ids stay registered in the store until Commit or Rollback, which is
// what makes concurrent selections skip them.
type inventoryTx struct {
	store *InventoryStore

	undo        []func()
	lockedUnits []int64
	lockedChips []int64
	done        bool
}

// Compile-time interface check.
var _ storage.InventoryTx = (*inventoryTx)(nil)

// lockChip registers a chip row lock. Returns false when another
// transaction holds it.
func (tx *inventoryTx) lockChip(id int64) bool {
	if _, held := tx.store.lockedChips[id]; held {
		return false
	}
	tx.store.lockedChips[id] = struct{}{}
	tx.lockedChips = append(tx.lockedChips, id)
	return true
}

func (tx *inventoryTx) lockUnit(id int64) bool {
	if _, held := tx.store.lockedUnits[id]; held {
		return false
	}
	tx.store.lockedUnits[id] = struct{}{}
	tx.lockedUnits = append(tx.lockedUnits, id)
	return true
}

// ClaimOwnedUnitChips assigns to user up to limit unassigned chips
// belonging to units the user already owns, in random order.
func (tx *inventoryTx) ClaimOwnedUnitChips(_ context.Context, user string, limit int64) (int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return 0, storage.ErrInvalidInput
	}

	ownedUnits := make(map[int64]struct{})
	for _, u := range tx.store.units {
		if u.Owner != nil && *u.Owner == user && u.Received {
			ownedUnits[u.ID] = struct{}{}
		}
	}

	var candidates []*domain.Chip
	for _, c := range tx.store.chips {
		if _, owned := ownedUnits[c.UnitID]; !owned {
			continue
		}
		if c.Received || c.MintState == domain.MintStateMinted {
			continue
		}
		candidates = append(candidates, c)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	var claimed int64
	for _, c := range candidates {
		if claimed >= limit {
			break
		}
		if !tx.lockChip(c.ID) {
			continue
		}

		prevOwner, prevReceived := c.Owner, c.Received
		c.Owner = &user
		c.Received = true
		c.UpdatedAt = time.Now()
		chip := c
		tx.undo = append(tx.undo, func() {
			chip.Owner = prevOwner
			chip.Received = prevReceived
		})
		claimed++
	}
	return claimed, nil
}

// ClaimFreshUnits assigns to user up to limit wholly-unowned units, in
// random order. Consumed units are never offered.
func (tx *inventoryTx) ClaimFreshUnits(_ context.Context, user string, limit int64) (int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return 0, storage.ErrInvalidInput
	}

	var candidates []*domain.Unit
	for _, u := range tx.store.units {
		if !u.Received && u.MintState != domain.MintStateMinted {
			candidates = append(candidates, u)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	var claimed int64
	for _, u := range candidates {
		if claimed >= limit {
			break
		}
		if !tx.lockUnit(u.ID) {
			continue
		}

		prevOwner, prevReceived := u.Owner, u.Received
		u.Owner = &user
		u.Received = true
		u.UpdatedAt = time.Now()
		unit := u
		tx.undo = append(tx.undo, func() {
			unit.Owner = prevOwner
			unit.Received = prevReceived
		})
		claimed++
	}
	return claimed, nil
}

// RevertableUnits lists ids of the user's received units with no mint in
// flight and no confirmed mint, in random order.
func (tx *inventoryTx) RevertableUnits(_ context.Context, user string) ([]int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return nil, storage.ErrInvalidInput
	}

	var ids []int64
	for _, u := range tx.store.units {
		if u.Owner != nil && *u.Owner == user && u.Received && u.MintState == domain.MintStateNone {
			ids = append(ids, u.ID)
		}
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids, nil
}

// LockOwnedChips locks and returns ids of the user's received chips in the
// unit, skipping rows locked by other transactions.
func (tx *inventoryTx) LockOwnedChips(_ context.Context, unitID int64, user string) ([]int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return nil, storage.ErrInvalidInput
	}

	var ids []int64
	for _, c := range tx.store.chips {
		if c.UnitID != unitID || c.Owner == nil || *c.Owner != user || !c.Received || c.MintState != domain.MintStateNone {
			continue
		}
		if !tx.lockChip(c.ID) {
			continue
		}
		ids = append(ids, c.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ReleaseChips returns chips to the unassigned pool.
func (tx *inventoryTx) ReleaseChips(_ context.Context, chipIDs []int64) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return storage.ErrInvalidInput
	}

	for _, id := range chipIDs {
		c, exists := tx.store.chips[id]
		if !exists {
			continue
		}
		prevOwner, prevReceived := c.Owner, c.Received
		c.Owner = nil
		c.Received = false
		c.UpdatedAt = time.Now()
		chip := c
		tx.undo = append(tx.undo, func() {
			chip.Owner = prevOwner
			chip.Received = prevReceived
		})
	}
	return nil
}

// ReleaseUnit returns a unit to the unassigned pool.
func (tx *inventoryTx) ReleaseUnit(_ context.Context, unitID int64) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return storage.ErrInvalidInput
	}

	u, exists := tx.store.units[unitID]
	if !exists {
		return nil
	}
	prevOwner, prevReceived := u.Owner, u.Received
	u.Owner = nil
	u.Received = false
	u.UpdatedAt = time.Now()
	unit := u
	tx.undo = append(tx.undo, func() {
		unit.Owner = prevOwner
		unit.Received = prevReceived
	})
	return nil
}

// ConsumeUnitChips permanently marks every lockable chip of the unit as
// mint-consumed by user.
func (tx *inventoryTx) ConsumeUnitChips(_ context.Context, unitID int64, user string) (int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return 0, storage.ErrInvalidInput
	}

	var consumed int64
	for _, c := range tx.store.chips {
		if c.UnitID != unitID {
			continue
		}
		if !tx.lockChip(c.ID) {
			continue
		}

		prevState, prevMintOwner := c.MintState, c.MintOwner
		owner := user
		c.MintState = domain.MintStateMinted
		c.MintOwner = &owner
		c.UpdatedAt = time.Now()
		chip := c
		tx.undo = append(tx.undo, func() {
			chip.MintState = prevState
			chip.MintOwner = prevMintOwner
		})
		consumed++
	}
	return consumed, nil
}

// Commit finalizes the transaction and releases its row locks.
func (tx *inventoryTx) Commit(_ context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return storage.ErrInvalidInput
	}
	tx.finishLocked(false)
	return nil
}

// Rollback undoes the transaction's mutations. A no-op after Commit.
func (tx *inventoryTx) Rollback(_ context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.finishLocked(true)
	return nil
}

func (tx *inventoryTx) finishLocked(revert bool) {
	if revert {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	for _, id := range tx.lockedChips {
		delete(tx.store.lockedChips, id)
	}
	for _, id := range tx.lockedUnits {
		delete(tx.store.lockedUnits, id)
	}
	tx.undo = nil
	tx.done = true
}
