package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/storage/memory"
)

// testDecimals keeps balances readable: 10^2 raw units per chip.
const testDecimals = 2

type stubBalances struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	errs     map[string]error
}

func newStubBalances() *stubBalances {
	return &stubBalances{
		balances: make(map[string]*big.Int),
		errs:     make(map[string]error),
	}
}

func (s *stubBalances) set(user string, chips int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[user] = new(big.Int).Mul(big.NewInt(chips), big.NewInt(100))
}

func (s *stubBalances) Balance(_ context.Context, user string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[user]; err != nil {
		return nil, err
	}
	if b, ok := s.balances[user]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func seedPool(t *testing.T, store *memory.InventoryStore, units, chipsPerUnit int) {
	t.Helper()
	ctx := context.Background()

	chipID := int64(0)
	for u := 1; u <= units; u++ {
		if err := store.InsertUnit(ctx, &domain.Unit{ID: int64(u), MintState: domain.MintStateNone}); err != nil {
			t.Fatalf("InsertUnit %d failed: %v", u, err)
		}
		var chips []*domain.Chip
		for c := 0; c < chipsPerUnit; c++ {
			chipID++
			chips = append(chips, &domain.Chip{ID: chipID, UnitID: int64(u), MintState: domain.MintStateNone})
		}
		if err := store.InsertChips(ctx, chips); err != nil {
			t.Fatalf("InsertChips for unit %d failed: %v", u, err)
		}
	}
}

func newTestReconciler(store *memory.InventoryStore, balances *stubBalances, deny ...string) *TransferReconciler {
	return NewTransferReconciler(store, balances, NewDenyList(deny), testDecimals, 0)
}

func TestReceive_ConvergesToFloorBalance(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 3, 4)
	balances.set("alice", 5)

	if err := r.Receive(ctx, "alice"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 5 {
		t.Errorf("expected 5 owned chips, got %d", count)
	}
}

func TestReceive_Idempotent(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 3, 4)
	balances.set("alice", 5)

	for i := 0; i < 3; i++ {
		if err := r.Receive(ctx, "alice"); err != nil {
			t.Fatalf("Receive run %d failed: %v", i, err)
		}
	}

	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 5 {
		t.Errorf("expected 5 owned chips after repeated runs, got %d", count)
	}
}

func TestReceive_PartialOnExhaustedInventory(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 1, 4)
	balances.set("alice", 10)

	// Deficit exceeds the pool: claim everything available, no error.
	if err := r.Receive(ctx, "alice"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 4 {
		t.Errorf("expected 4 owned chips (pool exhausted), got %d", count)
	}
}

func TestReceive_BalanceErrorAborts(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	balances.errs["alice"] = fmt.Errorf("rpc down")
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 1, 4)

	if err := r.Receive(ctx, "alice"); err == nil {
		t.Fatal("expected error from balance query")
	}
	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 0 {
		t.Errorf("expected no writes on balance failure, got %d chips", count)
	}
}

func TestRevert_ReleasesExcess(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 2, 4)
	balances.set("alice", 8)
	if err := r.Receive(ctx, "alice"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	// Balance drops to 3 chips: release 5.
	balances.set("alice", 3)
	if err := r.Revert(ctx, "alice"); err != nil {
		t.Fatalf("Revert failed: %v", err)
	}

	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 3 {
		t.Errorf("expected 3 owned chips after revert, got %d", count)
	}

	// Exactly one unit was fully drained and returned to the pool.
	released := 0
	for id := int64(1); id <= 2; id++ {
		u, _ := store.GetUnitByID(ctx, id)
		if u.State() == domain.UnitStateUnowned {
			released++
		}
	}
	if released != 1 {
		t.Errorf("expected 1 released unit, got %d", released)
	}
}

func TestRevert_Idempotent(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 2, 4)
	balances.set("alice", 8)
	r.Receive(ctx, "alice")

	balances.set("alice", 3)
	for i := 0; i < 3; i++ {
		if err := r.Revert(ctx, "alice"); err != nil {
			t.Fatalf("Revert run %d failed: %v", i, err)
		}
	}

	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 3 {
		t.Errorf("expected 3 owned chips after repeated reverts, got %d", count)
	}
}

func TestRevert_SkipsMintPendingUnits(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 2, 4)
	balances.set("alice", 8)
	r.Receive(ctx, "alice")

	// Mark unit 1 mint-pending: its chips must survive any revert.
	if n, _ := store.MarkMintPending(ctx, 1, "alice"); n != 1 {
		t.Fatal("MarkMintPending did not update")
	}

	balances.set("alice", 0)
	if err := r.Revert(ctx, "alice"); err != nil {
		t.Fatalf("Revert failed: %v", err)
	}

	// Only unit 2's chips were released; unit 1 still holds 4.
	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 4 {
		t.Errorf("expected 4 chips surviving under the pending unit, got %d", count)
	}
	u, _ := store.GetUnitByID(ctx, 1)
	if u.State() != domain.UnitStateMintPending {
		t.Errorf("expected unit 1 still mint-pending, got %s", u.State())
	}
}

func TestHandleTransfer_MintMarkerSkipsRevert(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 2, 4)
	balances.set("alice", 8)
	r.Receive(ctx, "alice")

	// A mint burn: balance already dropped, but the marker routes to
	// Recycle, never Revert. Unit 1's chips become consumed; unit 2's
	// stay owned even though the floor balance would justify a release.
	balances.set("alice", 4)
	remark := "1"
	ev := domain.TransferEvent{
		From:       "alice",
		To:         "0xdead",
		Value:      big.NewInt(400),
		MintRemark: &remark,
	}
	if err := r.HandleTransfer(ctx, ev); err != nil {
		t.Fatalf("HandleTransfer failed: %v", err)
	}

	chips, _ := store.GetChipsByUnitID(ctx, 1)
	for _, c := range chips {
		if c.MintState != domain.MintStateMinted {
			t.Errorf("chip %d: expected consumed, got state %d", c.ID, c.MintState)
		}
	}

	// Owned count excludes consumed chips, so it converged to 4 without
	// any release.
	count, _ := store.OwnedChipCount(ctx, "alice")
	if count != 4 {
		t.Errorf("expected 4 owned chips, got %d", count)
	}
	u, _ := store.GetUnitByID(ctx, 2)
	if u.State() != domain.UnitStateOwned {
		t.Errorf("expected unit 2 untouched, got %s", u.State())
	}
}

func TestHandleTransfer_MalformedRemarkAbortsEvent(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 1, 4)
	balances.set("bob", 2)

	remark := "not-a-unit"
	ev := domain.TransferEvent{From: "alice", To: "bob", Value: big.NewInt(200), MintRemark: &remark}
	if err := r.HandleTransfer(ctx, ev); err == nil {
		t.Fatal("expected error for malformed remark")
	}

	// Sender-side failure aborts before the receiver side runs.
	count, _ := store.OwnedChipCount(ctx, "bob")
	if count != 0 {
		t.Errorf("expected receiver untouched after sender failure, got %d chips", count)
	}
}

func TestHandleTransfer_SenderFailureAbortsReceiver(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	balances.errs["alice"] = fmt.Errorf("rpc down")
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	seedPool(t, store, 1, 4)
	balances.set("bob", 2)

	ev := domain.TransferEvent{From: "alice", To: "bob", Value: big.NewInt(200)}
	if err := r.HandleTransfer(ctx, ev); err == nil {
		t.Fatal("expected error from sender-side revert")
	}

	count, _ := store.OwnedChipCount(ctx, "bob")
	if count != 0 {
		t.Errorf("expected receiver untouched, got %d chips", count)
	}
}

func TestDenyList_ExcludedFromReconciliation(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances, "0xCAFE000000000000000000000000000000000001")
	ctx := context.Background()

	seedPool(t, store, 2, 4)
	denied := "0xcafe000000000000000000000000000000000001"
	balances.set(denied, 8)
	balances.set("bob", 2)

	ev := domain.TransferEvent{From: denied, To: "bob", Value: big.NewInt(200)}
	if err := r.HandleTransfer(ctx, ev); err != nil {
		t.Fatalf("HandleTransfer failed: %v", err)
	}

	// The denied endpoint gained nothing; the normal endpoint converged.
	deniedCount, _ := store.OwnedChipCount(ctx, denied)
	if deniedCount != 0 {
		t.Errorf("expected 0 chips for deny-listed address, got %d", deniedCount)
	}
	bobCount, _ := store.OwnedChipCount(ctx, "bob")
	if bobCount != 2 {
		t.Errorf("expected 2 chips for bob, got %d", bobCount)
	}

	if err := r.Receive(ctx, denied); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	deniedCount, _ = store.OwnedChipCount(ctx, denied)
	if deniedCount != 0 {
		t.Errorf("expected deny-listed receive to be a no-op, got %d chips", deniedCount)
	}
}

func TestDenyList_SenderNeverRecycles(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances, "0xcafe000000000000000000000000000000000001")
	ctx := context.Background()

	seedPool(t, store, 1, 4)
	denied := "0xcafe000000000000000000000000000000000001"
	balances.set("bob", 2)

	remark := "1"
	ev := domain.TransferEvent{From: denied, To: "bob", Value: big.NewInt(400), MintRemark: &remark}
	if err := r.HandleTransfer(ctx, ev); err != nil {
		t.Fatalf("HandleTransfer failed: %v", err)
	}

	// The marker names unit 1, but a deny-listed sender consumes nothing.
	chips, _ := store.GetChipsByUnitID(ctx, 1)
	for _, c := range chips {
		if c.MintState == domain.MintStateMinted {
			t.Errorf("chip %d consumed for a deny-listed sender", c.ID)
		}
	}

	// The receiver side still converges.
	count, _ := store.OwnedChipCount(ctx, "bob")
	if count != 2 {
		t.Errorf("expected 2 chips for bob, got %d", count)
	}
}

func TestRecycle_UnknownUnitIsWarning(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	if err := r.Recycle(ctx, "alice", "42"); err != nil {
		t.Fatalf("expected zero matching chips to be non-fatal, got %v", err)
	}
}

func TestConcurrentReceives_DisjointClaims(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	const users = 4
	seedPool(t, store, 8, 4) // 32 chips for 4*6=24 wanted

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		user := fmt.Sprintf("user%d", i)
		balances.set(user, 6)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Claim loops may land on rows another run holds; a second
			// pass converges on the remainder.
			for attempt := 0; attempt < 3; attempt++ {
				if err := r.Receive(ctx, user); err != nil {
					t.Errorf("Receive for %s: %v", user, err)
					return
				}
				count, _ := store.OwnedChipCount(ctx, user)
				if count == 6 {
					return
				}
			}
		}()
	}
	wg.Wait()

	// No chip was double-claimed: per-user counts sum to the total owned.
	total := int64(0)
	for i := 0; i < users; i++ {
		count, _ := store.OwnedChipCount(ctx, fmt.Sprintf("user%d", i))
		if count > 6 {
			t.Errorf("user%d over-claimed: %d chips", i, count)
		}
		total += count
	}
	if total > 24 {
		t.Errorf("claimed %d chips for a demand of 24", total)
	}
}

// Every chip is always in exactly one of three states: owned by some user,
// consumed by a mint, or back in the unowned pool. Interleaved receives,
// reverts and a recycle must never leak a chip out of that partition.
func TestConcurrentReconciliation_ConservesChips(t *testing.T) {
	store := memory.NewInventoryStore()
	balances := newStubBalances()
	r := newTestReconciler(store, balances)
	ctx := context.Background()

	const units, chipsPerUnit = 8, 4
	const totalChips = units * chipsPerUnit
	seedPool(t, store, units, chipsPerUnit)

	// The minter claims up front so the mint marker has a unit to name.
	balances.set("minter", chipsPerUnit)
	if err := r.Receive(ctx, "minter"); err != nil {
		t.Fatalf("Receive for minter failed: %v", err)
	}
	summaries, err := store.UserUnitSummaries(ctx, "minter")
	if err != nil || len(summaries) == 0 {
		t.Fatalf("expected minter to hold units, got %v (err %v)", summaries, err)
	}
	remark := fmt.Sprintf("%d", summaries[0].UnitID)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		user := fmt.Sprintf("user%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			balances.set(user, 6)
			if err := r.Receive(ctx, user); err != nil {
				t.Errorf("Receive for %s: %v", user, err)
			}
			balances.set(user, 2)
			if err := r.Revert(ctx, user); err != nil {
				t.Errorf("Revert for %s: %v", user, err)
			}
			balances.set(user, 4)
			if err := r.Receive(ctx, user); err != nil {
				t.Errorf("Receive for %s: %v", user, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		balances.set("minter", 0)
		ev := domain.TransferEvent{
			From:       "minter",
			To:         "0xdead",
			Value:      big.NewInt(int64(chipsPerUnit) * 100),
			MintRemark: &remark,
		}
		if err := r.HandleTransfer(ctx, ev); err != nil {
			t.Errorf("HandleTransfer for minter: %v", err)
		}
	}()
	wg.Wait()

	owned, consumed, unowned := 0, 0, 0
	for unitID := int64(1); unitID <= units; unitID++ {
		chips, err := store.GetChipsByUnitID(ctx, unitID)
		if err != nil {
			t.Fatalf("GetChipsByUnitID %d failed: %v", unitID, err)
		}
		for _, c := range chips {
			switch {
			case c.MintState == domain.MintStateMinted:
				consumed++
			case c.Owner != nil && c.Received:
				owned++
			case c.Owner == nil && !c.Received:
				unowned++
			default:
				t.Errorf("chip %d in no state: owner=%v received=%v mint_state=%d",
					c.ID, c.Owner, c.Received, c.MintState)
			}
		}
	}
	if owned+consumed+unowned != totalChips {
		t.Errorf("chips leaked: owned=%d consumed=%d unowned=%d, want sum %d",
			owned, consumed, unowned, totalChips)
	}
}
