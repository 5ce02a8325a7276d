// Package reconcile converges user chip inventories to their on-chain
// floor-divided token balance and finalizes confirmed mints.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/observability"
	"mosaic-sync/internal/storage"
)

const (
	// maxChipsPerReceive caps a single receive run so a runaway balance
	// cannot stall the worker.
	maxChipsPerReceive = 1000

	// largeDeviationThreshold marks a deficit as probable data
	// inconsistency (reset database against live chain state, test
	// balances) rather than normal drift.
	largeDeviationThreshold = 10000

	// maxLoopIterations bounds the claim loop.
	maxLoopIterations = 100

	// DefaultUnitBatchSize is how many fresh units one loop iteration
	// acquires when the user's owned units are exhausted.
	DefaultUnitBatchSize = 3
)

// BalanceSource reads a user's current raw token balance.
type BalanceSource interface {
	Balance(ctx context.Context, user string) (*big.Int, error)
}

// TransferReconciler converges inventories on transfer events. Safe for
// concurrent use: row selection under FOR UPDATE SKIP LOCKED keeps
// concurrent runs on disjoint rows.
type TransferReconciler struct {
	store     storage.InventoryStore
	balances  BalanceSource
	deny      DenyList
	scale     *big.Int // 10^decimals
	batchSize int64
}

// NewTransferReconciler creates a reconciler. decimals is the token's
// decimal scale; batchSize <= 0 selects DefaultUnitBatchSize.
func NewTransferReconciler(store storage.InventoryStore, balances BalanceSource, deny DenyList, decimals int, batchSize int64) *TransferReconciler {
	if batchSize <= 0 {
		batchSize = DefaultUnitBatchSize
	}
	return &TransferReconciler{
		store:     store,
		balances:  balances,
		deny:      deny,
		scale:     new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil),
		batchSize: batchSize,
	}
}

// HandleTransfer processes one transfer event: the sender side first
// (revert, or recycle when the transfer carries a mint marker), then the
// receiver side. A sender-side failure aborts the event before the
// receiver is touched.
func (r *TransferReconciler) HandleTransfer(ctx context.Context, ev domain.TransferEvent) error {
	if ev.MintConfirmed() {
		if err := r.Recycle(ctx, ev.From, *ev.MintRemark); err != nil {
			return fmt.Errorf("recycle for %s: %w", ev.From, err)
		}
	} else {
		if err := r.Revert(ctx, ev.From); err != nil {
			return fmt.Errorf("revert for %s: %w", ev.From, err)
		}
	}

	if err := r.Receive(ctx, ev.To); err != nil {
		return fmt.Errorf("receive for %s: %w", ev.To, err)
	}
	return nil
}

// Receive claims chips for user until their owned count matches the
// floor-divided balance, bounded by the per-run cap and the iteration
// limit. Partial fulfillment on exhausted inventory is logged, not an
// error.
func (r *TransferReconciler) Receive(ctx context.Context, user string) error {
	if r.deny.Contains(user) {
		log.Printf("[reconcile] Skipping deny-listed address %s", user)
		observability.DefaultMetrics.DeniedTransfers.Inc()
		return nil
	}

	deficit, err := r.inventoryDeficit(ctx, user)
	if err != nil {
		return err
	}
	if deficit.Sign() <= 0 {
		return nil
	}

	if deficit.Cmp(big.NewInt(largeDeviationThreshold)) > 0 {
		log.Printf("[reconcile] WARN: user %s needs %s chips, far above threshold %d; likely data inconsistency, capping at %d",
			user, deficit, largeDeviationThreshold, maxChipsPerReceive)
		observability.DefaultMetrics.LargeDeviations.Inc()
	}

	needed := int64(maxChipsPerReceive)
	if deficit.IsInt64() && deficit.Int64() < needed {
		needed = deficit.Int64()
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := 0; i < maxLoopIterations && needed > 0; i++ {
		claimed, err := tx.ClaimOwnedUnitChips(ctx, user, needed)
		if err != nil {
			return fmt.Errorf("claim chips: %w", err)
		}
		needed -= claimed
		observability.DefaultMetrics.ChipsClaimed.Add(float64(claimed))
		if needed <= 0 {
			break
		}

		units, err := tx.ClaimFreshUnits(ctx, user, r.batchSize)
		if err != nil {
			return fmt.Errorf("claim units: %w", err)
		}
		observability.DefaultMetrics.UnitsClaimed.Add(float64(units))
		if units == 0 && claimed == 0 {
			log.Printf("[reconcile] WARN: inventory exhausted, user %s still needs %d chips", user, needed)
			observability.DefaultMetrics.PartialFulfillments.Inc()
			break
		}
		// Next iteration fills chips from the freshly claimed units.
	}

	if needed > 0 {
		log.Printf("[reconcile] Partial fill for user %s, %d chips short", user, needed)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Revert releases chips from user until their owned count drops to the
// floor-divided balance. Units in mint state Pending or Minted are never
// touched; a unit whose chips are all released returns to the unowned
// pool.
func (r *TransferReconciler) Revert(ctx context.Context, user string) error {
	if r.deny.Contains(user) {
		log.Printf("[reconcile] Skipping deny-listed address %s", user)
		observability.DefaultMetrics.DeniedTransfers.Inc()
		return nil
	}

	deficit, err := r.inventoryDeficit(ctx, user)
	if err != nil {
		return err
	}
	excess := new(big.Int).Neg(deficit)
	if excess.Sign() <= 0 {
		return nil
	}
	// Excess is bounded by the owned chip count, so Int64 is safe.
	remaining := excess.Int64()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	unitIDs, err := tx.RevertableUnits(ctx, user)
	if err != nil {
		return fmt.Errorf("list revertable units: %w", err)
	}

	for _, unitID := range unitIDs {
		if remaining <= 0 {
			break
		}

		chipIDs, err := tx.LockOwnedChips(ctx, unitID, user)
		if err != nil {
			return fmt.Errorf("lock chips of unit %d: %w", unitID, err)
		}
		owned := int64(len(chipIDs))
		if owned == 0 {
			continue
		}

		if owned <= remaining {
			if err := tx.ReleaseChips(ctx, chipIDs); err != nil {
				return fmt.Errorf("release chips of unit %d: %w", unitID, err)
			}
			if err := tx.ReleaseUnit(ctx, unitID); err != nil {
				return fmt.Errorf("release unit %d: %w", unitID, err)
			}
			observability.DefaultMetrics.ChipsReleased.Add(float64(owned))
			observability.DefaultMetrics.UnitsReleased.Inc()
			remaining -= owned
		} else {
			if err := tx.ReleaseChips(ctx, chipIDs[:remaining]); err != nil {
				return fmt.Errorf("release chips of unit %d: %w", unitID, err)
			}
			observability.DefaultMetrics.ChipsReleased.Add(float64(remaining))
			remaining = 0
		}
	}

	if remaining > 0 {
		log.Printf("[reconcile] WARN: user %s still %d chips over target after revert, inventory under-provisioned", user, remaining)
		observability.DefaultMetrics.PartialFulfillments.Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recycle permanently consumes every chip of the unit named by the mint
// marker remark. Consumed chips never return to the pool; the balance the
// mint burned is thereby matched by the inventory without a revert.
func (r *TransferReconciler) Recycle(ctx context.Context, user, remark string) error {
	if r.deny.Contains(user) {
		log.Printf("[reconcile] Skipping deny-listed address %s", user)
		observability.DefaultMetrics.DeniedTransfers.Inc()
		return nil
	}

	unitID, err := ParseUnitID(remark)
	if err != nil {
		observability.DefaultMetrics.MalformedRemarks.Inc()
		return fmt.Errorf("parse mint remark: %w", err)
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	consumed, err := tx.ConsumeUnitChips(ctx, unitID, user)
	if err != nil {
		return fmt.Errorf("consume chips of unit %d: %w", unitID, err)
	}
	if consumed == 0 {
		log.Printf("[reconcile] WARN: no chips found for unit %d while recycling mint of %s", unitID, user)
	} else {
		log.Printf("[reconcile] Recycled %d chips of unit %d for mint by %s", consumed, unitID, user)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// inventoryDeficit returns target − owned: positive when the user holds
// fewer chips than their balance warrants, negative when more.
func (r *TransferReconciler) inventoryDeficit(ctx context.Context, user string) (*big.Int, error) {
	balance, err := r.balances.Balance(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("query balance of %s: %w", user, err)
	}
	target := new(big.Int).Quo(balance, r.scale)

	owned, err := r.store.OwnedChipCount(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("count owned chips of %s: %w", user, err)
	}

	return target.Sub(target, big.NewInt(owned)), nil
}

// TokenBalance adapts the chain RPC client to BalanceSource for one token
// contract.
type TokenBalance struct {
	rpc   balanceOfClient
	token string
}

type balanceOfClient interface {
	BalanceOf(ctx context.Context, token, holder string) (*big.Int, error)
}

// NewTokenBalance creates a BalanceSource reading the given ERC-20.
func NewTokenBalance(rpc balanceOfClient, token string) *TokenBalance {
	return &TokenBalance{rpc: rpc, token: token}
}

// Balance implements BalanceSource.
func (t *TokenBalance) Balance(ctx context.Context, user string) (*big.Int, error) {
	return t.rpc.BalanceOf(ctx, t.token, user)
}

var _ BalanceSource = (*TokenBalance)(nil)
