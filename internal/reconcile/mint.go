package reconcile

import (
	"context"
	"fmt"
	"log"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/observability"
	"mosaic-sync/internal/storage"
)

// MintReconciler finalizes units once their mint is confirmed on-chain.
type MintReconciler struct {
	store storage.InventoryStore
}

// NewMintReconciler creates a mint reconciler.
func NewMintReconciler(store storage.InventoryStore) *MintReconciler {
	return &MintReconciler{store: store}
}

// HandleMintConfirmed records the confirmed mint on the unit named by the
// event remark: owner, external token id, media locator, confirmation
// height and the Minted state, in one update. A missing unit is a warning,
// not an error.
func (r *MintReconciler) HandleMintConfirmed(ctx context.Context, ev domain.MintConfirmedEvent) error {
	unitID, err := ParseUnitID(ev.Remark)
	if err != nil {
		observability.DefaultMetrics.MalformedRemarks.Inc()
		return fmt.Errorf("parse mint remark: %w", err)
	}

	updated, err := r.store.FinalizeMint(ctx, unitID, &ev)
	if err != nil {
		return fmt.Errorf("finalize mint of unit %d: %w", unitID, err)
	}
	if updated == 0 {
		log.Printf("[reconcile] WARN: mint confirmed for unknown unit %d (token %d, user %s)", unitID, ev.TokenID, ev.User)
		return nil
	}

	observability.DefaultMetrics.MintsFinalized.Inc()
	log.Printf("[reconcile] Finalized mint of unit %d: token %d, user %s", unitID, ev.TokenID, ev.User)
	return nil
}
