package reconcile

import (
	"context"
	"log"
	"time"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/events"
	"mosaic-sync/internal/observability"
)

// Invalidator evicts a user's derived cache entry after their inventory
// changed. Implemented by the cache layer.
type Invalidator interface {
	Evict(ctx context.Context, user string) error
}

// TransferWorker consumes transfer events from the bus and drives the
// reconciler. After a successfully processed transfer it evicts the
// derived cache for both endpoints, so the next eligibility read
// recomputes from current inventory.
type TransferWorker struct {
	bus         *events.Bus
	reconciler  *TransferReconciler
	invalidator Invalidator // optional
}

// NewTransferWorker creates a transfer worker. invalidator may be nil.
func NewTransferWorker(bus *events.Bus, reconciler *TransferReconciler, invalidator Invalidator) *TransferWorker {
	return &TransferWorker{bus: bus, reconciler: reconciler, invalidator: invalidator}
}

// Run consumes events until the context is cancelled. A failed event is
// logged and skipped; the next event touching the same user re-triggers
// the same floor comparison.
func (w *TransferWorker) Run(ctx context.Context) error {
	sub := w.bus.Subscribe("transfer-reconciler")
	defer sub.Close()
	log.Println("[transfer-worker] Started, listening for transfer events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			transfer, isTransfer := ev.(domain.TransferEvent)
			if !isTransfer {
				continue
			}
			w.process(ctx, transfer)
		}
	}
}

func (w *TransferWorker) process(ctx context.Context, ev domain.TransferEvent) {
	start := time.Now()
	err := w.reconciler.HandleTransfer(ctx, ev)
	if err != nil {
		log.Printf("[transfer-worker] Failed to process transfer %s -> %s (tx %s): %v", ev.From, ev.To, ev.TxHash, err)
		observability.RecordReconcileRun("transfer", "error", time.Since(start).Seconds())
		return
	}
	observability.RecordReconcileRun("transfer", "ok", time.Since(start).Seconds())

	if w.invalidator != nil {
		for _, user := range []string{ev.From, ev.To} {
			if err := w.invalidator.Evict(ctx, user); err != nil {
				log.Printf("[transfer-worker] Failed to evict cache for %s: %v", user, err)
			}
		}
	}
}

// MintWorker consumes mint confirmations from the bus and finalizes the
// corresponding units.
type MintWorker struct {
	bus        *events.Bus
	reconciler *MintReconciler
}

// NewMintWorker creates a mint worker.
func NewMintWorker(bus *events.Bus, reconciler *MintReconciler) *MintWorker {
	return &MintWorker{bus: bus, reconciler: reconciler}
}

// Run consumes events until the context is cancelled.
func (w *MintWorker) Run(ctx context.Context) error {
	sub := w.bus.Subscribe("mint-reconciler")
	defer sub.Close()
	log.Println("[mint-worker] Started, listening for mint confirmations")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			mint, isMint := ev.(domain.MintConfirmedEvent)
			if !isMint {
				continue
			}
			start := time.Now()
			if err := w.reconciler.HandleMintConfirmed(ctx, mint); err != nil {
				log.Printf("[mint-worker] Failed to finalize mint (token %d, tx %s): %v", mint.TokenID, mint.TxHash, err)
				observability.RecordReconcileRun("mint", "error", time.Since(start).Seconds())
				continue
			}
			observability.RecordReconcileRun("mint", "ok", time.Since(start).Seconds())
		}
	}
}
