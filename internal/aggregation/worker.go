package aggregation

import (
	"context"
	"log"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/events"
	"mosaic-sync/internal/observability"
	"mosaic-sync/internal/storage"
)

// KlineWorker consumes swap events from the bus and folds each trade into
// the per-resolution OHLC buckets. Every merged bucket is republished as a
// KlineUpdateEvent after the upsert commits, so outward consumers see only
// persisted state.
type KlineWorker struct {
	bus      *events.Bus
	store    storage.KlineStore
	decimals int
}

// NewKlineWorker creates a kline worker for the given token decimals.
func NewKlineWorker(bus *events.Bus, store storage.KlineStore, decimals int) *KlineWorker {
	return &KlineWorker{bus: bus, store: store, decimals: decimals}
}

// Run consumes events until the context is cancelled. A failed merge is
// logged and skipped; buckets only drift by the one lost trade and the
// stream keeps flowing.
func (w *KlineWorker) Run(ctx context.Context) error {
	sub := w.bus.Subscribe("kline-aggregator")
	defer sub.Close()
	log.Println("[kline-worker] Started, listening for swap events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			swap, isSwap := ev.(domain.SwapEvent)
			if !isSwap {
				continue
			}
			w.process(ctx, swap)
		}
	}
}

func (w *KlineWorker) process(ctx context.Context, ev domain.SwapEvent) {
	buckets := BucketsForSwap(ev, w.decimals)
	merged, err := w.store.MergeBuckets(ctx, buckets)
	if err != nil {
		log.Printf("[kline-worker] Failed to merge buckets for swap %s (tx %s): %v", ev.User, ev.TxHash, err)
		return
	}
	observability.DefaultMetrics.KlineBucketsMerged.Add(float64(len(merged)))

	for _, bucket := range merged {
		w.bus.Publish(domain.KlineUpdateEvent{Bucket: bucket})
	}
}

// LedgerWorker consumes swap events from the bus and appends each trade to
// the raw swap ledger. The ledger is write-only from this process; a failed
// append loses one analytics row, never reconciliation state, so failures
// are logged and skipped.
type LedgerWorker struct {
	bus   *events.Bus
	store storage.SwapLedgerStore
}

// NewLedgerWorker creates a ledger worker.
func NewLedgerWorker(bus *events.Bus, store storage.SwapLedgerStore) *LedgerWorker {
	return &LedgerWorker{bus: bus, store: store}
}

// Run consumes events until the context is cancelled.
func (w *LedgerWorker) Run(ctx context.Context) error {
	sub := w.bus.Subscribe("swap-ledger")
	defer sub.Close()
	log.Println("[ledger-worker] Started, listening for swap events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			swap, isSwap := ev.(domain.SwapEvent)
			if !isSwap {
				continue
			}
			entry := &domain.SwapLedgerEntry{
				User:       swap.User,
				ZeroForOne: swap.ZeroForOne,
				AmountIn:   swap.AmountIn,
				AmountOut:  swap.AmountOut,
				Timestamp:  swap.Timestamp,
			}
			if err := w.store.Append(ctx, entry); err != nil {
				log.Printf("[ledger-worker] Failed to append swap for %s (tx %s): %v", swap.User, swap.TxHash, err)
				continue
			}
			observability.DefaultMetrics.LedgerRowsAppended.Inc()
		}
	}
}
