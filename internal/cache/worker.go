package cache

import (
	"context"
	"log"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/events"
)

// Invalidator evicts cache entries for affected users. Implemented by
// EligibilityService.
type Invalidator interface {
	Evict(ctx context.Context, user string) error
}

// InvalidationWorker consumes mint confirmations from the bus and evicts
// the minter's eligibility entry. Transfer endpoints are evicted by the
// transfer worker after reconciliation, so only mint confirmations are
// handled here.
type InvalidationWorker struct {
	bus         *events.Bus
	invalidator Invalidator
}

// NewInvalidationWorker creates an invalidation worker.
func NewInvalidationWorker(bus *events.Bus, invalidator Invalidator) *InvalidationWorker {
	return &InvalidationWorker{bus: bus, invalidator: invalidator}
}

// Run consumes events until the context is cancelled.
func (w *InvalidationWorker) Run(ctx context.Context) error {
	sub := w.bus.Subscribe("cache-invalidator")
	defer sub.Close()
	log.Println("[cache-invalidator] Started, listening for mint confirmations")

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
			if err := w.invalidator.Evict(ctx, mint.User); err != nil {
				log.Printf("[cache-invalidator] Failed to evict cache for %s: %v", mint.User, err)
			}
		}
	}
}
