package aggregation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/events"
	"mosaic-sync/internal/storage/memory"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestKlineWorker_MergesTradeSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewKlineStore()
	bus := events.NewBus(events.BusConfig{})
	defer bus.Close()

	worker := NewKlineWorker(bus, store, testDecimals)
	go worker.Run(ctx)
	waitFor(t, func() bool { return bus.Stats().Subscribers == 1 })

	ts := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	// Prices 10, 12, 9, 11 against a fixed quote amount of 1.00.
	for _, in := range []int64{1000, 1200, 900, 1100} {
		bus.Publish(swapEvent(true, in, 100, ts.Unix()))
	}

	want := struct{ open, high, low, close_ string }{"10", "12", "9", "11"}
	waitFor(t, func() bool {
		b, err := store.GetBucket(ctx, domain.DefaultPairID, domain.Resolution1m, ts.Truncate(time.Minute))
		return err == nil && b.Close.Equal(decimal.RequireFromString(want.close_))
	})

	b, err := store.GetBucket(ctx, domain.DefaultPairID, domain.Resolution1m, ts.Truncate(time.Minute))
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if !b.Open.Equal(decimal.RequireFromString(want.open)) {
		t.Errorf("open = %s, want %s", b.Open, want.open)
	}
	if !b.High.Equal(decimal.RequireFromString(want.high)) {
		t.Errorf("high = %s, want %s", b.High, want.high)
	}
	if !b.Low.Equal(decimal.RequireFromString(want.low)) {
		t.Errorf("low = %s, want %s", b.Low, want.low)
	}
	if !b.VolumeBase.Equal(decimal.RequireFromString("42")) {
		t.Errorf("volBase = %s, want 42", b.VolumeBase)
	}
	if !b.VolumeQuote.Equal(decimal.RequireFromString("4")) {
		t.Errorf("volQuote = %s, want 4", b.VolumeQuote)
	}
}

func TestKlineWorker_RepublishesMergedBuckets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewKlineStore()
	bus := events.NewBus(events.BusConfig{})
	defer bus.Close()

	var mu sync.Mutex
	var updates []domain.KlineUpdateEvent
	tap := bus.Subscribe("test")
	defer tap.Close()
	go func() {
		for ev := range tap.Events() {
			if u, ok := ev.(domain.KlineUpdateEvent); ok {
				mu.Lock()
				updates = append(updates, u)
				mu.Unlock()
			}
		}
	}()

	worker := NewKlineWorker(bus, store, testDecimals)
	go worker.Run(ctx)
	waitFor(t, func() bool { return bus.Stats().Subscribers == 2 })

	ts := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	bus.Publish(swapEvent(true, 1000, 100, ts.Unix()))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == len(domain.Resolutions)
	})

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[domain.Resolution]bool)
	for _, u := range updates {
		seen[u.Bucket.Resolution] = true
		if !u.Bucket.Close.Equal(decimal.RequireFromString("10")) {
			t.Errorf("%s: close = %s, want 10", u.Bucket.Resolution, u.Bucket.Close)
		}
	}
	if len(seen) != len(domain.Resolutions) {
		t.Errorf("got updates for %d resolutions, want %d", len(seen), len(domain.Resolutions))
	}
}

func TestLedgerWorker_AppendsTrades(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewSwapLedgerStore()
	bus := events.NewBus(events.BusConfig{})
	defer bus.Close()

	worker := NewLedgerWorker(bus, store)
	go worker.Run(ctx)
	waitFor(t, func() bool { return bus.Stats().Subscribers == 1 })

	ev := swapEvent(false, 100, 1000, 1714564800)
	bus.Publish(ev)
	// Non-swap events pass through untouched.
	bus.Publish(domain.MintConfirmedEvent{TokenID: 7, User: ev.User, Remark: "1"})
	bus.Publish(swapEvent(true, 500, 50, 1714564860))

	waitFor(t, func() bool {
		entries, err := store.GetByUser(ctx, ev.User)
		return err == nil && len(entries) == 2
	})

	entries, err := store.GetByUser(ctx, ev.User)
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	first := entries[0]
	if first.ZeroForOne {
		t.Error("first entry direction flipped")
	}
	if first.AmountIn.Int64() != 100 || first.AmountOut.Int64() != 1000 {
		t.Errorf("first entry amounts = %s/%s, want 100/1000", first.AmountIn, first.AmountOut)
	}
	if first.Timestamp != 1714564800 {
		t.Errorf("first entry timestamp = %d", first.Timestamp)
	}
}
