// Package events provides the in-process broadcast bus connecting the
// chain event source to its workers. A single dispatcher goroutine fans
// every published event out to per-subscriber buffered channels; a
// subscriber that falls behind loses its own oldest events instead of
// stalling the publisher, so consumers must converge rather than rely on
// complete delivery.
package events

import (
	"log"
	"sync"
	"sync/atomic"

	"mosaic-sync/internal/domain"
)

// DefaultSubscriberCapacity is the per-subscriber buffer size.
const DefaultSubscriberCapacity = 100

// dispatchCapacity buffers the publish side so Publish never blocks on the
// dispatcher.
const dispatchCapacity = 1024

// BusConfig configures the event bus.
type BusConfig struct {
	// SubscriberCapacity is the buffer size of each subscription channel.
	SubscriberCapacity int
	// Logger receives drop warnings. Defaults to log.Default().
	Logger *log.Logger
}

// Bus is a multi-consumer broadcast of domain events.
type Bus struct {
	capacity int
	logger   *log.Logger

	in   chan domain.Event
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	published   atomic.Int64
	overflowed  atomic.Int64 // events lost because the dispatch queue was full
	subSequence atomic.Int64
}

// NewBus creates a bus and starts its dispatcher goroutine.
func NewBus(cfg BusConfig) *Bus {
	capacity := cfg.SubscriberCapacity
	if capacity <= 0 {
		capacity = DefaultSubscriberCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	b := &Bus{
		capacity: capacity,
		logger:   logger,
		in:       make(chan domain.Event, dispatchCapacity),
		done:     make(chan struct{}),
		subs:     make(map[*Subscription]struct{}),
	}

	b.wg.Add(1)
	go b.dispatchLoop()

	return b
}

// Publish enqueues an event for broadcast. It never blocks: if the
// dispatch queue is full the event is counted as overflowed and dropped.
// Publishing with no subscribers is not an error.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.in <- ev:
		b.published.Add(1)
	default:
		b.overflowed.Add(1)
		b.logger.Printf("bus dispatch queue full, dropping %s event", ev.Kind())
	}
}

// Subscribe registers a new subscriber. The name identifies the consumer
// in logs and stats. Subscribers must drain their channel or accept loss
// of their oldest events.
func (b *Bus) Subscribe(name string) *Subscription {
	s := &Subscription{
		name: name,
		id:   b.subSequence.Add(1),
		ch:   make(chan domain.Event, b.capacity),
		bus:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Close stops the dispatcher and closes every subscription channel.
// Events already buffered in subscription channels remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Stats reports bus-level counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BusStats{
		Subscribers: len(b.subs),
		Published:   b.published.Load(),
		Overflowed:  b.overflowed.Load(),
	}
}

// BusStats contains bus-level counters.
type BusStats struct {
	Subscribers int
	Published   int64
	Overflowed  int64
}

// dispatchLoop fans queued events out to every live subscriber.
func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			// Drain what was already queued so late publishes before
			// Close are not silently lost.
			for {
				select {
				case ev := <-b.in:
					b.broadcast(ev)
				default:
					return
				}
			}
		case ev := <-b.in:
			b.broadcast(ev)
		}
	}
}

// broadcast delivers one event to every subscriber, dropping each
// subscriber's oldest buffered event when its channel is full. The read
// lock is held for the whole fan-out so a concurrent Close cannot close a
// channel mid-delivery; deliver never blocks, so the lock is short-lived.
func (b *Bus) broadcast(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		s.deliver(ev)
	}
}

// remove detaches a subscription; its channel is closed.
func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	name string
	id   int64
	ch   chan domain.Event
	bus  *Bus

	delivered atomic.Int64
	dropped   atomic.Int64

	closeOnce sync.Once
}

// Events returns the subscription channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Name returns the subscriber name given at Subscribe.
func (s *Subscription) Name() string {
	return s.name
}

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
	})
}

// Stats reports per-subscriber delivery counters.
func (s *Subscription) Stats() SubscriptionStats {
	return SubscriptionStats{
		Name:      s.name,
		Buffered:  len(s.ch),
		Capacity:  cap(s.ch),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// SubscriptionStats contains per-subscriber counters.
type SubscriptionStats struct {
	Name      string
	Buffered  int
	Capacity  int
	Delivered int64
	Dropped   int64
}

// deliver appends the event, evicting the oldest buffered event when full.
// Only the dispatcher calls this, so two evict/send rounds are enough: the
// consumer draining concurrently only makes room.
func (s *Subscription) deliver(ev domain.Event) {
	for i := 0; i < 2; i++ {
		select {
		case s.ch <- ev:
			s.delivered.Add(1)
			return
		default:
		}

		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			s.bus.logger.Printf("subscriber %q lagging, dropped %s event", s.name, old.Kind())
		default:
		}
	}
}
