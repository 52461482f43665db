package node

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of event published on the bus.
type EventType string

const (
	// EventNewBlock carries the *core.BlockResult of a mined block.
	EventNewBlock EventType = "chain.newBlock"
	// EventNewTx carries the hash of an accepted transaction.
	EventNewTx EventType = "tx.new"
	// EventChainRevert carries the head number after a snapshot revert.
	EventChainRevert EventType = "chain.revert"
)

// Event is a message published on the bus.
type Event struct {
	Type      EventType
	Data      any
	Timestamp time.Time
}

// Subscription receives the events of the types it was created for.
type Subscription struct {
	id     uint64
	types  map[EventType]struct{}
	ch     chan Event
	bus    *EventBus
	closed atomic.Bool
}

// Chan returns the channel events are delivered on. It is closed by
// Unsubscribe or when the bus closes.
func (s *Subscription) Chan() <-chan Event { return s.ch }

// Unsubscribe removes the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.unsubscribe(s)
	}
}

// EventBus fans chain events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool
	now        func() time.Time
}

// NewEventBus creates a bus whose subscriptions buffer bufferSize events.
func NewEventBus(bufferSize int, now func() time.Time) *EventBus {
	if now == nil {
		now = time.Now
	}
	return &EventBus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: max(bufferSize, 0),
		now:        now,
	}
}

// Subscribe creates a subscription for any of the given types.
func (eb *EventBus) Subscribe(types ...EventType) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	if eb.closed {
		sub := &Subscription{types: set, ch: make(chan Event)}
		sub.closed.Store(true)
		close(sub.ch)
		return sub
	}
	eb.nextID++
	sub := &Subscription{
		id:    eb.nextID,
		types: set,
		ch:    make(chan Event, eb.bufferSize),
		bus:   eb,
	}
	eb.subs[sub.id] = sub
	return sub
}

func (eb *EventBus) unsubscribe(sub *Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	delete(eb.subs, sub.id)
	close(sub.ch)
}

// Publish delivers an event to every matching subscriber with room for it.
func (eb *EventBus) Publish(typ EventType, data any) {
	ev := Event{Type: typ, Data: data, Timestamp: eb.now()}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, sub := range eb.subs {
		if _, ok := sub.types[typ]; !ok {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscriptions to typ.
func (eb *EventBus) SubscriberCount(typ EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	n := 0
	for _, sub := range eb.subs {
		if _, ok := sub.types[typ]; ok {
			n++
		}
	}
	return n
}

// Close closes every subscription. Later publishes are dropped.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for id, sub := range eb.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
		delete(eb.subs, id)
	}
}
