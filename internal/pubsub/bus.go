package pubsub

import (
	"sync"
	"sync/atomic"
	"time"
)

// BusEvent is the untyped event delivered to Bus handlers. Payload types
// are event-type specific; handlers assert the payloads they care about.
type BusEvent = Event[any]

// Handler receives events published on the Bus.
type Handler func(BusEvent)

// PanicReporter is invoked when a handler panics during dispatch.
// The Bus cannot depend on the log package (log depends on pubsub),
// so reporting is injected.
type PanicReporter func(eventType EventType, recovered any)

// Bus is a synchronous publish/subscribe dispatcher keyed by event type.
// Handlers for a type are invoked in registration order. The Bus holds no
// business state, only the registry of active subscriptions, and events
// are not replayed to late subscribers.
type Bus struct {
	mu       sync.Mutex
	handlers map[EventType][]*busSubscription
	onPanic  PanicReporter
}

type busSubscription struct {
	fn     Handler
	active atomic.Bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	b := &Bus{handlers: make(map[EventType][]*busSubscription)}
	return b
}

// SetPanicReporter installs the reporter invoked when a handler panics.
func (b *Bus) SetPanicReporter(r PanicReporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPanic = r
}

// Subscribe registers a handler for an event type and returns an
// unsubscribe function. Unsubscribing is idempotent and safe to call
// from within a handler during dispatch.
func (b *Bus) Subscribe(eventType EventType, fn Handler) func() {
	sub := &busSubscription{fn: fn}
	sub.active.Store(true)

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], sub)
	b.mu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		b.mu.Lock()
		subs := b.handlers[eventType]
		for i, s := range subs {
			if s == sub {
				b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}
}

// Publish delivers the payload synchronously to every handler registered
// for the event type, in registration order. A panicking handler is
// isolated: the panic is reported and dispatch continues with the
// remaining handlers. Handlers unsubscribed mid-dispatch are skipped if
// they have not yet run.
func (b *Bus) Publish(eventType EventType, payload any) {
	b.mu.Lock()
	subs := b.handlers[eventType]
	snapshot := make([]*busSubscription, len(subs))
	copy(snapshot, subs)
	reporter := b.onPanic
	b.mu.Unlock()

	event := BusEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		dispatch(sub.fn, event, reporter)
	}
}

// SubscriberCount returns the number of active handlers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[eventType])
}

func dispatch(fn Handler, event BusEvent, reporter PanicReporter) {
	defer func() {
		if r := recover(); r != nil && reporter != nil {
			reporter(event.Type, r)
		}
	}()
	fn(event)
}
