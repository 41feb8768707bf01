package engine

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberID identifies one listener on the engine's event bus. It is
// what Unsubscribe takes back, e.g. when an SSE hub shuts down.
type SubscriberID uint64

// SubscriberFunc receives order, session, device and production events.
type SubscriberFunc func(Event)

type listener struct {
	id    SubscriberID
	fn    SubscriberFunc
	types []EventType // nil: every event
}

func (l listener) wants(t EventType) bool {
	return l.types == nil || slices.Contains(l.types, t)
}

// EventBus fans engine events out in-process: the SSE hub, the metrics
// counters and the outbox writer all listen here. Delivery is synchronous
// and in subscription order, on the goroutine that committed the change.
// Listeners must return quickly; anything slow belongs behind the outbox.
//
// The listener list is copy-on-write, so Emit never takes a lock.
type EventBus struct {
	mu        sync.Mutex // serializes writers of listeners
	listeners atomic.Pointer[[]listener]
	lastID    SubscriberID
	now       func() time.Time
}

func NewEventBus() *EventBus {
	eb := &EventBus{now: time.Now}
	eb.listeners.Store(&[]listener{})
	return eb
}

// Subscribe listens to every event type.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.register(fn, nil)
}

// SubscribeTypes listens to the listed event types only.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	return eb.register(fn, append([]EventType{}, types...))
}

func (eb *EventBus) register(fn SubscriberFunc, types []EventType) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.lastID++
	next := append(slices.Clone(*eb.listeners.Load()), listener{id: eb.lastID, fn: fn, types: types})
	eb.listeners.Store(&next)
	return eb.lastID
}

// Unsubscribe drops a listener. Unknown IDs are ignored.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	next := slices.DeleteFunc(slices.Clone(*eb.listeners.Load()), func(l listener) bool { return l.id == id })
	eb.listeners.Store(&next)
}

// Emit stamps evt when it has no timestamp and hands it to each interested
// listener.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = eb.now()
	}
	for _, l := range *eb.listeners.Load() {
		if l.wants(evt.Type) {
			l.fn(evt)
		}
	}
}
