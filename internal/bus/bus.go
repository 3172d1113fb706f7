// Package bus implements the in-process publish/subscribe dispatcher that
// every omnidev subsystem communicates through.
//
// The bus is deliberately synchronous: Publish snapshots the subscriber list
// under a lock, then invokes each handler outside the lock, in subscription
// order, on the publisher's own goroutine. There is no dispatch goroutine.
// A slow subscriber therefore adds latency to its publisher; that is the
// accepted cost of keeping the bus trivially simple to reason about.
package bus

import (
	"sync"
	"time"

	"omnidev/internal/logging"
	"omnidev/internal/types"
)

// Handler consumes one event. A returned error is logged and does not affect
// delivery to other handlers or the publisher.
type Handler func(types.Event) error

type subscription struct {
	id      int
	handler Handler
}

// Bus is the process-wide event dispatcher. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.Mutex
	subs   map[types.EventType][]subscription
	nextID int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[types.EventType][]subscription)}
}

// Subscribe registers a handler for an event type and returns a token that
// can later be passed to Unsubscribe. Handlers for the same type are invoked
// in subscription order.
func (b *Bus) Subscribe(t types.EventType, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[t] = append(b.subs[t], subscription{id: b.nextID, handler: h})
	logging.BusDebug("subscribe type=%s id=%d subscribers=%d", t, b.nextID, len(b.subs[t]))
	return b.nextID
}

// Unsubscribe removes the handler registered under the given token.
// Unknown tokens are ignored.
func (b *Bus) Unsubscribe(t types.EventType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[t]
	for i, sub := range list {
		if sub.id == id {
			b.subs[t] = append(list[:i:i], list[i+1:]...)
			logging.BusDebug("unsubscribe type=%s id=%d", t, id)
			return
		}
	}
}

// Publish delivers an event of the given type to every current subscriber.
// The subscriber list is copied under the lock; handlers run outside it, so a
// handler may itself subscribe, unsubscribe, or publish without deadlocking.
// Handler errors and panics are logged and never propagate to the publisher.
func (b *Bus) Publish(t types.EventType, payload interface{}) {
	b.PublishFrom("", t, payload)
}

// PublishFrom is Publish with an explicit event source tag.
func (b *Bus) PublishFrom(source string, t types.EventType, payload interface{}) {
	evt := types.Event{
		Type:      t,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs[t]))
	copy(snapshot, b.subs[t])
	b.mu.Unlock()

	logging.BusDebug("publish type=%s source=%s subscribers=%d", t, source, len(snapshot))

	for _, sub := range snapshot {
		b.dispatch(sub, evt)
	}
}

// dispatch invokes one handler inside an isolating boundary. A failing
// handler never stops delivery to the remaining subscribers.
func (b *Bus) dispatch(sub subscription, evt types.Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryBus).Error("handler panic type=%s id=%d: %v", evt.Type, sub.id, r)
		}
	}()

	if err := sub.handler(evt); err != nil {
		logging.Get(logging.CategoryBus).Warn("handler error type=%s id=%d: %v", evt.Type, sub.id, err)
	}
}

// SubscriberCount reports how many handlers are registered for a type.
func (b *Bus) SubscriberCount(t types.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[t])
}
