package events

import (
	"sync"
	"time"
)

// Handler receives events delivered by the bus
type Handler func(*Event)

type subscription struct {
	eventType EventType
	handler   Handler
	all       bool
}

// Bus is an in-process publish/subscribe hub.
// Handlers run synchronously on the emitting goroutine and must not block.
type Bus struct {
	subs   map[int]subscription
	nextID int
	mu     sync.RWMutex
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers handler for one event type and returns its subscription id
func (b *Bus) Subscribe(eventType EventType, handler Handler) int {
	return b.add(subscription{eventType: eventType, handler: handler})
}

// SubscribeAll registers handler for every event type
func (b *Bus) SubscribeAll(handler Handler) int {
	return b.add(subscription{handler: handler, all: true})
}

func (b *Bus) add(sub subscription) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = sub
	return b.nextID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Emit delivers an event to every matching subscriber
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.all || sub.eventType == eventType {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
