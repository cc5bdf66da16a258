// Package bus provides in-process fan-out of domain events to local
// subscribers and to the external WebSocket feed.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	EventMessageSent        = "message-sent"
	EventMessageReceived    = "message-received"
	EventThreadUpdated      = "thread-updated"
	EventTransferStaged     = "transfer-staged"
	EventTransferIntegrated = "transfer-integrated"
	EventAckEmitted         = "ack-emitted"
	EventConfigReloaded     = "config-reloaded"
	EventAgentUpdated       = "agent-updated"
)

// Event is one domain event.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler receives events. Delivery is synchronous in source order.
type Handler func(Event)

// Bus fans events out to registered subscribers. A panicking subscriber does
// not prevent delivery to the others.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscription
	nextID      int
	log         *slog.Logger
}

type subscription struct {
	id      int
	types   map[string]bool // nil matches everything
	handler Handler
}

// New creates an event bus. log may be nil.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Subscribe registers a handler for the given event types; no types means all
// events. The returned id cancels the subscription via Unsubscribe.
func (b *Bus) Subscribe(handler Handler, types ...string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filter map[string]bool
	if len(types) > 0 {
		filter = make(map[string]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}
	b.nextID++
	b.subscribers = append(b.subscribers, subscription{id: b.nextID, types: filter, handler: handler})
	return b.nextID
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every matching subscriber, in registration
// order, synchronously.
func (b *Bus) Publish(eventType string, data map[string]interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}

	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil && !s.types[eventType] {
			continue
		}
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked", "event", event.Type, "panic", r)
		}
	}()
	s.handler(event)
}
