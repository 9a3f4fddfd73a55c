package services

import (
	"log"
	"sync"

	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/ports"
)

// EventHandler reacts to an engine event inside the process
type EventHandler func(organizationID string, event events.Event)

type handlerEntry struct {
	id      int
	handler EventHandler
}

// EventBus fans engine events out to downstream publishers (the SSE
// broadcaster) and to in-process handlers. A panicking handler is logged
// and never reaches the emitting caller.
// It implements ports.EventPublisher interface.
type EventBus struct {
	downstream []ports.EventPublisher
	handlers   map[events.EventType][]handlerEntry
	nextID     int
	mu         sync.RWMutex
}

// Ensure EventBus implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a bus forwarding to the given publishers
func NewEventBus(downstream ...ports.EventPublisher) *EventBus {
	return &EventBus{
		downstream: downstream,
		handlers:   make(map[events.EventType][]handlerEntry),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) Subscribe(eventType events.EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		handlers := eb.handlers[eventType]
		for i, h := range handlers {
			if h.id == id {
				eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// Emit forwards the event downstream, then runs the handlers in registration order
func (eb *EventBus) Emit(organizationID string, event events.Event) {
	for _, pub := range eb.downstream {
		pub.Emit(organizationID, event)
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.invoke(h.handler, organizationID, event)
	}
}

func (eb *EventBus) invoke(handler EventHandler, organizationID string, event events.Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("🔥 Panic in %s handler: %v", event.Type, p)
		}
	}()
	handler(organizationID, event)
}

// Clear removes all handlers (useful for testing)
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = make(map[events.EventType][]handlerEntry)
}

// LogLifecycle subscribes log lines for run completion and step failures
func (eb *EventBus) LogLifecycle() {
	eb.Subscribe(events.RunCompleted, func(orgID string, event events.Event) {
		log.Printf("✅ Run %v completed (org %s)", event.Data["instanceId"], orgID)
	})
	eb.Subscribe(events.StepFailed, func(orgID string, event events.Event) {
		log.Printf("❌ Step %v of run %v failed: %v", event.Data["stepId"], event.Data["instanceId"], event.Data["error"])
	})
}
