package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// recentCapacity bounds the in-memory recent-events ring served by the API.
const recentCapacity = 256

// Handler is a subscriber callback. Handlers run synchronously on the
// emitter's goroutine and must not block.
type Handler func(*Event)

// Bus is an in-process publish/subscribe bus with a bounded ring of recent
// events for the API.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]Handler
	recent []Event
	log    zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]Handler),
		log:  log.With().Str("service", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], handler)
}

// Publish delivers the event to all subscribers and records it in the
// recent ring.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	b.recent = append(b.recent, event)
	if len(b.recent) > recentCapacity {
		b.recent = b.recent[len(b.recent)-recentCapacity:]
	}
	handlers := make([]Handler, len(b.subs[event.Type]))
	copy(handlers, b.subs[event.Type])
	b.mu.Unlock()

	for _, h := range handlers {
		h(&event)
	}
}

// Recent returns up to limit most recent events, newest first
func (b *Bus) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.recent)
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]Event, limit)
	for i := 0; i < limit; i++ {
		result[i] = b.recent[n-1-i]
	}
	return result
}

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// EmitTyped emits an event with typed data to the bus and logs it
func (m *Manager) EmitTyped(eventType EventType, module string, data EventData) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	m.bus.Publish(event)

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.EmitTyped(ErrorOccurred, module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}
