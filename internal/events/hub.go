package events

import (
	"context"
	"sync"
	"time"
)

// Topic names for core domain events.
const (
	// TopicAuthChanged carries an AuthState payload whenever the credential
	// store gains or loses a token.
	TopicAuthChanged = "auth.changed"
	// TopicEndpointFailover fires when the executor abandons an endpoint.
	TopicEndpointFailover = "endpoint.failover"
	// TopicModelFallback fires when generation succeeded on a non-primary model.
	TopicModelFallback = "model.fallback"
	// TopicConfigUpdated fires after a config hot-reload.
	TopicConfigUpdated = "config.updated"
)

// AuthState is the payload published on TopicAuthChanged.
type AuthState struct {
	Authenticated bool `json:"authenticated"`
}

// Failover is the payload published on TopicEndpointFailover.
type Failover struct {
	From   string `json:"from"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason"`
}

// Event represents a published message on the bus.
type Event struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler processes an incoming event.
type Handler func(context.Context, Event)

// Publisher exposes the ability to publish events to the hub. Components hold
// this narrow interface so they never depend on specific listeners.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// Subscriber exposes subscription capabilities.
type Subscriber interface {
	Subscribe(topic string, handler Handler) func()
}

// Hub is a lightweight in-process pub/sub bus. Publishing is synchronous and
// ordered per publisher; handlers must not block.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Handler
	nextID int64
}

// NewHub constructs a new empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]Handler)}
}

// Subscribe registers a handler for the given topic and returns a function
// that unsubscribes it.
func (h *Hub) Subscribe(topic string, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[int64]Handler)
	}
	h.subs[topic][id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if listeners, ok := h.subs[topic]; ok {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(h.subs, topic)
			}
		}
	}
}

// Publish dispatches an event to all subscribers of the topic.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) {
	event := Event{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	for _, handler := range h.snapshot(topic) {
		handler(ctx, event)
	}
}

func (h *Hub) snapshot(topic string) []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	listeners := h.subs[topic]
	if len(listeners) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(listeners))
	for _, handler := range listeners {
		out = append(out, handler)
	}
	return out
}

// Nop is a Publisher that discards everything, for components constructed
// without a bus.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}
