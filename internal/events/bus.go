package events

import (
	"context"
	"sync"

	"github.com/wolfman30/chatlink/pkg/logging"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Handler receives a published domain event.
type Handler func(ctx context.Context, evt DomainEvent)

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process, synchronous topic bus. Handlers run in subscription order on
// the publisher's goroutine, so they must hand slow work off elsewhere.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   *logging.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logging.OrDefault(logger),
	}
}

// Subscribe registers h for eventType (or Wildcard). The returned func unsubscribes.
func (b *Bus) Subscribe(eventType string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: h})
	return func() { b.unsubscribe(eventType, id) }
}

func (b *Bus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish implements Publisher. A panicking handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, evt DomainEvent) {
	if evt == nil {
		return
	}
	eventType := evt.EventType()

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[eventType])+len(b.handlers[Wildcard]))
	subs = append(subs, b.handlers[eventType]...)
	subs = append(subs, b.handlers[Wildcard]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(ctx, eventType, s, evt)
	}
}

func (b *Bus) dispatch(ctx context.Context, eventType string, s subscription, evt DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "event_type", eventType, "handler", s.id, "panic", r)
		}
	}()
	s.handler(ctx, evt)
}
