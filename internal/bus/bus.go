// Package bus implements the in-process event bus carrying trade lifecycle
// events between the orchestrator, state machine, monitors, and guards.
//
// Delivery is synchronous: Publish invokes every handler registered for the
// event's type, in registration order, on the calling goroutine. A panicking
// handler is recovered and logged; it never prevents delivery to the
// remaining handlers or propagates to the publisher. There is no persistence
// or redelivery; all core components subscribe at startup, before the first
// event can be published.
package bus

import (
	"log"
	"sync"

	"exec-enginev1/internal/model"
)

// Handler consumes lifecycle events.
type Handler interface {
	HandleEvent(ev model.Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev model.Event)

func (f HandlerFunc) HandleEvent(ev model.Event) { f(ev) }

// Bus dispatches events to subscribers by event type.
type Bus struct {
	mu   sync.RWMutex
	subs map[model.EventType][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[model.EventType][]Handler)}
}

// Subscribe registers h for every listed event type.
// Handlers for one type run in registration order.
func (b *Bus) Subscribe(h Handler, types ...model.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], h)
	}
}

// Publish delivers ev to all subscribers of its type.
func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	subs := b.subs[ev.Type()]
	b.mu.RUnlock()

	if len(subs) == 0 {
		log.Printf("[bus] no subscribers for %s (pos=%s)", ev.Type(), ev.TradeID())
		return
	}
	for _, h := range subs {
		safeDeliver(h, ev)
	}
}

func safeDeliver(h Handler, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] handler panic on %s (pos=%s): %v", ev.Type(), ev.TradeID(), r)
		}
	}()
	h.HandleEvent(ev)
}
