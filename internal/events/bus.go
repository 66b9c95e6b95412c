package events

import (
	"sync"
	"time"
)

// Handler receives events from the bus. Handlers run on the bus dispatch
// goroutine and must not block for long.
type Handler func(Event)

// Bus delivers events asynchronously to subscribed handlers, in emit order
type Bus struct {
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex // guards closed and sends on events
	closed bool

	handlerMu sync.RWMutex
	handlers  []Handler

	closeOnce sync.Once
}

// NewBus creates a bus with the given buffer capacity and starts dispatching
func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus{
		events: make(chan Event, capacity),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for all subsequent events
func (b *Bus) Subscribe(h Handler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Emit publishes an event. It blocks when the buffer is full. Emitting on
// a nil or closed bus is a no-op.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.events <- e
}

// Close stops accepting events and waits until queued events are delivered
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.events)
		b.mu.Unlock()
	})
	<-b.done
	return nil
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.events {
		b.handlerMu.RLock()
		handlers := make([]Handler, len(b.handlers))
		copy(handlers, b.handlers)
		b.handlerMu.RUnlock()

		for _, h := range handlers {
			h(e)
		}
	}
}
