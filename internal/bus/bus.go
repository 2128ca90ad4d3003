package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus fans events out to subscribers on its own goroutine so that
// publishers never wait on a slow subscriber.
type MessageBus struct {
	Events chan Event

	mu       sync.RWMutex
	handlers []func(Event)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{Events: make(chan Event, bufSize)}
}

func (b *MessageBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// Publish enqueues ev, dropping it when the buffer is full. It reports
// whether the event was accepted.
func (b *MessageBus) Publish(ev Event) bool {
	select {
	case b.Events <- ev:
		return true
	default:
		log.Printf("[bus] buffer full, dropped %s event for %s", ev.Kind, ev.Author)
		return false
	}
}

// Dispatch delivers events until ctx is done.
func (b *MessageBus) Dispatch(ctx context.Context) {
	for {
		select {
		case ev := <-b.Events:
			b.mu.RLock()
			handlers := b.handlers
			b.mu.RUnlock()
			for _, fn := range handlers {
				fn(ev)
			}
		case <-ctx.Done():
			return
		}
	}
}
