// Package pubsub provides the chat event brokers fanning events out to the API instances.
package pubsub

import (
	"context"
	"sync"

	"github.com/trezcool/campus/core/chat"
)

// LocalBroker delivers events within the process; for single instance deployments & tests.
type LocalBroker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(chat.Event)
}

var _ chat.Broker = (*LocalBroker)(nil) // interface compliance check

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[int]func(chat.Event))}
}

// Publish calls every subscribed handler synchronously.
func (b *LocalBroker) Publish(_ context.Context, evt chat.Event) error {
	b.mu.RLock()
	handlers := make([]func(chat.Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
	return nil
}

// Subscribe registers handler until ctx is done.
func (b *LocalBroker) Subscribe(ctx context.Context, handler func(chat.Event)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}
