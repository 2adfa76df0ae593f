package host

import (
	"context"
	"sync"

	"github.com/kokoroflow/kokoroflow/pkg/logger"
)

type subscription struct {
	id      int
	handler Handler
}

// Bus is an in-process EventBus. Publish runs the handlers synchronously
// in subscription order, so a publisher observes all subscriber side
// effects before it continues.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[string][]subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string][]subscription)}
}

// Subscribe implements EventBus.
func (b *Bus) Subscribe(topic string, h Handler) CancelFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})

	return func() { b.unsubscribe(topic, id) }
}

// Publish implements EventBus.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	logger.G(ctx).WithField("topic", topic).WithField("subscribers", len(subs)).Debug("publishing event")
	for _, sub := range subs {
		sub.handler(ctx, payload)
	}
}

func (b *Bus) unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
