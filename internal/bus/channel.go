package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/kite/internal/domain"
)

// ChannelBus implements the event bus with in-process Go channels, for
// single-binary deployments.
type ChannelBus struct {
	mu          sync.RWMutex
	bufferSize  int
	subscribers map[string][]chan domain.Event
	closed      bool
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:  bufferSize,
		subscribers: make(map[string][]chan domain.Event),
	}
}

// Publish sends an event to all subscribers of its subject without
// blocking; a subscriber whose buffer is full misses the event.
func (b *ChannelBus) Publish(ctx context.Context, e domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, ch := range b.subscribers[e.Subject] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Subscribe registers for a subject. The returned function cancels the
// subscription and closes the channel.
func (b *ChannelBus) Subscribe(subject string) (<-chan domain.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, fmt.Errorf("bus is closed")
	}

	ch := make(chan domain.Event, b.bufferSize)
	b.subscribers[subject] = append(b.subscribers[subject], ch)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[subject]
		for i, c := range subs {
			if c == ch {
				b.subscribers[subject] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan domain.Event)
	return nil
}
