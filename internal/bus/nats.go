package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/kite/internal/domain"
)

// NATSBus implements the event bus over NATS, for deployments where
// case-management consumers run out of process.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewNATSBus connects to NATS with reconnect handling.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := cfg.NATSMaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	reconnectWait := cfg.NATSReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 5
	}

	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(time.Duration(reconnectWait) * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSBus{conn: conn}, nil
}

// Publish sends an event to its subject.
func (b *NATSBus) Publish(ctx context.Context, e domain.Event) error {
	return b.conn.Publish(e.Subject, e.Data)
}

// Subscribe registers for a subject.
func (b *NATSBus) Subscribe(subject string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 1024)

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- domain.Event{Subject: msg.Subject, Data: msg.Data}:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	cancel := func() {
		sub.Unsubscribe()
		close(ch)
	}
	return ch, cancel, nil
}

// Close drains and closes the NATS connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	return b.conn.Drain()
}
