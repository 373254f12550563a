package domain

import (
	"context"
)

// Event subjects published by the pipeline for downstream collaborators
// (the case-management workflow consumes alert.created).
const (
	SubjectAlertCreated = "kite.alert.created"
	SubjectRunCompleted = "kite.run.completed"
)

// Event is one published message.
type Event struct {
	Subject string
	Data    []byte
}

// EventBus decouples the pipeline from downstream consumers. Publishing
// is best-effort: the pipeline's own durability comes from the store and
// the audit chain, never from the bus.
type EventBus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(subject string) (<-chan Event, func(), error)
	Close() error
}

// EventBusConfig selects and tunes a bus backend.
type EventBusConfig struct {
	Type string `mapstructure:"type"` // "channel" or "nats"

	// Channel settings
	BufferSize int `mapstructure:"buffer_size"`

	// NATS settings
	NATSUrl           string `mapstructure:"nats_url"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}
