package bus

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("publish reaches subscriber", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		ch, cancel, err := b.Subscribe(domain.SubjectAlertCreated)
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer cancel()

		if err := b.Publish(ctx, domain.Event{Subject: domain.SubjectAlertCreated, Data: []byte("hello")}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case e := <-ch:
			if string(e.Data) != "hello" {
				t.Errorf("Data = %q", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	})

	t.Run("subjects are isolated", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		ch, cancel, _ := b.Subscribe(domain.SubjectRunCompleted)
		defer cancel()

		b.Publish(ctx, domain.Event{Subject: domain.SubjectAlertCreated, Data: []byte("x")})

		select {
		case e := <-ch:
			t.Errorf("unexpected event %+v", e)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("full buffer drops instead of blocking", func(t *testing.T) {
		b := NewChannelBus(1)
		defer b.Close()

		_, cancel, _ := b.Subscribe("s")
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				b.Publish(ctx, domain.Event{Subject: "s", Data: []byte("x")})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on full subscriber")
		}
	})

	t.Run("publish after close fails", func(t *testing.T) {
		b := NewChannelBus(1)
		b.Close()
		if err := b.Publish(ctx, domain.Event{Subject: "s"}); err == nil {
			t.Error("expected error after close")
		}
	})

	t.Run("cancel closes channel", func(t *testing.T) {
		b := NewChannelBus(1)
		defer b.Close()

		ch, cancel, _ := b.Subscribe("s")
		cancel()

		if _, ok := <-ch; ok {
			t.Error("channel still open after cancel")
		}
	})
}

func TestNew(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", BufferSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("got %T, want *ChannelBus", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
