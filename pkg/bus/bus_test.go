package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestKeyedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus[string, int](zaptest.NewLogger(t))
	require.NoError(t, b.Start(ctx))

	sub := b.Subscribe(ctx, "a")
	other := b.Subscribe(ctx, "b")

	go b.Publish(ctx, "a", 42)
	select {
	case msg := <-sub:
		assert.Equal(t, "a", msg.Key)
		assert.Equal(t, 42, msg.Message)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	select {
	case msg := <-other:
		t.Fatalf("unexpected message on other key: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGlobalSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus[string, string](zaptest.NewLogger(t))
	require.NoError(t, b.Start(ctx))

	all := b.Subscribe(ctx)
	pub := b.CreatePublisher("status")
	go pub(ctx, "hello")

	select {
	case msg := <-all:
		assert.Equal(t, "status", msg.Key)
		assert.Equal(t, "hello", msg.Message)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
