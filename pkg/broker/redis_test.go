package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/presence"
)

func TestRedisBrokerPubSub(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBroker(RedisOptions{Addr: mr.Addr()})
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()
	require.NoError(t, b.Ping(ctx))

	var mu sync.Mutex
	var got []string
	require.NoError(t, b.Subscribe(ctx, "chat:bob", func(channel string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, channel+"="+string(payload))
	}))
	require.NoError(t, b.Subscribe(ctx, "chat:alice", func(string, []byte) {}))

	require.NoError(t, b.Publish(ctx, "chat:bob", []byte("hello")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "chat:bob=hello", got[0])

	require.NoError(t, b.Unsubscribe(ctx, "chat:bob"))
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("chat:bob")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBrokerUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBroker(RedisOptions{Addr: mr.Addr()})
	t.Cleanup(func() { _ = b.Close() })
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, b.Publish(ctx, "chat:bob", []byte("x")))
	assert.Error(t, b.Subscribe(ctx, "chat:bob", func(string, []byte) {}))
}

func TestRedisBrokerClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBroker(RedisOptions{Addr: mr.Addr()})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "c", nil), ErrClosed)
}

func TestBridgeOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	mk := func() *node {
		n := &node{}
		rb := NewRedisBroker(RedisOptions{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rb.Close() })
		n.reg = presence.NewRegistry()
		n.bridge = NewBridge(rb, n.reg, Options{Prefix: "test"})
		return n
	}
	a, b := mk(), mk()
	bob := b.connect(t, "b1", "bob")
	a.bridge.Publish(ctx, "bob", models.Event{Name: "ping"})

	require.Eventually(t, func() bool { return len(bob.names()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ping"}, bob.names())
}
