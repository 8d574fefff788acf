package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/iam-i-j-k/backend/pkg/state/logger"
)

// RedisOptions configures NewRedisBroker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBroker implements Broker on Redis PUBLISH/SUBSCRIBE. All channels of
// the process share one PubSub connection and one dispatch goroutine.
type RedisBroker struct {
	client *redis.Client

	mu       sync.RWMutex
	pubsub   *redis.PubSub
	handlers map[string]Handler
	closed   bool
	done     chan struct{}
}

// NewRedisBroker creates the client. The connection is dialed lazily, so an
// unreachable server surfaces as publish and subscribe errors.
func NewRedisBroker(opts RedisOptions) *RedisBroker {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	logger.Info("redis_broker_created", "addr", opts.Addr, "db", opts.DB)
	return &RedisBroker{
		client:   client,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// Ping checks connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.pubsub == nil {
		ps := b.client.Subscribe(ctx, channel)
		// wait for the subscription confirmation so errors surface here
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return fmt.Errorf("redis subscribe %s: %w", channel, err)
		}
		b.pubsub = ps
		go b.dispatch(ps.Channel())
	} else if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	b.handlers[channel] = h
	return nil
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, channel)
	if b.pubsub == nil || b.closed {
		return nil
	}
	if err := b.pubsub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("redis unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) dispatch(msgs <-chan *redis.Message) {
	defer close(b.done)
	for m := range msgs {
		b.mu.RLock()
		h := b.handlers[m.Channel]
		b.mu.RUnlock()
		if h == nil {
			logger.Debug("redis_message_unrouted", "channel", m.Channel)
			continue
		}
		h(m.Channel, []byte(m.Payload))
	}
}

func (b *RedisBroker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close stops the dispatch goroutine and closes the client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps := b.pubsub
	b.mu.Unlock()

	if ps != nil {
		_ = ps.Close()
		<-b.done
	}
	return b.client.Close()
}
