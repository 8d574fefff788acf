package broker

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-process pub/sub fabric. Brokers created from the same
// bus see each other's publishes, which stands in for several processes
// sharing one Redis.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*MemoryBroker]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*MemoryBroker]Handler)}
}

// Broker returns a new participant on the bus.
func (bus *MemoryBus) Broker() *MemoryBroker {
	return &MemoryBroker{bus: bus}
}

func (bus *MemoryBus) publish(channel string, payload []byte) {
	bus.mu.RLock()
	hs := make([]Handler, 0, len(bus.subs[channel]))
	for _, h := range bus.subs[channel] {
		hs = append(hs, h)
	}
	bus.mu.RUnlock()
	for _, h := range hs {
		h(channel, append([]byte(nil), payload...))
	}
}

// MemoryBroker delivers synchronously on the publishing goroutine. SetFailing
// makes every call fail with ErrUnavailable.
type MemoryBroker struct {
	bus     *MemoryBus
	failing atomic.Bool
	closed  atomic.Bool
}

// NewMemoryBroker returns a broker on a private bus.
func NewMemoryBroker() *MemoryBroker {
	return NewMemoryBus().Broker()
}

func (b *MemoryBroker) SetFailing(v bool) { b.failing.Store(v) }

func (b *MemoryBroker) usable(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if b.failing.Load() {
		return ErrUnavailable
	}
	return ctx.Err()
}

// Ping fails like any other call while the broker is failing or closed.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	return b.usable(ctx)
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.usable(ctx); err != nil {
		return err
	}
	b.bus.publish(channel, payload)
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, h Handler) error {
	if err := b.usable(ctx); err != nil {
		return err
	}
	b.bus.mu.Lock()
	defer b.bus.mu.Unlock()
	m, ok := b.bus.subs[channel]
	if !ok {
		m = make(map[*MemoryBroker]Handler)
		b.bus.subs[channel] = m
	}
	m[b] = h
	return nil
}

func (b *MemoryBroker) Unsubscribe(_ context.Context, channel string) error {
	b.bus.mu.Lock()
	defer b.bus.mu.Unlock()
	if m, ok := b.bus.subs[channel]; ok {
		delete(m, b)
		if len(m) == 0 {
			delete(b.bus.subs, channel)
		}
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.bus.mu.Lock()
	defer b.bus.mu.Unlock()
	for ch, m := range b.bus.subs {
		delete(m, b)
		if len(m) == 0 {
			delete(b.bus.subs, ch)
		}
	}
	return nil
}
