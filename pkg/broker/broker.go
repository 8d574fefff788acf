// Package broker moves events between processes over a pub/sub channel per
// user and falls back to local delivery when the broker is unreachable.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned by brokers that cannot reach their backend.
	ErrUnavailable = errors.New("broker: unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("broker: closed")
)

// Handler receives one payload published on channel.
type Handler func(channel string, payload []byte)

// Broker is a fire-and-forget pub/sub transport with no replay.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, h Handler) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}
