package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
)

// LocalDelivery hands events to the sessions of this process.
type LocalDelivery interface {
	Deliver(address string, evt models.Event) int
	DeliverUser(userID string, evt models.Event) int
}

// Options configures a Bridge. Zero values take the defaults.
type Options struct {
	Prefix         string
	PublishTimeout time.Duration
	ProbeInterval  time.Duration
}

const (
	DefaultPrefix         = "chat"
	DefaultPublishTimeout = 2 * time.Second
	DefaultProbeInterval  = 5 * time.Second
)

// envelope is the wire format on a user channel. Room is either an address
// ("sender:<id>", "receiver:<id>") or the bare user id for all sessions.
type envelope struct {
	Room  string       `json:"room"`
	Event models.Event `json:"event"`
}

type wireEnvelope struct {
	Room  string `json:"room"`
	Event struct {
		Name string          `json:"event"`
		Data json.RawMessage `json:"data,omitempty"`
	} `json:"event"`
}

// Bridge publishes events keyed by user identity and re-emits events from
// subscribed user channels to local sessions. Publish failures never reach
// the caller: the event is delivered locally and the circuit degrades.
type Bridge struct {
	broker Broker
	local  LocalDelivery
	opts   Options
	cb     *circuit

	mu      sync.Mutex
	subs    map[string]int
	pending map[string]struct{}

	probeMu   sync.Mutex
	probeStop chan struct{}
	closed    bool
}

// pinger is implemented by brokers that can check connectivity without
// publishing.
type pinger interface {
	Ping(ctx context.Context) error
}

func NewBridge(b Broker, local LocalDelivery, opts Options) *Bridge {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	br := &Bridge{
		broker:  b,
		local:   local,
		opts:    opts,
		cb:      &circuit{probeInterval: opts.ProbeInterval},
		subs:    make(map[string]int),
		pending: make(map[string]struct{}),
	}
	br.cb.onTrip = br.startProbe
	br.cb.onRecover = br.stopProbe
	return br
}

// Channel returns the broker channel of userID.
func (b *Bridge) Channel(userID string) string {
	return b.opts.Prefix + ":" + userID
}

// Degraded reports whether the circuit is open.
func (b *Bridge) Degraded() bool {
	return b.cb.isDegraded()
}

// Publish sends evt to every session of userID.
func (b *Bridge) Publish(ctx context.Context, userID string, evt models.Event) {
	b.publish(ctx, userID, userID, evt)
}

// PublishTo sends evt to one address space of a user.
func (b *Bridge) PublishTo(ctx context.Context, address string, evt models.Event) {
	_, userID, ok := presence.ParseAddress(address)
	if !ok {
		logger.Error("bridge_bad_address", "address", address, "event", evt.Name)
		return
	}
	b.publish(ctx, userID, address, evt)
}

func (b *Bridge) publish(ctx context.Context, userID, room string, evt models.Event) {
	payload, err := json.Marshal(envelope{Room: room, Event: evt})
	if err != nil {
		logger.Error("bridge_encode_failed", "event", evt.Name, "error", err)
		return
	}
	if b.cb.allow() {
		err := b.withTimeout(ctx, func(ctx context.Context) error {
			return b.broker.Publish(ctx, b.Channel(userID), payload)
		})
		if err == nil {
			publishedTotal.Inc()
			if b.cb.succeed() {
				logger.Info("broker_recovered")
				b.retryPending(ctx)
			}
			return
		}
		if b.cb.fail() {
			logger.Warn("broker_circuit_degraded", "probe_interval", b.opts.ProbeInterval)
		}
		logger.Warn("broker_publish_failed", "channel", b.Channel(userID), "event", evt.Name, "type", apperr.TypeBrokerUnavailable, "error", unavailable(err))
	}
	degradedDeliveries.Inc()
	b.deliverLocal(userID, room, evt)
}

func (b *Bridge) deliverLocal(userID, room string, evt models.Event) int {
	if _, _, ok := presence.ParseAddress(room); ok {
		return b.local.Deliver(room, evt)
	}
	return b.local.DeliverUser(userID, evt)
}

func (b *Bridge) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	defer cancel()
	return fn(ctx)
}

// Subscribe opens the channel of userID the first time a local session of
// that user needs it. A failed subscribe is retried after the broker
// recovers.
func (b *Bridge) Subscribe(ctx context.Context, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[userID]++
	if b.subs[userID] > 1 {
		return
	}
	activeSubscriptions.Inc()
	b.subscribeLocked(ctx, userID)
}

func (b *Bridge) subscribeLocked(ctx context.Context, userID string) {
	if !b.cb.allow() {
		b.pending[userID] = struct{}{}
		return
	}
	if err := b.trySubscribe(ctx, userID); err != nil {
		if b.cb.fail() {
			logger.Warn("broker_circuit_degraded", "probe_interval", b.opts.ProbeInterval)
		}
		logger.Warn("broker_subscribe_failed", "channel", b.Channel(userID), "type", apperr.TypeBrokerUnavailable, "error", err)
		return
	}
	if b.cb.succeed() {
		logger.Info("broker_recovered")
	}
}

// trySubscribe opens userID's channel, leaving userID pending on failure.
// The caller holds b.mu.
func (b *Bridge) trySubscribe(ctx context.Context, userID string) error {
	channel := b.Channel(userID)
	err := b.withTimeout(ctx, func(ctx context.Context) error {
		return b.broker.Subscribe(ctx, channel, b.handle)
	})
	if err != nil {
		b.pending[userID] = struct{}{}
		return unavailable(err)
	}
	delete(b.pending, userID)
	logger.Debug("broker_subscribed", "channel", channel)
	return nil
}

// unavailable tags a transport failure as apperr.ErrBrokerUnavailable.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", apperr.ErrBrokerUnavailable, err)
}

// Unsubscribe releases one reference and tears the channel down at zero.
func (b *Bridge) Unsubscribe(ctx context.Context, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.subs[userID]
	if !ok {
		return
	}
	if n > 1 {
		b.subs[userID] = n - 1
		return
	}
	delete(b.subs, userID)
	activeSubscriptions.Dec()
	if _, wasPending := b.pending[userID]; wasPending {
		delete(b.pending, userID)
		return
	}
	channel := b.Channel(userID)
	err := b.withTimeout(ctx, func(ctx context.Context) error {
		return b.broker.Unsubscribe(ctx, channel)
	})
	if err != nil {
		logger.Warn("broker_unsubscribe_failed", "channel", channel, "error", err)
		return
	}
	logger.Debug("broker_unsubscribed", "channel", channel)
}

// Subscribed returns the reference count of userID's channel.
func (b *Bridge) Subscribed(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[userID]
}

func (b *Bridge) retryPending(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID := range b.pending {
		b.subscribeLocked(ctx, userID)
	}
}

func (b *Bridge) startProbe() {
	b.probeMu.Lock()
	defer b.probeMu.Unlock()
	if b.closed || b.probeStop != nil {
		return
	}
	stop := make(chan struct{})
	b.probeStop = stop
	go b.probeLoop(stop)
}

func (b *Bridge) stopProbe() {
	b.probeMu.Lock()
	defer b.probeMu.Unlock()
	if b.probeStop != nil {
		close(b.probeStop)
		b.probeStop = nil
	}
}

// probeLoop runs while the circuit is degraded so that recovery does not
// depend on this process publishing.
func (b *Bridge) probeLoop(stop <-chan struct{}) {
	t := time.NewTicker(b.opts.ProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			b.probe(context.Background())
		}
	}
}

// probe retries pending subscriptions, or pings the broker when none are
// pending. The first success closes the circuit.
func (b *Bridge) probe(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.cb.isDegraded() {
		return
	}
	if len(b.pending) == 0 {
		p, ok := b.broker.(pinger)
		if !ok {
			return
		}
		if err := b.withTimeout(ctx, p.Ping); err != nil {
			b.cb.fail()
			logger.Debug("broker_probe_failed", "error", err)
			return
		}
		if b.cb.succeed() {
			logger.Info("broker_recovered")
		}
		return
	}
	for userID := range b.pending {
		if err := b.trySubscribe(ctx, userID); err != nil {
			b.cb.fail()
			logger.Debug("broker_probe_failed", "channel", b.Channel(userID), "error", err)
			return
		}
		if b.cb.succeed() {
			logger.Info("broker_recovered")
		}
	}
}

func (b *Bridge) handle(channel string, payload []byte) {
	receivedTotal.Inc()
	userID := strings.TrimPrefix(channel, b.opts.Prefix+":")
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("bridge_decode_failed", "channel", channel, "error", err)
		return
	}
	evt := models.Event{Name: env.Event.Name}
	if len(env.Event.Data) > 0 {
		evt.Data = env.Event.Data
	}
	n := b.deliverLocal(userID, env.Room, evt)
	logger.Debug("bridge_delivered", "channel", channel, "event", evt.Name, "sessions", n)
}

// Close stops probing and closes the underlying broker.
func (b *Bridge) Close() error {
	b.probeMu.Lock()
	b.closed = true
	if b.probeStop != nil {
		close(b.probeStop)
		b.probeStop = nil
	}
	b.probeMu.Unlock()
	return b.broker.Close()
}
