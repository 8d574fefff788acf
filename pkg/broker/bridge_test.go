package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

type recSession struct {
	id  string
	mu  sync.Mutex
	got []models.Event
}

func (r *recSession) ID() string { return r.id }

func (r *recSession) Send(evt models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, evt)
	return nil
}

func (r *recSession) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, e := range r.got {
		out = append(out, e.Name)
	}
	return out
}

type node struct {
	reg    *presence.Registry
	broker *MemoryBroker
	bridge *Bridge
}

func newNode(bus *MemoryBus) *node {
	reg := presence.NewRegistry()
	mb := bus.Broker()
	return &node{reg: reg, broker: mb, bridge: NewBridge(mb, reg, Options{})}
}

func (n *node) connect(t *testing.T, sessionID, userID string) *recSession {
	t.Helper()
	s := &recSession{id: sessionID}
	if n.reg.Join(s, userID).First {
		n.bridge.Subscribe(context.Background(), userID)
	}
	return s
}

func fakeClock(t *testing.T) *time.Time {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := timeutil.SetClock(func() time.Time { return now })
	t.Cleanup(restore)
	return &now
}

func TestPublishCrossesProcesses(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	a, b := newNode(bus), newNode(bus)
	bob1 := b.connect(t, "b1", "bob")
	bob2 := b.connect(t, "b2", "bob")
	alice := a.connect(t, "a1", "alice")

	before := testutil.ToFloat64(publishedTotal)
	a.bridge.Publish(ctx, "bob", models.Event{Name: models.EventReceiveMessage, Data: map[string]string{"text": "hi"}})

	assert.Equal(t, []string{models.EventReceiveMessage}, bob1.names())
	assert.Equal(t, []string{models.EventReceiveMessage}, bob2.names())
	assert.Empty(t, alice.names())
	assert.Equal(t, before+1, testutil.ToFloat64(publishedTotal))
	assert.Equal(t, 1, b.bridge.Subscribed("bob"))

	raw, err := json.Marshal(bob1.got[0].Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(raw))
}

func TestPublishToAddressSpace(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	a, b := newNode(bus), newNode(bus)
	bob := b.connect(t, "b1", "bob")

	a.bridge.PublishTo(ctx, presence.ReceiverAddress("bob"), models.Event{Name: models.EventTyping})
	a.bridge.PublishTo(ctx, "nowhere", models.Event{Name: models.EventTyping})
	assert.Equal(t, []string{models.EventTyping}, bob.names())
}

func TestSubscriptionRefcount(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	a, b := newNode(bus), newNode(bus)
	bob := &recSession{id: "b1"}
	b.reg.Join(bob, "bob")

	b.bridge.Subscribe(ctx, "bob")
	b.bridge.Subscribe(ctx, "bob")
	assert.Equal(t, 2, b.bridge.Subscribed("bob"))

	b.bridge.Unsubscribe(ctx, "bob")
	a.bridge.Publish(ctx, "bob", models.Event{Name: "one"})
	assert.Equal(t, []string{"one"}, bob.names())

	b.bridge.Unsubscribe(ctx, "bob")
	assert.Equal(t, 0, b.bridge.Subscribed("bob"))
	a.bridge.Publish(ctx, "bob", models.Event{Name: "two"})
	assert.Equal(t, []string{"one"}, bob.names())

	// extra unsubscribe is a no-op
	b.bridge.Unsubscribe(ctx, "bob")
}

func TestDegradedFallsBackToLocalDelivery(t *testing.T) {
	ctx := context.Background()
	now := fakeClock(t)
	bus := NewMemoryBus()
	n := newNode(bus)
	alice := n.connect(t, "a1", "alice")

	n.broker.SetFailing(true)
	before := testutil.ToFloat64(degradedDeliveries)
	n.bridge.Publish(ctx, "alice", models.Event{Name: models.EventReceiveMessage})

	assert.True(t, n.bridge.Degraded())
	assert.Equal(t, float64(1), testutil.ToFloat64(circuitDegraded))
	assert.Equal(t, before+1, testutil.ToFloat64(degradedDeliveries))
	assert.Equal(t, []string{models.EventReceiveMessage}, alice.names())

	// the broker is back but the probe interval has not elapsed
	n.broker.SetFailing(false)
	n.bridge.Publish(ctx, "alice", models.Event{Name: "skipped"})
	assert.True(t, n.bridge.Degraded())
	assert.Equal(t, before+2, testutil.ToFloat64(degradedDeliveries))
	assert.Equal(t, []string{models.EventReceiveMessage, "skipped"}, alice.names())

	*now = now.Add(DefaultProbeInterval)
	n.bridge.Publish(ctx, "alice", models.Event{Name: "probe"})
	assert.False(t, n.bridge.Degraded())
	assert.Equal(t, float64(0), testutil.ToFloat64(circuitDegraded))
	assert.Equal(t, []string{models.EventReceiveMessage, "skipped", "probe"}, alice.names())
}

func TestFailedSubscribeRetriedAfterRecovery(t *testing.T) {
	ctx := context.Background()
	now := fakeClock(t)
	bus := NewMemoryBus()
	a, b := newNode(bus), newNode(bus)

	b.broker.SetFailing(true)
	bob := b.connect(t, "b1", "bob")
	assert.True(t, b.bridge.Degraded())

	a.bridge.Publish(ctx, "bob", models.Event{Name: "lost"})
	assert.Empty(t, bob.names(), "remote sessions miss events while degraded")

	b.broker.SetFailing(false)
	*now = now.Add(DefaultProbeInterval)
	b.bridge.Publish(ctx, "carol", models.Event{Name: "probe"})
	require.False(t, b.bridge.Degraded())

	a.bridge.Publish(ctx, "bob", models.Event{Name: "after"})
	assert.Equal(t, []string{"after"}, bob.names())
}

func TestDegradedDeliveryDedupsAcrossSpaces(t *testing.T) {
	ctx := context.Background()
	fakeClock(t)
	n := newNode(NewMemoryBus())
	bob := n.connect(t, "b1", "bob")
	n.broker.SetFailing(true)

	n.bridge.Publish(ctx, "bob", models.Event{Name: "all"})
	n.bridge.PublishTo(ctx, presence.SenderAddress("bob"), models.Event{Name: "sender-only"})
	assert.Equal(t, []string{"all", "sender-only"}, bob.names())
}

func newProbingNode(t *testing.T, bus *MemoryBus) *node {
	t.Helper()
	reg := presence.NewRegistry()
	mb := bus.Broker()
	n := &node{reg: reg, broker: mb, bridge: NewBridge(mb, reg, Options{ProbeInterval: 10 * time.Millisecond})}
	t.Cleanup(func() { _ = n.bridge.Close() })
	return n
}

func TestPendingSubscriptionRecoversWithoutLocalPublish(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	a := newNode(bus)
	b := newProbingNode(t, bus)

	b.broker.SetFailing(true)
	bob := b.connect(t, "b1", "bob")
	require.True(t, b.bridge.Degraded())

	b.broker.SetFailing(false)
	require.Eventually(t, func() bool { return !b.bridge.Degraded() }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		a.bridge.Publish(ctx, "bob", models.Event{Name: "remote"})
	}
	assert.Equal(t, []string{"remote", "remote", "remote"}, bob.names())
}

func TestDegradedCircuitRecoversByPing(t *testing.T) {
	ctx := context.Background()
	b := newProbingNode(t, NewMemoryBus())

	b.broker.SetFailing(true)
	b.bridge.Publish(ctx, "alice", models.Event{Name: models.EventTyping})
	require.True(t, b.bridge.Degraded())

	// still failing: the circuit stays open across several ticks
	time.Sleep(50 * time.Millisecond)
	assert.True(t, b.bridge.Degraded())

	b.broker.SetFailing(false)
	assert.Eventually(t, func() bool { return !b.bridge.Degraded() }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeFailureIsBrokerUnavailable(t *testing.T) {
	err := unavailable(ErrUnavailable)
	assert.ErrorIs(t, err, apperr.ErrBrokerUnavailable)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, apperr.TypeBrokerUnavailable, apperr.As(err).Type)
	assert.False(t, errors.Is(err, apperr.ErrInternal))
}
