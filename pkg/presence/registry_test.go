package presence

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iam-i-j-k/backend/pkg/models"
)

type fakeSession struct {
	id   string
	mu   sync.Mutex
	got  []models.Event
	fail bool
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Send(evt models.Event) error {
	if f.fail {
		return errors.New("closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, evt)
	return nil
}

func (f *fakeSession) events() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Event(nil), f.got...)
}

func TestJoinLeaveEdges(t *testing.T) {
	r := NewRegistry()
	s1 := &fakeSession{id: "s1"}
	s2 := &fakeSession{id: "s2"}

	assert.True(t, r.Join(s1, "bob").First)
	assert.False(t, r.Join(s1, "bob").First, "duplicate join is idempotent")
	assert.False(t, r.Join(s2, "bob").First)
	assert.Equal(t, 2, r.SessionCount())

	user, last := r.Leave("s1")
	assert.Equal(t, "bob", user)
	assert.False(t, last)
	user, last = r.Leave("s2")
	assert.Equal(t, "bob", user)
	assert.True(t, last)
	assert.False(t, r.Online("bob"))

	user, last = r.Leave("nope")
	assert.Empty(t, user)
	assert.False(t, last)
}

func TestRejoinAsDifferentUser(t *testing.T) {
	r := NewRegistry()
	s := &fakeSession{id: "s"}
	r.Join(s, "alice")

	res := r.Join(s, "bob")
	assert.True(t, res.First)
	assert.Equal(t, "alice", res.Previous)
	assert.True(t, res.PreviousLast)
	assert.False(t, r.Online("alice"))

	uid, ok := r.UserOf("s")
	require.True(t, ok)
	assert.Equal(t, "bob", uid)

	assert.Equal(t, 0, r.DeliverUser("alice", models.Event{Name: "x"}))
	assert.Equal(t, 1, r.DeliverUser("bob", models.Event{Name: "x"}))
}

func TestDeliverUserReachesEachSessionOnce(t *testing.T) {
	r := NewRegistry()
	s1 := &fakeSession{id: "s1"}
	s2 := &fakeSession{id: "s2"}
	other := &fakeSession{id: "o"}
	r.Join(s1, "bob")
	r.Join(s2, "bob")
	r.Join(other, "carol")

	n := r.DeliverUser("bob", models.Event{Name: models.EventReceiveMessage})
	assert.Equal(t, 2, n)
	assert.Len(t, s1.events(), 1)
	assert.Len(t, s2.events(), 1)
	assert.Empty(t, other.events())

	assert.Equal(t, 2, r.Deliver(ReceiverAddress("bob"), models.Event{Name: models.EventTyping}))
	assert.Equal(t, 0, r.Deliver(ReceiverAddress("dave"), models.Event{Name: models.EventTyping}))
}

func TestDeliverSkipsFailingSessions(t *testing.T) {
	r := NewRegistry()
	r.Join(&fakeSession{id: "ok"}, "bob")
	r.Join(&fakeSession{id: "bad", fail: true}, "bob")
	assert.Equal(t, 1, r.DeliverUser("bob", models.Event{Name: "x"}))
}

func TestParseAddress(t *testing.T) {
	space, id, ok := ParseAddress("sender:u1")
	require.True(t, ok)
	assert.Equal(t, SenderSpace, space)
	assert.Equal(t, "u1", id)

	_, _, ok = ParseAddress("receiver:")
	assert.False(t, ok)
	_, _, ok = ParseAddress("other:u1")
	assert.False(t, ok)
	_, _, ok = ParseAddress("u1")
	assert.False(t, ok)
}
