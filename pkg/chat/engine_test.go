package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/broker"
	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/store"
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

func (r *recSession) byName(name string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.got {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// dataJSON re-encodes an event payload. Events that crossed the broker carry
// raw JSON instead of the original struct.
func dataJSON(t *testing.T, evt models.Event) string {
	t.Helper()
	raw, err := json.Marshal(evt.Data)
	require.NoError(t, err)
	return string(raw)
}

type fixture struct {
	engine *Engine
	store  *store.Store
	broker *broker.MemoryBroker
	alice  *recSession
	bob1   *recSession
	bob2   *recSession
}

// newFixture wires one process on a memory broker: alice holds one session,
// bob two.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := presence.NewRegistry()
	mb := broker.NewMemoryBroker()
	bridge := broker.NewBridge(mb, reg, broker.Options{})
	f := &fixture{
		engine: NewEngine(st, bridge),
		store:  st,
		broker: mb,
		alice:  &recSession{id: "a1"},
		bob1:   &recSession{id: "b1"},
		bob2:   &recSession{id: "b2"},
	}
	ctx := context.Background()
	for _, j := range []struct {
		s    *recSession
		user string
	}{{f.alice, "alice"}, {f.bob1, "bob"}, {f.bob2, "bob"}} {
		if reg.Join(j.s, j.user).First {
			bridge.Subscribe(ctx, j.user)
		}
	}
	return f
}

func TestSendRequiresContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, blank := range []string{"", "   ", "\t\n\r"} {
		_, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: blank})
		assert.ErrorIs(t, err, apperr.ErrValidation, "text %q", blank)
	}
	_, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: "\v\f"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.Send(ctx, SendInput{Sender: "", Recipient: "bob", Text: "hi"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", File: &models.File{}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	hist, err := f.engine.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Empty(t, f.alice.byName(models.EventReceiveMessage))
}

func TestSendReachesEverySessionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.Delivered)

	assert.Len(t, f.alice.byName(models.EventReceiveMessage), 1)
	assert.Len(t, f.bob1.byName(models.EventReceiveMessage), 1)
	assert.Len(t, f.bob2.byName(models.EventReceiveMessage), 1)

	withFile, err := f.engine.Send(ctx, SendInput{Sender: "bob", Recipient: "alice", File: &models.File{
		URL: "https://cdn.example/a.png", OriginalName: "a.png", MimeType: "image/png", Size: 10,
	}})
	require.NoError(t, err)
	assert.Equal(t, "a.png", withFile.File.OriginalName)
}

func TestDeleteAndEditOnlyBySender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: "hi"})
	require.NoError(t, err)

	_, err = f.engine.Edit(ctx, m.ID, "bob", "changed")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	_, err = f.engine.Edit(ctx, m.ID, "alice", " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	edited, err := f.engine.Edit(ctx, m.ID, "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Text)
	assert.False(t, edited.UpdatedAt.Before(edited.CreatedAt))
	require.Len(t, f.bob1.byName(models.EventMessageEdited), 1)

	_, err = f.engine.Delete(ctx, m.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	_, err = f.engine.Delete(ctx, m.ID, "alice")
	require.NoError(t, err)
	_, err = f.engine.Delete(ctx, m.ID, "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got := f.bob2.byName(models.EventMessageDeleted)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"messageId":"`+m.ID+`"}`, dataJSON(t, got[0]))
}

func TestReactionsAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: "hi"})
	require.NoError(t, err)

	_, err = f.engine.React(ctx, m.ID, "bob", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.React(ctx, "missing", "bob", "👍")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.engine.React(ctx, m.ID, "carol", "👍")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.engine.React(ctx, m.ID, "bob", "👍")
	require.NoError(t, err)
	out, err := f.engine.React(ctx, m.ID, "bob", "👍")
	require.NoError(t, err)
	assert.Equal(t, []models.Reaction{{User: "bob", Emoji: "👍"}, {User: "bob", Emoji: "👍"}}, out.Reactions)
	assert.Len(t, f.alice.byName(models.EventMessageReacted), 2)
}

func TestMarkSeenIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, txt := range []string{"1", "2"} {
		_, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: txt})
		require.NoError(t, err)
	}

	first, err := f.engine.MarkSeen(ctx, "bob", "alice")
	require.NoError(t, err)
	second, err := f.engine.MarkSeen(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.True(t, second[i].Seen)
	}

	delivered, err := f.engine.MarkDelivered(ctx, "bob", "alice")
	require.NoError(t, err)
	for _, m := range delivered {
		assert.True(t, m.Seen, "seen is never reset")
		assert.True(t, m.Delivered)
	}
	assert.Len(t, f.alice.byName(models.EventMessagesSeen), 2)
	assert.Len(t, f.bob1.byName(models.EventMessagesDelivered), 1)
}

func TestClearChatNotifiesBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: "1"})
	require.NoError(t, err)
	_, err = f.engine.Send(ctx, SendInput{Sender: "bob", Recipient: "alice", Text: "2"})
	require.NoError(t, err)

	n, err := f.engine.ClearChat(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a := f.alice.byName(models.EventChatCleared)
	require.Len(t, a, 1)
	assert.JSONEq(t, `{"chatUserId":"bob","clearedBy":"bob"}`, dataJSON(t, a[0]))
	b := f.bob1.byName(models.EventChatCleared)
	require.Len(t, b, 1)
	assert.JSONEq(t, `{"chatUserId":"alice","clearedBy":"bob"}`, dataJSON(t, b[0]))

	hist, err := f.engine.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestTypingGoesToReceiverOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Typing(ctx, "alice", "bob", false))
	require.NoError(t, f.engine.Typing(ctx, "alice", "bob", true))

	assert.Len(t, f.bob1.byName(models.EventTyping), 1)
	assert.Len(t, f.bob2.byName(models.EventStopTyping), 1)
	assert.Empty(t, f.alice.byName(models.EventTyping))
	assert.ErrorIs(t, f.engine.Typing(ctx, "", "bob", false), apperr.ErrValidation)
}

func TestSendSurvivesBrokerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.broker.SetFailing(true)

	m, err := f.engine.Send(ctx, SendInput{Sender: "alice", Recipient: "bob", Text: "still here"})
	require.NoError(t, err)

	stored, err := f.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "still here", stored.Text)
	assert.Len(t, f.alice.byName(models.EventReceiveMessage), 1)
	assert.Len(t, f.bob1.byName(models.EventReceiveMessage), 1)
}
