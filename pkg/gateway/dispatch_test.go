package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/broker"
	"github.com/iam-i-j-k/backend/pkg/chat"
	"github.com/iam-i-j-k/backend/pkg/connections"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/store"
)

type harness struct {
	d      *Dispatcher
	reg    *presence.Registry
	bridge *broker.Bridge
	store  *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	reg := presence.NewRegistry()
	bridge := broker.NewBridge(broker.NewMemoryBroker(), reg, broker.Options{})
	d := NewDispatcher(chat.NewEngine(st, bridge), connections.NewMachine(st, bridge), reg, bridge)
	return &harness{d: d, reg: reg, bridge: bridge, store: st}
}

func testSession(expected string) *Session {
	return newSession(nil, Options{}.withDefaults(), expected)
}

type outFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// drain returns every queued outbound frame.
func drain(t *testing.T, s *Session) []outFrame {
	t.Helper()
	var out []outFrame
	for {
		select {
		case raw := <-s.send:
			var f outFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func names(frames []outFrame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func errorMessage(t *testing.T, frames []outFrame) string {
	t.Helper()
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, "error", last.Event)
	var p struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(last.Data, &p))
	return p.Message
}

func (h *harness) dispatch(s *Session, frame string) error {
	return h.d.Dispatch(context.Background(), s, []byte(frame))
}

func TestJoinForms(t *testing.T) {
	h := newHarness(t)
	a := testSession("")
	b := testSession("")

	require.NoError(t, h.dispatch(a, `{"event":"join-rooms","data":"alice"}`))
	require.NoError(t, h.dispatch(b, `{"event":"join-rooms","data":{"userId":"bob"}}`))
	assert.Equal(t, "alice", a.UserID())
	assert.Equal(t, "bob", b.UserID())
	assert.Equal(t, 1, h.bridge.Subscribed("alice"))

	// rejoin as someone else releases the old channel
	require.NoError(t, h.dispatch(a, `{"event":"join-rooms","data":"carol"}`))
	assert.Equal(t, 0, h.bridge.Subscribed("alice"))
	assert.Equal(t, 1, h.bridge.Subscribed("carol"))

	h.d.Leave(context.Background(), a)
	assert.Equal(t, 0, h.bridge.Subscribed("carol"))
}

func TestJoinMustMatchHandshakeIdentity(t *testing.T) {
	h := newHarness(t)
	s := testSession("alice")
	err := h.dispatch(s, `{"event":"join-rooms","data":"mallory"}`)
	require.Error(t, err)
	assert.Empty(t, s.UserID())
	assert.Contains(t, errorMessage(t, drain(t, s)), "authenticated user")
}

func TestPayloadRules(t *testing.T) {
	h := newHarness(t)
	s := testSession("")

	cases := []struct {
		name  string
		frame string
		want  string
	}{
		{"not joined", `{"event":"typing","data":{"to":"bob","from":"alice"}}`, "join-rooms is required first"},
		{"unknown event before join", `{"event":"dance","data":{}}`, "unknown event"},
		{"malformed", `{"event":`, "malformed payload"},
		{"unknown frame field", `{"event":"join-rooms","data":"alice","x":1}`, "malformed payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, h.dispatch(s, tc.frame))
			assert.Contains(t, errorMessage(t, drain(t, s)), tc.want)
		})
	}

	err := h.dispatch(s, `{"event":"dance","data":{}}`)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	drain(t, s)

	require.NoError(t, h.dispatch(s, `{"event":"join-rooms","data":"alice"}`))
	joined := []struct {
		name  string
		frame string
		want  string
	}{
		{"unknown event", `{"event":"dance","data":{}}`, "unknown event"},
		{"unknown field", `{"event":"typing","data":{"to":"bob","from":"alice","mood":"happy"}}`, "malformed payload"},
		{"missing field", `{"event":"typing","data":{"from":"alice"}}`, `"to"`},
		{"actor mismatch", `{"event":"send-message","data":{"sender":"bob","recipient":"alice","text":"hi"}}`, "does not match"},
		{"empty message", `{"event":"send-message","data":{"sender":"alice","recipient":"bob","text":" "}}`, "text or a file"},
	}
	for _, tc := range joined {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, h.dispatch(s, tc.frame))
			assert.Contains(t, errorMessage(t, drain(t, s)), tc.want)
		})
	}
}

func TestMessageFlowBetweenSessions(t *testing.T) {
	h := newHarness(t)
	alice := testSession("")
	bob1 := testSession("")
	bob2 := testSession("")
	require.NoError(t, h.dispatch(alice, `{"event":"join-rooms","data":"alice"}`))
	require.NoError(t, h.dispatch(bob1, `{"event":"join-rooms","data":"bob"}`))
	require.NoError(t, h.dispatch(bob2, `{"event":"join-rooms","data":"bob"}`))

	require.NoError(t, h.dispatch(alice, `{"event":"send-message","data":{"sender":"alice","recipient":"bob","text":"hi"}}`))
	assert.Equal(t, []string{"receive-message"}, names(drain(t, alice)))
	assert.Equal(t, []string{"receive-message"}, names(drain(t, bob1)))
	b2 := drain(t, bob2)
	require.Equal(t, []string{"receive-message"}, names(b2))

	var msg struct {
		ID string `json:"_id"`
	}
	require.NoError(t, json.Unmarshal(b2[0].Data, &msg))
	require.NotEmpty(t, msg.ID)

	require.NoError(t, h.dispatch(bob1, `{"event":"typing","data":{"to":"alice","from":"bob"}}`))
	assert.Equal(t, []string{"typing"}, names(drain(t, alice)))
	assert.Empty(t, drain(t, bob2))

	require.NoError(t, h.dispatch(bob1, `{"event":"mark-seen","data":{"userId":"bob","chatUserId":"alice"}}`))
	assert.Equal(t, []string{"messages-seen"}, names(drain(t, alice)))

	require.Error(t, h.dispatch(bob1, `{"event":"delete-message","data":{"messageId":"`+msg.ID+`"}}`))
	drain(t, bob1)
	require.NoError(t, h.dispatch(alice, `{"event":"delete-message","data":{"messageId":"`+msg.ID+`"}}`))
	assert.Equal(t, []string{"messages-seen", "message-deleted"}, names(drain(t, bob2)))
}

func TestConnectionFlow(t *testing.T) {
	h := newHarness(t)
	alice := testSession("")
	bob := testSession("")
	require.NoError(t, h.dispatch(alice, `{"event":"join-rooms","data":"alice"}`))
	require.NoError(t, h.dispatch(bob, `{"event":"join-rooms","data":"bob"}`))

	require.NoError(t, h.dispatch(alice, `{"event":"send-connection-request","data":{"requesterId":"alice","recipientId":"bob"}}`))
	assert.Equal(t, []string{"connection-request-sent"}, names(drain(t, alice)))
	req := drain(t, bob)
	require.Equal(t, []string{"new-connection-request"}, names(req))
	var c struct {
		ID string `json:"_id"`
	}
	require.NoError(t, json.Unmarshal(req[0].Data, &c))

	// only the recipient can accept
	require.Error(t, h.dispatch(alice, `{"event":"accept-connection-request","data":{"requestId":"`+c.ID+`"}}`))
	drain(t, alice)

	require.NoError(t, h.dispatch(bob, `{"event":"accept-connection-request","data":{"requestId":"`+c.ID+`"}}`))
	assert.Equal(t, []string{"connection-accepted", "connected-users-updated"}, names(drain(t, alice)))
	assert.Equal(t, []string{"connection-accepted", "connected-users-updated"}, names(drain(t, bob)))

	err := h.dispatch(alice, `{"event":"remove-connection","data":{"connectionId":"`+c.ID+`","userId1":"bob","userId2":"carol"}}`)
	require.Error(t, err)
	drain(t, alice)

	require.NoError(t, h.dispatch(alice, `{"event":"remove-connection","data":{"connectionId":"`+c.ID+`","userId1":"alice","userId2":"bob"}}`))
	assert.Equal(t, []string{"connection-removed", "connected-users-updated"}, names(drain(t, bob)))
}

func TestSlowConsumerIsClosed(t *testing.T) {
	s := newSession(nil, Options{SendBuffer: 1}.withDefaults(), "")
	require.NoError(t, s.Send(eventNamed("one")))
	assert.ErrorIs(t, s.Send(eventNamed("two")), ErrSlowConsumer)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not closed")
	}
	assert.Equal(t, reasonSlowConsumer, s.reason)
	assert.ErrorIs(t, s.Send(eventNamed("three")), ErrSessionClosed)
}
