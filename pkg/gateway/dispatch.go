package gateway

import (
	"context"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/chat"
	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
)

// ChatService is the message engine as seen by the gateway.
type ChatService interface {
	Send(ctx context.Context, in chat.SendInput) (*models.Message, error)
	Delete(ctx context.Context, messageID, requesterID string) (*models.Message, error)
	Edit(ctx context.Context, messageID, requesterID, newText string) (*models.Message, error)
	React(ctx context.Context, messageID, userID, emoji string) (*models.Message, error)
	MarkDelivered(ctx context.Context, userID, otherUserID string) ([]*models.Message, error)
	MarkSeen(ctx context.Context, userID, otherUserID string) ([]*models.Message, error)
	ClearChat(ctx context.Context, userID, otherUserID string) (int, error)
	Typing(ctx context.Context, from, to string, stop bool) error
}

// ConnectionService is the connection state machine as seen by the gateway.
type ConnectionService interface {
	Request(ctx context.Context, requesterID, recipientID string) (*models.Connection, error)
	Accept(ctx context.Context, recipientID, connectionID string) (*models.Connection, error)
	Decline(ctx context.Context, recipientID, connectionID string) (*models.Connection, error)
	Remove(ctx context.Context, userID, connectionID string) (*models.Connection, error)
}

// Subscriber manages broker subscriptions per user.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string)
	Unsubscribe(ctx context.Context, userID string)
}

// Dispatcher routes inbound frames of a session to the engines.
type Dispatcher struct {
	chat     ChatService
	conns    ConnectionService
	registry *presence.Registry
	subs     Subscriber
}

func NewDispatcher(c ChatService, cs ConnectionService, reg *presence.Registry, subs Subscriber) *Dispatcher {
	return &Dispatcher{chat: c, conns: cs, registry: reg, subs: subs}
}

// Dispatch handles one raw frame. Failures are reported to the session as an
// error event and returned for metrics.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) error {
	f, err := ParseFrame(raw)
	if err == nil {
		err = d.handle(ctx, s, f)
	}
	if err != nil {
		ae := apperr.As(err)
		if ae.Type == apperr.TypeInternal {
			logger.Error("gateway_event_failed", "session", s.ID(), "event", f.Event, "error", err)
		} else {
			logger.Debug("gateway_event_rejected", "session", s.ID(), "event", f.Event, "type", ae.Type, "error", ae.Message)
		}
		_ = s.Send(models.Event{Name: models.EventError, Data: models.ErrorPayload{Message: ae.Message}})
		return err
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, s *Session, f Frame) error {
	if f.Event == EventJoinRooms {
		return d.join(ctx, s, f)
	}
	user := s.UserID()
	if user == "" {
		return apperr.Authorization("join-rooms is required first")
	}

	switch f.Event {
	case EventSendMessage:
		var p sendMessagePayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		if err := actor(user, p.Sender); err != nil {
			return err
		}
		_, err := d.chat.Send(ctx, chat.SendInput{Sender: p.Sender, Recipient: p.Recipient, Text: p.Text, File: p.File})
		return err

	case EventDeleteMessage:
		var p deleteMessagePayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		_, err := d.chat.Delete(ctx, p.MessageID, user)
		return err

	case EventEditMessage:
		var p editMessagePayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		if err := actor(user, p.UserID); err != nil {
			return err
		}
		_, err := d.chat.Edit(ctx, p.MessageID, p.UserID, p.NewText)
		return err

	case EventReactMessage:
		var p reactMessagePayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		if err := actor(user, p.UserID); err != nil {
			return err
		}
		_, err := d.chat.React(ctx, p.MessageID, p.UserID, p.Emoji)
		return err

	case EventMarkDelivered, EventMarkSeen, EventClearChat:
		var p chatPairPayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		if err := actor(user, p.UserID); err != nil {
			return err
		}
		var err error
		switch f.Event {
		case EventMarkDelivered:
			_, err = d.chat.MarkDelivered(ctx, p.UserID, p.ChatUserID)
		case EventMarkSeen:
			_, err = d.chat.MarkSeen(ctx, p.UserID, p.ChatUserID)
		default:
			_, err = d.chat.ClearChat(ctx, p.UserID, p.ChatUserID)
		}
		return err

	case EventTyping, EventStopTyping:
		var p typingPayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		if err := actor(user, p.From); err != nil {
			return err
		}
		return d.chat.Typing(ctx, p.From, p.To, f.Event == EventStopTyping)

	case EventSendConnection:
		var p connectionRequestPayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		if err := actor(user, p.RequesterID); err != nil {
			return err
		}
		_, err := d.conns.Request(ctx, p.RequesterID, p.RecipientID)
		return err

	case EventAcceptConnection, EventDeclineConnection:
		var p connectionAnswerPayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		var err error
		if f.Event == EventAcceptConnection {
			_, err = d.conns.Accept(ctx, user, p.RequestID)
		} else {
			_, err = d.conns.Decline(ctx, user, p.RequestID)
		}
		return err

	case EventRemoveConnection:
		var p removeConnectionPayload
		if err := decodePayload(f.Data, &p); err != nil {
			return err
		}
		if (p.UserID1 != "" || p.UserID2 != "") && user != p.UserID1 && user != p.UserID2 {
			return apperr.Authorization("not a party of this connection")
		}
		_, err := d.conns.Remove(ctx, user, p.ConnectionID)
		return err
	}
	return apperr.Validation("unknown event %q", f.Event)
}

func (d *Dispatcher) join(ctx context.Context, s *Session, f Frame) error {
	userID, err := parseJoin(f.Data)
	if err != nil {
		return err
	}
	if err := keys.ValidateID(userID); err != nil {
		return apperr.Validation("invalid userId: %v", err)
	}
	if exp := s.expectedUser; exp != "" && exp != userID {
		return apperr.Authorization("join-rooms must name the authenticated user")
	}
	res := d.registry.Join(s, userID)
	s.setUser(userID)
	if res.Previous != "" && res.PreviousLast {
		d.subs.Unsubscribe(ctx, res.Previous)
	}
	if res.First {
		d.subs.Subscribe(ctx, userID)
	}
	logger.Info("session_joined", "session", s.ID(), "user", userID, "first", res.First)
	return nil
}

// Leave unbinds s and releases its user's subscription when it was the last
// session.
func (d *Dispatcher) Leave(ctx context.Context, s *Session) {
	userID, last := d.registry.Leave(s.ID())
	if last {
		d.subs.Unsubscribe(ctx, userID)
	}
}

func actor(joined, claimed string) error {
	if joined != claimed {
		return apperr.Authorization("payload user does not match the joined user")
	}
	return nil
}
