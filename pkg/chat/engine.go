// Package chat implements the direct message lifecycle: send, edit, delete,
// react, delivered/seen tracking, clear and history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

// Store is the part of the document store the engine needs.
type Store interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateMessage(ctx context.Context, id string, mutate func(*models.Message) error) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string, cond func(*models.Message) error) (*models.Message, error)
	MarkMessages(ctx context.Context, f store.MessageFilter, flag store.MessageFlag) ([]*models.Message, error)
	DeleteConversation(ctx context.Context, a, b string) (int, error)
	History(ctx context.Context, a, b string) ([]*models.Message, error)
}

// Publisher pushes events to users. It never fails from the caller's view.
type Publisher interface {
	Publish(ctx context.Context, userID string, evt models.Event)
	PublishTo(ctx context.Context, address string, evt models.Event)
}

// SendInput is one outgoing message.
type SendInput struct {
	Sender    string
	Recipient string
	Text      string
	File      *models.File
}

type Engine struct {
	store Store
	pub   Publisher
}

func NewEngine(s Store, p Publisher) *Engine {
	return &Engine{store: s, pub: p}
}

// Send persists a message and pushes receive-message to both parties.
func (e *Engine) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if err := validateUsers(in.Sender, in.Recipient); err != nil {
		return nil, err
	}
	if in.File != nil && strings.TrimSpace(in.File.URL) == "" {
		return nil, apperr.Validation("file url is required")
	}
	now := timeutil.Now()
	m := &models.Message{
		ID:        keys.GenID(),
		Sender:    in.Sender,
		Recipient: in.Recipient,
		Text:      in.Text,
		File:      in.File,
		Reactions: []models.Reaction{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !m.HasContent() {
		return nil, apperr.Validation("message needs text or a file")
	}
	if err := e.store.CreateMessage(ctx, m); err != nil {
		return nil, storeError("send message", err, "message")
	}
	logger.Info("message_sent", "message_id", m.ID, "sender", m.Sender, "recipient", m.Recipient, "has_file", m.File != nil)
	e.publishBoth(ctx, m.Sender, m.Recipient, models.Event{Name: models.EventReceiveMessage, Data: m})
	return m, nil
}

// Delete removes a message. Only its sender may delete it.
func (e *Engine) Delete(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	if messageID == "" || requesterID == "" {
		return nil, apperr.Validation("messageId and userId are required")
	}
	m, err := e.store.DeleteMessage(ctx, messageID, onlySender(requesterID, "delete"))
	if err != nil {
		return nil, storeError("delete message", err, "message")
	}
	logger.Info("message_deleted", "message_id", m.ID, "by", requesterID)
	e.publishBoth(ctx, m.Sender, m.Recipient, models.Event{
		Name: models.EventMessageDeleted,
		Data: models.MessageDeletedPayload{MessageID: m.ID},
	})
	return m, nil
}

// Edit replaces the text of a message. Only its sender may edit it.
func (e *Engine) Edit(ctx context.Context, messageID, requesterID, newText string) (*models.Message, error) {
	if messageID == "" || requesterID == "" {
		return nil, apperr.Validation("messageId and userId are required")
	}
	if strings.TrimSpace(newText) == "" {
		return nil, apperr.Validation("newText must not be empty")
	}
	check := onlySender(requesterID, "edit")
	m, err := e.store.UpdateMessage(ctx, messageID, func(cur *models.Message) error {
		if err := check(cur); err != nil {
			return err
		}
		cur.Text = newText
		cur.UpdatedAt = timeutil.Now()
		return nil
	})
	if err != nil {
		return nil, storeError("edit message", err, "message")
	}
	logger.Info("message_edited", "message_id", m.ID)
	e.publishBoth(ctx, m.Sender, m.Recipient, models.Event{
		Name: models.EventMessageEdited,
		Data: models.MessageEditedPayload{Message: m},
	})
	return m, nil
}

// React appends a reaction. Repeated reactions accumulate.
func (e *Engine) React(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	if messageID == "" || userID == "" {
		return nil, apperr.Validation("messageId and userId are required")
	}
	if strings.TrimSpace(emoji) == "" {
		return nil, apperr.Validation("emoji must not be empty")
	}
	m, err := e.store.UpdateMessage(ctx, messageID, func(cur *models.Message) error {
		if !cur.Involves(userID) {
			return apperr.Authorization("only participants may react")
		}
		cur.Reactions = append(cur.Reactions, models.Reaction{User: userID, Emoji: emoji})
		cur.UpdatedAt = timeutil.Now()
		return nil
	})
	if err != nil {
		return nil, storeError("react to message", err, "message")
	}
	e.publishBoth(ctx, m.Sender, m.Recipient, models.Event{
		Name: models.EventMessageReacted,
		Data: models.MessageReactedPayload{MessageID: m.ID, UserID: userID, Emoji: emoji, Message: m},
	})
	return m, nil
}

// MarkDelivered flags every message from otherUserID to userID delivered.
func (e *Engine) MarkDelivered(ctx context.Context, userID, otherUserID string) ([]*models.Message, error) {
	return e.mark(ctx, userID, otherUserID, store.FlagDelivered, models.EventMessagesDelivered)
}

// MarkSeen flags every message from otherUserID to userID seen.
func (e *Engine) MarkSeen(ctx context.Context, userID, otherUserID string) ([]*models.Message, error) {
	return e.mark(ctx, userID, otherUserID, store.FlagSeen, models.EventMessagesSeen)
}

func (e *Engine) mark(ctx context.Context, userID, otherUserID string, flag store.MessageFlag, event string) ([]*models.Message, error) {
	if err := validateUsers(userID, otherUserID); err != nil {
		return nil, err
	}
	msgs, err := e.store.MarkMessages(ctx, store.MessageFilter{Sender: otherUserID, Recipient: userID}, flag)
	if err != nil {
		return nil, storeError("mark "+flag.String(), err, "messages")
	}
	e.publishBoth(ctx, userID, otherUserID, models.Event{
		Name: event,
		Data: models.MessagesUpdatedPayload{UpdatedMessages: msgs},
	})
	return msgs, nil
}

// ClearChat deletes the whole conversation in both directions.
func (e *Engine) ClearChat(ctx context.Context, userID, otherUserID string) (int, error) {
	if err := validateUsers(userID, otherUserID); err != nil {
		return 0, err
	}
	n, err := e.store.DeleteConversation(ctx, userID, otherUserID)
	if err != nil {
		return 0, storeError("clear chat", err, "conversation")
	}
	logger.Info("chat_cleared", "user", userID, "other", otherUserID, "removed", n)
	e.pub.Publish(ctx, userID, models.Event{
		Name: models.EventChatCleared,
		Data: models.ChatClearedPayload{ChatUserID: otherUserID, ClearedBy: userID},
	})
	if otherUserID != userID {
		e.pub.Publish(ctx, otherUserID, models.Event{
			Name: models.EventChatCleared,
			Data: models.ChatClearedPayload{ChatUserID: userID, ClearedBy: userID},
		})
	}
	return n, nil
}

// Typing relays a typing indicator to the receiving side of to. Nothing is
// persisted.
func (e *Engine) Typing(ctx context.Context, from, to string, stop bool) error {
	if err := validateUsers(from, to); err != nil {
		return err
	}
	name := models.EventTyping
	if stop {
		name = models.EventStopTyping
	}
	e.pub.PublishTo(ctx, presence.ReceiverAddress(to), models.Event{Name: name, Data: models.TypingPayload{From: from}})
	return nil
}

// History returns the conversation between userID and otherUserID in
// creation order.
func (e *Engine) History(ctx context.Context, userID, otherUserID string) ([]*models.Message, error) {
	if err := validateUsers(userID, otherUserID); err != nil {
		return nil, err
	}
	msgs, err := e.store.History(ctx, userID, otherUserID)
	if err != nil {
		return nil, storeError("history", err, "conversation")
	}
	return msgs, nil
}

func (e *Engine) publishBoth(ctx context.Context, a, b string, evt models.Event) {
	e.pub.Publish(ctx, a, evt)
	if b != a {
		e.pub.Publish(ctx, b, evt)
	}
}

func onlySender(requesterID, action string) func(*models.Message) error {
	return func(m *models.Message) error {
		if m.Sender != requesterID {
			return apperr.Authorization("only the sender may %s this message", action)
		}
		return nil
	}
}

func validateUsers(a, b string) error {
	if a == "" || b == "" {
		return apperr.Validation("both user ids are required")
	}
	for _, id := range []string{a, b} {
		if err := keys.ValidateID(id); err != nil {
			return apperr.Validation("invalid user id: %v", err)
		}
	}
	return nil
}

// storeError maps store failures onto the client taxonomy. Errors that are
// already typed pass through.
func storeError(op string, err error, what string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("%s not found", what)
	}
	logger.Error("chat_store_failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}
