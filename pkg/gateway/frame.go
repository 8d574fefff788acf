package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/models"
)

// inbound event names
const (
	EventJoinRooms         = "join-rooms"
	EventSendMessage       = "send-message"
	EventDeleteMessage     = "delete-message"
	EventEditMessage       = "edit-message"
	EventReactMessage      = "react-message"
	EventMarkDelivered     = "mark-delivered"
	EventMarkSeen          = "mark-seen"
	EventClearChat         = "clear-chat"
	EventTyping            = "typing"
	EventStopTyping        = "stop-typing"
	EventSendConnection    = "send-connection-request"
	EventAcceptConnection  = "accept-connection-request"
	EventDeclineConnection = "decline-connection-request"
	EventRemoveConnection  = "remove-connection"
)

var knownEvents = map[string]struct{}{
	EventJoinRooms: {}, EventSendMessage: {}, EventDeleteMessage: {}, EventEditMessage: {},
	EventReactMessage: {}, EventMarkDelivered: {}, EventMarkSeen: {}, EventClearChat: {},
	EventTyping: {}, EventStopTyping: {}, EventSendConnection: {}, EventAcceptConnection: {},
	EventDeclineConnection: {}, EventRemoveConnection: {},
}

// Frame is one inbound websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseFrame strictly decodes raw into a Frame with a known event name.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := decodeStrict(raw, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, apperr.Validation("missing event name")
	}
	if _, ok := knownEvents[f.Event]; !ok {
		return Frame{}, apperr.Validation("unknown event %q", f.Event)
	}
	return f, nil
}

// decodeStrict rejects unknown fields, trailing data and malformed JSON.
func decodeStrict(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return apperr.Validation("missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("malformed payload: %v", err)
	}
	if dec.More() {
		return apperr.Validation("malformed payload: trailing data")
	}
	return nil
}

type validator interface {
	validate() error
}

// decodePayload decodes data into p and checks its required fields.
func decodePayload(data json.RawMessage, p validator) error {
	if err := decodeStrict(data, p); err != nil {
		return err
	}
	return p.validate()
}

func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return apperr.Validation("missing required field %q", pairs[i])
		}
	}
	return nil
}

// parseJoin accepts either a bare JSON string or {"userId": "..."}.
func parseJoin(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", apperr.Validation("malformed payload: %v", err)
		}
		if id == "" {
			return "", apperr.Validation("missing required field %q", "userId")
		}
		return id, nil
	}
	var p joinPayload
	if err := decodePayload(data, &p); err != nil {
		return "", err
	}
	return p.UserID, nil
}

type joinPayload struct {
	UserID string `json:"userId"`
}

func (p *joinPayload) validate() error { return required("userId", p.UserID) }

type sendMessagePayload struct {
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	Text      string       `json:"text"`
	File      *models.File `json:"file"`
}

func (p *sendMessagePayload) validate() error {
	return required("sender", p.Sender, "recipient", p.Recipient)
}

type deleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

func (p *deleteMessagePayload) validate() error { return required("messageId", p.MessageID) }

type editMessagePayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	NewText   string `json:"newText"`
}

func (p *editMessagePayload) validate() error {
	return required("messageId", p.MessageID, "userId", p.UserID, "newText", p.NewText)
}

type reactMessagePayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

func (p *reactMessagePayload) validate() error {
	return required("messageId", p.MessageID, "userId", p.UserID, "emoji", p.Emoji)
}

// chatPairPayload serves mark-delivered, mark-seen and clear-chat.
type chatPairPayload struct {
	UserID     string `json:"userId"`
	ChatUserID string `json:"chatUserId"`
}

func (p *chatPairPayload) validate() error {
	return required("userId", p.UserID, "chatUserId", p.ChatUserID)
}

type typingPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
}

func (p *typingPayload) validate() error { return required("to", p.To, "from", p.From) }

type connectionRequestPayload struct {
	RequesterID string `json:"requesterId"`
	RecipientID string `json:"recipientId"`
}

func (p *connectionRequestPayload) validate() error {
	return required("requesterId", p.RequesterID, "recipientId", p.RecipientID)
}

type connectionAnswerPayload struct {
	RequestID string `json:"requestId"`
}

func (p *connectionAnswerPayload) validate() error { return required("requestId", p.RequestID) }

type removeConnectionPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID1      string `json:"userId1"`
	UserID2      string `json:"userId2"`
}

func (p *removeConnectionPayload) validate() error {
	return required("connectionId", p.ConnectionID)
}
