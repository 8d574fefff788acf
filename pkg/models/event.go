package models

// Event is one outbound frame: a name and its JSON-serializable payload.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// outbound event names
const (
	EventReceiveMessage        = "receive-message"
	EventMessageDeleted        = "message-deleted"
	EventMessageEdited         = "message-edited"
	EventMessageReacted        = "message-reacted"
	EventMessagesDelivered     = "messages-delivered"
	EventMessagesSeen          = "messages-seen"
	EventChatCleared           = "chat-cleared"
	EventTyping                = "typing"
	EventStopTyping            = "stop-typing"
	EventConnectionRequestSent = "connection-request-sent"
	EventNewConnectionRequest  = "new-connection-request"
	EventConnectionAccepted    = "connection-accepted"
	EventConnectionDeclined    = "connection-declined"
	EventConnectionRemoved     = "connection-removed"
	EventConnectedUsersUpdated = "connected-users-updated"
	EventError                 = "error"
)

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

type MessageEditedPayload struct {
	Message *Message `json:"message"`
}

type MessageReactedPayload struct {
	MessageID string   `json:"messageId"`
	UserID    string   `json:"userId"`
	Emoji     string   `json:"emoji"`
	Message   *Message `json:"message"`
}

type MessagesUpdatedPayload struct {
	UpdatedMessages []*Message `json:"updatedMessages"`
}

type ChatClearedPayload struct {
	ChatUserID string `json:"chatUserId"`
	ClearedBy  string `json:"clearedBy"`
}

type TypingPayload struct {
	From string `json:"from"`
}

type ConnectionRemovedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ConnectedUsersPayload lists the accepted connections of the receiving user.
type ConnectedUsersPayload struct {
	Connections []*Connection `json:"connections"`
}
