package store

import "github.com/iam-i-j-k/backend/pkg/models"

// MessageFilter selects messages of one direction of a conversation.
type MessageFilter struct {
	Sender    string
	Recipient string
}

// MessageFlag names a monotonic per-message flag.
type MessageFlag int

const (
	FlagDelivered MessageFlag = iota + 1
	FlagSeen
)

func (f MessageFlag) String() string {
	switch f {
	case FlagDelivered:
		return "delivered"
	case FlagSeen:
		return "seen"
	}
	return "unknown"
}

// set flips the flag false→true and reports whether it changed.
func (f MessageFlag) set(m *models.Message) bool {
	switch f {
	case FlagDelivered:
		if m.Delivered {
			return false
		}
		m.Delivered = true
		return true
	case FlagSeen:
		if m.Seen {
			return false
		}
		m.Seen = true
		return true
	}
	return false
}

// ConnectionFilter is a compound condition on a connection. Empty fields match
// anything.
type ConnectionFilter struct {
	Requester string
	Recipient string
	// Party matches when the user is either requester or recipient.
	Party  string
	Status models.ConnectionStatus
}

// Match reports whether c satisfies every set field.
func (f ConnectionFilter) Match(c *models.Connection) bool {
	if f.Requester != "" && c.Requester != f.Requester {
		return false
	}
	if f.Recipient != "" && c.Recipient != f.Recipient {
		return false
	}
	if f.Party != "" && !c.Involves(f.Party) {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}
