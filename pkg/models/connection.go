package models

import "time"

type ConnectionStatus string

const (
	StatusPending  ConnectionStatus = "pending"
	StatusAccepted ConnectionStatus = "accepted"
	StatusDeclined ConnectionStatus = "declined"
)

// Active reports whether the status blocks a new request for the same pair.
func (s ConnectionStatus) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

// Connection is a relationship between two users.
type Connection struct {
	ID        string           `json:"_id"`
	Requester string           `json:"requester"`
	Recipient string           `json:"recipient"`
	Status    ConnectionStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Involves reports whether userID is either party.
func (c *Connection) Involves(userID string) bool {
	return c.Requester == userID || c.Recipient == userID
}

// PairStatus is the relationship of two users as seen by clients.
type PairStatus string

const (
	PairNone      PairStatus = "none"
	PairPending   PairStatus = "pending"
	PairConnected PairStatus = "connected"
)
