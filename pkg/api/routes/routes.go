// Package routes holds the REST handlers. Each handler acts as the user
// verified by the auth middleware.
package routes

import (
	"context"

	"github.com/iam-i-j-k/backend/pkg/chat"
	"github.com/iam-i-j-k/backend/pkg/connections"
	"github.com/iam-i-j-k/backend/pkg/models"
)

// ChatService is the part of the message engine the REST surface uses.
type ChatService interface {
	History(ctx context.Context, userID, otherUserID string) ([]*models.Message, error)
	ClearChat(ctx context.Context, userID, otherUserID string) (int, error)
}

// ConnectionService is the part of the connection machine the REST surface uses.
type ConnectionService interface {
	Request(ctx context.Context, requesterID, recipientID string) (*models.Connection, error)
	Accept(ctx context.Context, recipientID, connectionID string) (*models.Connection, error)
	Decline(ctx context.Context, recipientID, connectionID string) (*models.Connection, error)
	Remove(ctx context.Context, userID, connectionID string) (*models.Connection, error)
	Status(ctx context.Context, a, b string) (models.PairStatus, error)
	Pending(ctx context.Context, userID string) ([]*models.Connection, error)
	Matches(ctx context.Context, userID string) ([]*models.Connection, error)
}

var (
	_ ChatService       = (*chat.Engine)(nil)
	_ ConnectionService = (*connections.Machine)(nil)
)

// Handlers binds the REST handlers to the engines.
type Handlers struct {
	Chat  ChatService
	Conns ConnectionService
}
