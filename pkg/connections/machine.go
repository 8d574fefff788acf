// Package connections implements the connection request lifecycle between
// two users: request, accept, decline and remove.
package connections

import (
	"context"
	"errors"
	"fmt"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

// Store is the part of the document store the machine needs.
type Store interface {
	CreateConnectionIfNoActive(ctx context.Context, c *models.Connection) error
	FindActiveConnection(ctx context.Context, a, b string) (*models.Connection, error)
	TransitionConnection(ctx context.Context, id string, f store.ConnectionFilter, to models.ConnectionStatus) (*models.Connection, error)
	DeleteConnection(ctx context.Context, id string, f store.ConnectionFilter) (*models.Connection, error)
	ListConnections(ctx context.Context, userID string, f store.ConnectionFilter) ([]*models.Connection, error)
}

// Publisher pushes events to users.
type Publisher interface {
	Publish(ctx context.Context, userID string, evt models.Event)
	PublishTo(ctx context.Context, address string, evt models.Event)
}

type Machine struct {
	store Store
	pub   Publisher
}

func NewMachine(s Store, p Publisher) *Machine {
	return &Machine{store: s, pub: p}
}

// Request creates a pending connection. At most one pending or accepted
// connection may exist per unordered pair.
func (m *Machine) Request(ctx context.Context, requesterID, recipientID string) (*models.Connection, error) {
	if requesterID == "" || recipientID == "" {
		return nil, apperr.Validation("requesterId and recipientId are required")
	}
	if requesterID == recipientID {
		return nil, apperr.ErrSelfConnection
	}
	for _, id := range []string{requesterID, recipientID} {
		if err := keys.ValidateID(id); err != nil {
			return nil, apperr.Validation("invalid user id: %v", err)
		}
	}
	now := timeutil.Now()
	c := &models.Connection{
		ID:        keys.GenID(),
		Requester: requesterID,
		Recipient: recipientID,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateConnectionIfNoActive(ctx, c); err != nil {
		return nil, storeError("request connection", err)
	}
	logger.Info("connection_requested", "connection_id", c.ID, "requester", requesterID, "recipient", recipientID)
	m.pub.PublishTo(ctx, presence.SenderAddress(requesterID), models.Event{Name: models.EventConnectionRequestSent, Data: c})
	m.pub.PublishTo(ctx, presence.ReceiverAddress(recipientID), models.Event{Name: models.EventNewConnectionRequest, Data: c})
	return c, nil
}

// Accept moves a pending request addressed to recipientID to accepted.
func (m *Machine) Accept(ctx context.Context, recipientID, connectionID string) (*models.Connection, error) {
	return m.answer(ctx, recipientID, connectionID, models.StatusAccepted, models.EventConnectionAccepted)
}

// Decline moves a pending request addressed to recipientID to declined and
// frees the pair for a new request.
func (m *Machine) Decline(ctx context.Context, recipientID, connectionID string) (*models.Connection, error) {
	return m.answer(ctx, recipientID, connectionID, models.StatusDeclined, models.EventConnectionDeclined)
}

func (m *Machine) answer(ctx context.Context, recipientID, connectionID string, to models.ConnectionStatus, event string) (*models.Connection, error) {
	if recipientID == "" || connectionID == "" {
		return nil, apperr.Validation("requestId and userId are required")
	}
	c, err := m.store.TransitionConnection(ctx, connectionID, store.ConnectionFilter{Recipient: recipientID}, to)
	if err != nil {
		return nil, storeError(string(to)+" connection", err)
	}
	logger.Info("connection_"+string(to), "connection_id", c.ID, "requester", c.Requester, "recipient", c.Recipient)
	evt := models.Event{Name: event, Data: c}
	m.pub.Publish(ctx, c.Requester, evt)
	m.pub.Publish(ctx, c.Recipient, evt)
	m.publishConnectedUsers(ctx, c.Requester, c.Recipient)
	return c, nil
}

// Remove deletes an accepted connection that userID is a party of.
func (m *Machine) Remove(ctx context.Context, userID, connectionID string) (*models.Connection, error) {
	if userID == "" || connectionID == "" {
		return nil, apperr.Validation("connectionId and userId are required")
	}
	c, err := m.store.DeleteConnection(ctx, connectionID, store.ConnectionFilter{Party: userID, Status: models.StatusAccepted})
	if err != nil {
		return nil, storeError("remove connection", err)
	}
	logger.Info("connection_removed", "connection_id", c.ID, "by", userID)
	evt := models.Event{Name: models.EventConnectionRemoved, Data: models.ConnectionRemovedPayload{ConnectionID: c.ID}}
	m.pub.Publish(ctx, c.Requester, evt)
	m.pub.Publish(ctx, c.Recipient, evt)
	m.publishConnectedUsers(ctx, c.Requester, c.Recipient)
	return c, nil
}

// Status reports how a and b relate.
func (m *Machine) Status(ctx context.Context, a, b string) (models.PairStatus, error) {
	if a == "" || b == "" {
		return "", apperr.Validation("both user ids are required")
	}
	c, err := m.store.FindActiveConnection(ctx, a, b)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.PairNone, nil
	case err != nil:
		return "", storeError("connection status", err)
	case c.Status == models.StatusAccepted:
		return models.PairConnected, nil
	case c.Status == models.StatusPending:
		return models.PairPending, nil
	}
	return models.PairNone, nil
}

// Pending returns the requests waiting for userID to answer, oldest first.
func (m *Machine) Pending(ctx context.Context, userID string) ([]*models.Connection, error) {
	if userID == "" {
		return nil, apperr.Validation("userId is required")
	}
	out, err := m.store.ListConnections(ctx, userID, store.ConnectionFilter{Recipient: userID, Status: models.StatusPending})
	if err != nil {
		return nil, storeError("pending connections", err)
	}
	return out, nil
}

// Matches returns the accepted connections of userID, oldest first.
func (m *Machine) Matches(ctx context.Context, userID string) ([]*models.Connection, error) {
	if userID == "" {
		return nil, apperr.Validation("userId is required")
	}
	out, err := m.store.ListConnections(ctx, userID, store.ConnectionFilter{Status: models.StatusAccepted})
	if err != nil {
		return nil, storeError("matched connections", err)
	}
	return out, nil
}

func (m *Machine) publishConnectedUsers(ctx context.Context, users ...string) {
	for _, u := range users {
		list, err := m.Matches(ctx, u)
		if err != nil {
			logger.Warn("connected_users_lookup_failed", "user", u, "error", err)
			continue
		}
		m.pub.Publish(ctx, u, models.Event{
			Name: models.EventConnectedUsersUpdated,
			Data: models.ConnectedUsersPayload{Connections: list},
		})
	}
}

func storeError(op string, err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict("an active connection already exists for this pair")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConditionFailed):
		return apperr.NotFound("connection not found")
	}
	logger.Error("connection_store_failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}
