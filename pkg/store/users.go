package store

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
)

// GetUser loads a user record. Users that were never touched by this service
// return ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var u models.User
	if err := s.getJSON(keys.GenUserKey(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// adjustConnections stages a totalConnections change into b, creating the
// record lazily and never going below zero. The caller holds the user lock.
func (s *Store) adjustConnections(b *pebble.Batch, userID string, delta int64) error {
	u := models.User{ID: userID}
	if err := s.getJSON(keys.GenUserKey(userID), &u); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	u.TotalConnections += delta
	if u.TotalConnections < 0 {
		u.TotalConnections = 0
	}
	return setJSON(b, keys.GenUserKey(userID), &u)
}
