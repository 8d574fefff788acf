package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

// CreateConnectionIfNoActive inserts c unless a pending or accepted connection
// already exists for the unordered pair, in which case ErrConflict is
// returned and nothing is written.
func (s *Store) CreateConnectionIfNoActive(ctx context.Context, c *models.Connection) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if c.ID == "" || !c.Status.Active() {
		return fmt.Errorf("create connection: id and an active status are required")
	}
	unlock := s.locks.Lock(keys.GenPairLock(c.Requester, c.Recipient))
	defer unlock()

	pairKey := keys.GenPairKey(c.Requester, c.Recipient)
	existing, err := s.getString(pairKey)
	switch {
	case err == nil:
		logger.Debug("connection_pair_taken", "pair", pairKey, "existing", existing)
		return ErrConflict
	case !errors.Is(err, ErrNotFound):
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, keys.GenConnectionKey(c.ID), c); err != nil {
		return err
	}
	if err := b.Set([]byte(pairKey), []byte(c.ID), nil); err != nil {
		return err
	}
	if err := s.indexMembers(b, c); err != nil {
		return err
	}
	return s.commit(b, "create_connection")
}

func (s *Store) indexMembers(b *pebble.Batch, c *models.Connection) error {
	if err := b.Set([]byte(keys.GenUserConnectionKey(c.Requester, c.ID)), nil, nil); err != nil {
		return err
	}
	return b.Set([]byte(keys.GenUserConnectionKey(c.Recipient, c.ID)), nil, nil)
}

func (s *Store) unindexMembers(b *pebble.Batch, c *models.Connection) error {
	if err := b.Delete([]byte(keys.GenUserConnectionKey(c.Requester, c.ID)), nil); err != nil {
		return err
	}
	return b.Delete([]byte(keys.GenUserConnectionKey(c.Recipient, c.ID)), nil)
}

// GetConnection loads one connection by id.
func (s *Store) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var c models.Connection
	if err := s.getJSON(keys.GenConnectionKey(id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindActiveConnection returns the pending or accepted connection between a
// and b, in either direction.
func (s *Store) FindActiveConnection(ctx context.Context, a, b string) (*models.Connection, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	id, err := s.getString(keys.GenPairKey(a, b))
	if err != nil {
		return nil, err
	}
	return s.GetConnection(ctx, id)
}

// lockConnection reads connection id to learn its parties, then takes the
// pair and both user locks and re-reads the current version.
func (s *Store) lockConnection(ctx context.Context, id string) (*models.Connection, func(), error) {
	first, err := s.GetConnection(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.locks.Lock(
		keys.GenPairLock(first.Requester, first.Recipient),
		keys.GenUserLock(first.Requester),
		keys.GenUserLock(first.Recipient),
	)
	cur, err := s.GetConnection(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return cur, unlock, nil
}

// TransitionConnection moves a pending connection matching f to status to.
// Accepting increments both users' totalConnections in the same batch.
// Declining releases the pair so a new request may follow.
func (s *Store) TransitionConnection(ctx context.Context, id string, f ConnectionFilter, to models.ConnectionStatus) (*models.Connection, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if to != models.StatusAccepted && to != models.StatusDeclined {
		return nil, fmt.Errorf("transition connection: unsupported target status %q", to)
	}
	cur, unlock, err := s.lockConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if cur.Status != models.StatusPending || !f.Match(cur) {
		return nil, ErrConditionFailed
	}

	now := timeutil.Now()
	cur.Status = to
	cur.UpdatedAt = now

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, keys.GenConnectionKey(cur.ID), cur); err != nil {
		return nil, err
	}
	switch to {
	case models.StatusAccepted:
		if err := s.adjustConnections(b, cur.Requester, 1); err != nil {
			return nil, err
		}
		if err := s.adjustConnections(b, cur.Recipient, 1); err != nil {
			return nil, err
		}
	case models.StatusDeclined:
		if err := b.Delete([]byte(keys.GenPairKey(cur.Requester, cur.Recipient)), nil); err != nil {
			return nil, err
		}
		if err := b.Set([]byte(keys.GenDeclinedKey(now.UnixNano(), cur.ID)), nil, nil); err != nil {
			return nil, err
		}
	}
	if err := s.commit(b, "connection_"+string(to)); err != nil {
		return nil, err
	}
	return cur, nil
}

// DeleteConnection removes the connection matching f. Removing an accepted
// connection decrements both users' totalConnections, floored at zero.
func (s *Store) DeleteConnection(ctx context.Context, id string, f ConnectionFilter) (*models.Connection, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	cur, unlock, err := s.lockConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !f.Match(cur) {
		return nil, ErrConditionFailed
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(keys.GenConnectionKey(cur.ID)), nil); err != nil {
		return nil, err
	}
	if err := s.unindexMembers(b, cur); err != nil {
		return nil, err
	}
	switch cur.Status {
	case models.StatusAccepted:
		if err := s.adjustConnections(b, cur.Requester, -1); err != nil {
			return nil, err
		}
		if err := s.adjustConnections(b, cur.Recipient, -1); err != nil {
			return nil, err
		}
		fallthrough
	case models.StatusPending:
		if err := b.Delete([]byte(keys.GenPairKey(cur.Requester, cur.Recipient)), nil); err != nil {
			return nil, err
		}
	case models.StatusDeclined:
		if err := b.Delete([]byte(keys.GenDeclinedKey(cur.UpdatedAt.UnixNano(), cur.ID)), nil); err != nil {
			return nil, err
		}
	}
	if err := s.commit(b, "delete_connection"); err != nil {
		return nil, err
	}
	return cur, nil
}

// ListConnections returns userID's connections matching f, oldest first.
func (s *Store) ListConnections(ctx context.Context, userID string, f ConnectionFilter) ([]*models.Connection, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var ids []string
	err := s.scanPrefix(keys.GenUserConnectionPrefix(userID), func(k, _ []byte) error {
		_, connID, err := keys.ParseUserConnectionKey(string(k))
		if err != nil {
			logger.Warn("user_connection_key_invalid", "key", string(k), "error", err)
			return nil
		}
		ids = append(ids, connID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan connections of %s: %w", userID, err)
	}
	out := make([]*models.Connection, 0, len(ids))
	for _, id := range ids {
		var c models.Connection
		if err := s.getJSON(keys.GenConnectionKey(id), &c); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if f.Match(&c) {
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListDeclinedBefore returns up to limit declined connections whose decline
// time is before cutoff, oldest first. limit <= 0 means no limit.
func (s *Store) ListDeclinedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Connection, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*models.Connection
	stop := errors.New("stop")
	err := s.scanPrefix(keys.DeclinedPrefix, func(k, _ []byte) error {
		ts, id, err := keys.ParseDeclinedKey(string(k))
		if err != nil {
			logger.Warn("declined_key_invalid", "key", string(k), "error", err)
			return nil
		}
		if ts >= cutoff.UnixNano() {
			return stop
		}
		var c models.Connection
		if err := s.getJSON(keys.GenConnectionKey(id), &c); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			return stop
		}
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return nil, err
	}
	return out, nil
}
