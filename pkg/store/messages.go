package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
)

// CreateMessage persists m and its conversation index entry. m.ID and
// m.CreatedAt must be set.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		return fmt.Errorf("create message: id and createdAt are required")
	}
	unlock := s.locks.Lock(keys.GenConversationLock(m.Sender, m.Recipient))
	defer unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, keys.GenMessageKey(m.ID), m); err != nil {
		return err
	}
	idx := keys.GenConversationKey(m.Sender, m.Recipient, m.CreatedAt.UnixNano(), m.ID)
	if err := b.Set([]byte(idx), []byte(m.ID), nil); err != nil {
		return err
	}
	return s.commit(b, "create_message")
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var m models.Message
	if err := s.getJSON(keys.GenMessageKey(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessage applies mutate to the current version of message id under the
// conversation lock. A non-nil error from mutate aborts without writing and is
// returned unchanged.
func (s *Store) UpdateMessage(ctx context.Context, id string, mutate func(*models.Message) error) (*models.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	// sender and recipient never change, so the first read picks the lock
	first, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(keys.GenConversationLock(first.Sender, first.Recipient))
	defer unlock()

	cur, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(cur); err != nil {
		return nil, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, keys.GenMessageKey(id), cur); err != nil {
		return nil, err
	}
	if err := s.commit(b, "update_message"); err != nil {
		return nil, err
	}
	return cur, nil
}

// DeleteMessage removes message id when cond accepts it. The deleted message
// is returned.
func (s *Store) DeleteMessage(ctx context.Context, id string, cond func(*models.Message) error) (*models.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	first, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(keys.GenConversationLock(first.Sender, first.Recipient))
	defer unlock()

	cur, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if cond != nil {
		if err := cond(cur); err != nil {
			return nil, err
		}
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(keys.GenMessageKey(id)), nil); err != nil {
		return nil, err
	}
	idx := keys.GenConversationKey(cur.Sender, cur.Recipient, cur.CreatedAt.UnixNano(), cur.ID)
	if err := b.Delete([]byte(idx), nil); err != nil {
		return nil, err
	}
	if err := s.commit(b, "delete_message"); err != nil {
		return nil, err
	}
	return cur, nil
}

// ListMessages returns the messages matching f in creation order.
func (s *Store) ListMessages(ctx context.Context, f MessageFilter) ([]*models.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.listConversation(f.Sender, f.Recipient)
}

func (s *Store) listConversation(sender, recipient string) ([]*models.Message, error) {
	var ids []string
	err := s.scanPrefix(keys.GenConversationPrefix(sender, recipient), func(_, v []byte) error {
		ids = append(ids, string(v))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan conversation %s->%s: %w", sender, recipient, err)
	}
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		var m models.Message
		if err := s.getJSON(keys.GenMessageKey(id), &m); err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Warn("conversation_index_dangling", "message_id", id)
				continue
			}
			return nil, err
		}
		out = append(out, &m)
	}
	return out, nil
}

// MarkMessages flips flag false→true on every message matching f in one batch
// and returns the full matching set afterwards, in creation order. Calling it
// again is a no-op that returns the same set.
func (s *Store) MarkMessages(ctx context.Context, f MessageFilter, flag MessageFlag) ([]*models.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(keys.GenConversationLock(f.Sender, f.Recipient))
	defer unlock()

	msgs, err := s.listConversation(f.Sender, f.Recipient)
	if err != nil {
		return nil, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	changed := 0
	for _, m := range msgs {
		if !flag.set(m) {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		if err := b.Set([]byte(keys.GenMessageKey(m.ID)), data, nil); err != nil {
			return nil, err
		}
		changed++
	}
	if changed > 0 {
		if err := s.commit(b, "mark_"+flag.String()); err != nil {
			return nil, err
		}
	}
	logger.Debug("messages_marked", "flag", flag.String(), "sender", f.Sender, "recipient", f.Recipient, "changed", changed, "total", len(msgs))
	return msgs, nil
}

// DeleteConversation removes every message between a and b in both
// directions and returns how many were removed.
func (s *Store) DeleteConversation(ctx context.Context, a, b string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	unlock := s.locks.Lock(keys.GenConversationLock(a, b), keys.GenConversationLock(b, a))
	defer unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	removed := 0
	directions := [][2]string{{a, b}}
	if a != b {
		directions = append(directions, [2]string{b, a})
	}
	for _, d := range directions {
		err := s.scanPrefix(keys.GenConversationPrefix(d[0], d[1]), func(k, v []byte) error {
			if err := batch.Delete([]byte(keys.GenMessageKey(string(v))), nil); err != nil {
				return err
			}
			removed++
			return batch.Delete(append([]byte(nil), k...), nil)
		})
		if err != nil {
			return 0, fmt.Errorf("scan conversation %s->%s: %w", d[0], d[1], err)
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.commit(batch, "delete_conversation"); err != nil {
		return 0, err
	}
	return removed, nil
}

// History returns both directions between a and b merged by creation time.
func (s *Store) History(ctx context.Context, a, b string) ([]*models.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	ab, err := s.listConversation(a, b)
	if err != nil {
		return nil, err
	}
	if a == b {
		return ab, nil
	}
	ba, err := s.listConversation(b, a)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Message, 0, len(ab)+len(ba))
	i, j := 0, 0
	for i < len(ab) && j < len(ba) {
		if !ba[j].CreatedAt.Before(ab[i].CreatedAt) {
			out = append(out, ab[i])
			i++
		} else {
			out = append(out, ba[j])
			j++
		}
	}
	out = append(out, ab[i:]...)
	out = append(out, ba[j:]...)
	return out, nil
}
