package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
	"github.com/iam-i-j-k/backend/pkg/store/locks"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an insert-if-absent finds an existing record.
	ErrConflict = errors.New("store: conflict")
	// ErrConditionFailed is returned when a conditional update finds the record
	// but its current state does not match the filter.
	ErrConditionFailed = errors.New("store: condition failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Options configures Open.
type Options struct {
	// FS overrides the filesystem, vfs.NewMem() in tests.
	FS vfs.FS
	// NoSync commits without fsync. Only for tests and throwaway stores.
	NoSync bool
}

// Store is the pebble-backed document store for messages, connections and
// users. All conditional mutations re-check their condition under keyed locks
// and commit as one atomic batch.
type Store struct {
	db    *pebble.DB
	path  string
	locks *locks.Keyed
	wo    *pebble.WriteOptions
}

// Open opens (or creates) the store at path.
func Open(path string, opts Options) (*Store, error) {
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	db, err := pebble.Open(path, popts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	wo := pebble.Sync
	if opts.NoSync {
		wo = pebble.NoSync
	}
	logger.Info("pebble_opened", "path", path, "sync", !opts.NoSync)
	return &Store{db: db, path: path, locks: locks.New(), wo: wo}, nil
}

// OpenInMemory opens a store on an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return Open("mem", Options{FS: vfs.NewMem(), NoSync: true})
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Flush(); err != nil {
		logger.Error("pebble_flush_failed", "path", s.path, "error", err)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool {
	return s != nil && s.db != nil
}

func (s *Store) check(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return ctx.Err()
}

// getJSON loads key into v, mapping a missing key to ErrNotFound.
func (s *Store) getJSON(key string, v any) error {
	raw, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return err
	}
	defer closer.Close()
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) getString(key string) (string, error) {
	raw, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	defer closer.Close()
	return string(raw), nil
}

func setJSON(b *pebble.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Set([]byte(key), data, nil)
}

func (s *Store) commit(b *pebble.Batch, op string) error {
	if err := b.Commit(s.wo); err != nil {
		logger.Error("batch_commit_failed", "op", op, "error", err)
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	logger.Debug("batch_commit_ok", "op", op, "count", b.Count())
	return nil
}

// scanPrefix calls fn with every key/value under prefix in key order. The
// slices are only valid during the call.
func (s *Store) scanPrefix(prefix string, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keys.PrefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
