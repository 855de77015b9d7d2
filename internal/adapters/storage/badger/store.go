// Package badger persists session records in an embedded Badger database.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

const keyPrefix = "session:"

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path. An empty path keeps
// everything in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(id domain.SessionID) []byte {
	return []byte(keyPrefix + string(id))
}

func (s *Store) SaveSession(_ context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return domain.NewValidationError("session_id", "is required")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.ID), data)
	})
}

func (s *Store) GetSession(_ context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", id, err)
	}

	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

func (s *Store) DeleteSession(_ context.Context, id domain.SessionID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		return txn.Delete(key(id))
	})
}
