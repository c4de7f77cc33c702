// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package conflict

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/gravelight/sessionguard/internal/errs"
)

// Key layout:
//
//	conflict:<recordID>                 -> Record JSON
//	conflict_user:<userID>:<recordID>   -> primary key
//	conflict_open:<recordID>            -> empty (present while unresolved)
//
// The open index makes CountUnresolved a prefix scan instead of a full
// table walk.
const (
	conflictKeyPrefix     = "conflict:"
	conflictUserKeyPrefix = "conflict_user:"
	conflictOpenKeyPrefix = "conflict_open:"
)

// BadgerStore implements Store using BadgerDB for durable storage.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed conflict store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func recordKey(id string) []byte {
	return []byte(conflictKeyPrefix + id)
}

func userIndexKey(userID, id string) []byte {
	return []byte(conflictUserKeyPrefix + userID + ":" + id)
}

func openIndexKey(id string) []byte {
	return []byte(conflictOpenKeyPrefix + id)
}

// Save persists a record, replacing any existing record with the same ID
// and keeping the open index in step with the resolution state.
func (s *BadgerStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errs.InvalidInputf("conflict record requires an id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal conflict record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return fmt.Errorf("set conflict record: %w", err)
		}
		if err := txn.Set(userIndexKey(rec.UserID, rec.ID), recordKey(rec.ID)); err != nil {
			return fmt.Errorf("set conflict user index: %w", err)
		}
		if rec.Resolution == ResolutionUnresolved {
			return txn.Set(openIndexKey(rec.ID), nil)
		}
		err := txn.Delete(openIndexKey(rec.ID))
		if err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("delete conflict open index: %w", err)
		}
		return nil
	})
}

// Get retrieves a record by ID.
func (s *BadgerStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errs.NotFoundf("conflict %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict record: %w", err)
	}

	return &rec, nil
}

// ListByUser returns a user's records, newest first.
func (s *BadgerStore) ListByUser(ctx context.Context, userID string, unresolvedOnly bool) ([]*Record, error) {
	out := make([]*Record, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(conflictUserKeyPrefix + userID + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var primary []byte
			if err := it.Item().Value(func(val []byte) error {
				primary = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(primary)
			if err == badger.ErrKeyNotFound {
				// Index row survived a record that was removed; skip.
				continue
			}
			if err != nil {
				return err
			}

			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}

			if unresolvedOnly && rec.Resolution != ResolutionUnresolved {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}

	sortNewestFirst(out)
	return out, nil
}

// CountUnresolved returns the number of unresolved records.
func (s *BadgerStore) CountUnresolved(ctx context.Context) (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(conflictOpenKeyPrefix)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count unresolved conflicts: %w", err)
	}

	return count, nil
}
