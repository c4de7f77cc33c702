// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout:
//
//	audit_user:<userID>:<padded unixnano>:<recordID> -> Record JSON
//	audit_sess:<token>:<padded unixnano>:<recordID>  -> primary key
//
// The primary key embeds the timestamp so a reverse prefix scan yields
// newest-first ordering without an in-memory sort.
const (
	auditUserKeyPrefix    = "audit_user:"
	auditSessionKeyPrefix = "audit_sess:"
)

// BadgerStore implements Store using BadgerDB for durable storage.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed audit store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// userKey builds the primary key for a record.
func userKey(rec *Record) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", auditUserKeyPrefix, rec.UserID, rec.CreatedAt.UnixNano(), rec.ID))
}

// sessionKey builds the session index key for a record.
func sessionKey(rec *Record) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", auditSessionKeyPrefix, rec.SessionToken, rec.CreatedAt.UnixNano(), rec.ID))
}

// Append persists a new record in its own transaction.
func (s *BadgerStore) Append(ctx context.Context, rec *Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.AppendTxn(txn, rec)
	})
}

// AppendTxn writes a record inside an existing transaction. The session
// store uses this to make a trust mutation and its audit record one unit.
func (s *BadgerStore) AppendTxn(txn *badger.Txn, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	primary := userKey(rec)
	if err := txn.Set(primary, data); err != nil {
		return fmt.Errorf("set audit record: %w", err)
	}
	if rec.SessionToken != "" {
		if err := txn.Set(sessionKey(rec), primary); err != nil {
			return fmt.Errorf("set audit session index: %w", err)
		}
	}
	return nil
}

// Query returns records matching the filter, newest first.
func (s *BadgerStore) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	var out []*Record

	err := s.db.View(func(txn *badger.Txn) error {
		if filter.SessionToken != "" && filter.UserID == "" {
			return s.querySessionIndex(txn, filter, &out)
		}
		return s.queryUserPrefix(txn, filter, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// queryUserPrefix scans the primary keyspace in reverse (newest first).
func (s *BadgerStore) queryUserPrefix(txn *badger.Txn, filter Filter, out *[]*Record) error {
	prefix := []byte(auditUserKeyPrefix)
	if filter.UserID != "" {
		prefix = []byte(auditUserKeyPrefix + filter.UserID + ":")
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	// Reverse iteration must seek past the last key sharing the prefix.
	seek := append(append([]byte{}, prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		var rec Record
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return fmt.Errorf("unmarshal audit record: %w", err)
		}
		if !matches(&rec, filter) {
			continue
		}
		cp := rec
		*out = append(*out, &cp)
		if filter.Limit > 0 && len(*out) >= filter.Limit {
			return nil
		}
	}
	return nil
}

// querySessionIndex resolves records through the session index.
func (s *BadgerStore) querySessionIndex(txn *badger.Txn, filter Filter, out *[]*Record) error {
	prefix := []byte(auditSessionKeyPrefix + filter.SessionToken + ":")

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		var primary []byte
		err := it.Item().Value(func(val []byte) error {
			primary = append([]byte{}, val...)
			return nil
		})
		if err != nil {
			return err
		}

		item, err := txn.Get(primary)
		if err != nil {
			// Record aged out between index and primary read.
			continue
		}
		var rec Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("unmarshal audit record: %w", err)
		}
		if !matches(&rec, filter) {
			continue
		}
		cp := rec
		*out = append(*out, &cp)
		if filter.Limit > 0 && len(*out) >= filter.Limit {
			return nil
		}
	}
	return nil
}

// CountSince returns the number of matching records since the given time.
func (s *BadgerStore) CountSince(ctx context.Context, userID string, actions []Action, since time.Time) (int, error) {
	recs, err := s.Query(ctx, Filter{UserID: userID, Actions: actions, Since: since})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// CleanupExpired removes records older than the cutoff.
func (s *BadgerStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int, error) {
	var expired [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(auditUserKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				continue
			}
			if rec.CreatedAt.Before(cutoff) {
				expired = append(expired, it.Item().KeyCopy(nil))
				if rec.SessionToken != "" {
					expired = append(expired, sessionKey(&rec))
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range expired {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err == nil {
			removed++
		}
	}
	return removed, nil
}
