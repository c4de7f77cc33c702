// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/errs"
)

// Key prefixes for BadgerDB storage.
const (
	sessionKeyPrefix     = "sess:"
	sessionUserKeyPrefix = "sess_user:"
)

// BadgerStore implements Repository using BadgerDB for durable storage.
// Badger's serializable transactions carry the update+audit unit; the
// version field on the session provides the compare-and-swap the trust
// manager retries on.
type BadgerStore struct {
	db       *badger.DB
	auditlog *audit.BadgerStore
}

// NewBadgerStore creates a new BadgerDB-backed session store. The audit
// store must share the same DB so UpdateWithAudit is one transaction.
func NewBadgerStore(db *badger.DB, auditlog *audit.BadgerStore) *BadgerStore {
	return &BadgerStore{db: db, auditlog: auditlog}
}

// sessionKey builds the primary key for a token.
func sessionKey(token string) []byte {
	return []byte(sessionKeyPrefix + token)
}

// userIndexKey builds the per-user index key for a session.
func userIndexKey(userID, token string) []byte {
	return []byte(sessionUserKeyPrefix + userID + ":" + token)
}

// Create stores a new session.
func (s *BadgerStore) Create(ctx context.Context, sess *Session) error {
	if sess.Token == "" {
		return errs.InvalidInputf("session token is empty")
	}
	if sess.UserID == "" {
		return errs.InvalidInputf("user id is empty")
	}
	if sess.Version == 0 {
		sess.Version = 1
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sess.Token)); err == nil {
			return fmt.Errorf("session already exists")
		}
		if err := txn.Set(sessionKey(sess.Token), data); err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		if err := txn.Set(userIndexKey(sess.UserID, sess.Token), []byte(sess.Token)); err != nil {
			return fmt.Errorf("set user index: %w", err)
		}
		return nil
	})
	return mapBadgerErr(err)
}

// Get retrieves a session by token.
func (s *BadgerStore) Get(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		return s.getTxn(txn, token, &sess)
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &sess, nil
}

// getTxn reads a session inside a transaction.
func (s *BadgerStore) getTxn(txn *badger.Txn, token string, sess *Session) error {
	item, err := txn.Get(sessionKey(token))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errs.NotFoundf("session")
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, sess)
	})
}

// ListActive returns a user's active sessions, newest activity first.
func (s *BadgerStore) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	var out []*Session

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(sessionUserKeyPrefix + userID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var token string
			if err := it.Item().Value(func(val []byte) error {
				token = string(val)
				return nil
			}); err != nil {
				return err
			}

			var sess Session
			if err := s.getTxn(txn, token, &sess); err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					// Session removed between index and primary read.
					continue
				}
				return err
			}
			if sess.IsExpired() || sess.Revoked {
				continue
			}
			cp := sess
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// Update applies the patch under a version check.
func (s *BadgerStore) Update(ctx context.Context, token string, patch Patch, expectedVersion uint64) (*Session, error) {
	return s.update(ctx, token, patch, expectedVersion, nil)
}

// UpdateWithAudit applies the patch and appends the audit record in one
// transaction. If either write fails, neither happens.
func (s *BadgerStore) UpdateWithAudit(ctx context.Context, token string, patch Patch, expectedVersion uint64, rec *audit.Record) (*Session, error) {
	if rec == nil {
		return nil, errs.InvalidInputf("audit record is required")
	}
	return s.update(ctx, token, patch, expectedVersion, rec)
}

// update is the shared CAS write path.
func (s *BadgerStore) update(ctx context.Context, token string, patch Patch, expectedVersion uint64, rec *audit.Record) (*Session, error) {
	var updated Session

	err := s.db.Update(func(txn *badger.Txn) error {
		var sess Session
		if err := s.getTxn(txn, token, &sess); err != nil {
			return err
		}
		if sess.Version != expectedVersion {
			return fmt.Errorf("%w: have %d, expected %d", errs.ErrConflictRetryable, sess.Version, expectedVersion)
		}

		patch.Apply(&sess)
		sess.Version++

		data, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		if err := txn.Set(sessionKey(token), data); err != nil {
			return fmt.Errorf("set session: %w", err)
		}

		if rec != nil {
			if err := s.auditlog.AppendTxn(txn, rec); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrAuditWriteFailed, err)
			}
		}

		updated = sess
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &updated, nil
}

// CountCreatedSince counts sessions the user created after the given time.
func (s *BadgerStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(sessionUserKeyPrefix + userID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var token string
			if err := it.Item().Value(func(val []byte) error {
				token = string(val)
				return nil
			}); err != nil {
				return err
			}
			var sess Session
			if err := s.getTxn(txn, token, &sess); err != nil {
				continue
			}
			if sess.CreatedAt.After(since) {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, mapBadgerErr(err)
	}
	return count, nil
}

// Touch updates the session's last-activity time without a version check.
// Activity tracking tolerates lost updates; trust fields do not go through
// this path.
func (s *BadgerStore) Touch(ctx context.Context, token string, at time.Time) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var sess Session
		if err := s.getTxn(txn, token, &sess); err != nil {
			return err
		}
		sess.LastActivityAt = at

		data, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		return txn.Set(sessionKey(token), data)
	})
	return mapBadgerErr(err)
}

// CleanupExpired removes expired sessions and their user index entries.
func (s *BadgerStore) CleanupExpired(ctx context.Context) (int, error) {
	type expired struct {
		token  string
		userID string
	}
	var victims []expired

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sess Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil {
				continue
			}
			if sess.IsExpired() {
				victims = append(victims, expired{token: sess.Token, userID: sess.UserID})
			}
		}
		return nil
	})
	if err != nil {
		return 0, mapBadgerErr(err)
	}

	count := 0
	for _, v := range victims {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(sessionKey(v.token)); err != nil {
				return err
			}
			return txn.Delete(userIndexKey(v.userID, v.token))
		})
		if err == nil {
			count++
		}
	}
	return count, nil
}

// mapBadgerErr normalizes badger transaction conflicts onto the shared
// error taxonomy so callers can retry uniformly.
func mapBadgerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: transaction conflict", errs.ErrConflictRetryable)
	}
	return err
}
