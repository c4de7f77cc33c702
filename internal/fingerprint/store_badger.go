// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package fingerprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/gravelight/sessionguard/internal/errs"
)

// Key prefixes for BadgerDB storage.
const (
	fpKeyPrefix   = "fp:"     // fp:<userID>:<signature> -> Record
	fpOwnerPrefix = "fp_own:" // fp_own:<signature> -> userID
)

// BadgerStore implements Store using BadgerDB. Upserts run inside a single
// transaction keyed by (user, signature), which makes them idempotent under
// the two-tabs-simultaneous-login race.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed fingerprint store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func fpKey(userID, signature string) []byte {
	return []byte(fpKeyPrefix + userID + ":" + signature)
}

func ownerKey(signature string) []byte {
	return []byte(fpOwnerPrefix + signature)
}

// GetBySignature returns the record for (userID, signature).
func (s *BadgerStore) GetBySignature(ctx context.Context, userID, signature string) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fpKey(userID, signature))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.NotFoundf("fingerprint")
		}
		if err != nil {
			return fmt.Errorf("get fingerprint: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByUser returns all of a user's device records.
func (s *BadgerStore) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fpKeyPrefix + userID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("unmarshal fingerprint: %w", err)
			}
			cp := rec
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert writes the record keyed by (userID, signature) in one transaction.
// Existing records keep their identity and trust fields.
func (s *BadgerStore) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	var result Record

	err := s.db.Update(func(txn *badger.Txn) error {
		key := fpKey(rec.UserID, rec.Signature)

		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return fmt.Errorf("unmarshal fingerprint: %w", err)
			}
			existing.Confidence = rec.Confidence
			existing.StableKey = rec.StableKey
			existing.LastSeenAt = rec.LastSeenAt
			result = existing
		case errors.Is(err, badger.ErrKeyNotFound):
			stored := *rec
			if stored.ID == "" {
				stored.ID = uuid.NewString()
			}
			if stored.FirstSeenAt.IsZero() {
				stored.FirstSeenAt = stored.LastSeenAt
			}
			result = stored

			// Claim the signature for collision detection if unclaimed.
			if _, err := txn.Get(ownerKey(rec.Signature)); errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Set(ownerKey(rec.Signature), []byte(rec.UserID)); err != nil {
					return fmt.Errorf("set signature owner: %w", err)
				}
			}
		default:
			return fmt.Errorf("get fingerprint: %w", err)
		}

		data, err := json.Marshal(&result)
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Rekey moves a record to a new signature, preserving its ID.
func (s *BadgerStore) Rekey(ctx context.Context, userID, oldSignature string, updated *Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		oldKey := fpKey(userID, oldSignature)
		if _, err := txn.Get(oldKey); errors.Is(err, badger.ErrKeyNotFound) {
			return errs.NotFoundf("fingerprint")
		} else if err != nil {
			return fmt.Errorf("get fingerprint: %w", err)
		}

		if err := txn.Delete(oldKey); err != nil {
			return fmt.Errorf("delete old fingerprint key: %w", err)
		}

		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		if err := txn.Set(fpKey(userID, updated.Signature), data); err != nil {
			return fmt.Errorf("set fingerprint: %w", err)
		}

		if _, err := txn.Get(ownerKey(updated.Signature)); errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(ownerKey(updated.Signature), []byte(userID)); err != nil {
				return fmt.Errorf("set signature owner: %w", err)
			}
		}
		return nil
	})
}

// SignatureOwner returns the first user that registered the signature.
func (s *BadgerStore) SignatureOwner(ctx context.Context, signature string) (string, error) {
	var owner string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ownerKey(signature))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.NotFoundf("signature")
		}
		if err != nil {
			return fmt.Errorf("get signature owner: %w", err)
		}
		return item.Value(func(val []byte) error {
			owner = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return owner, nil
}

// SetTrusted marks a device trusted or untrusted.
func (s *BadgerStore) SetTrusted(ctx context.Context, userID, fingerprintID string, trusted bool, label string) error {
	records, err := s.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ID != fingerprintID {
			continue
		}
		rec.Trusted = trusted
		if label != "" {
			rec.Label = label
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(fpKey(userID, rec.Signature), data)
		})
	}
	return errs.NotFoundf("fingerprint %s", fingerprintID)
}
