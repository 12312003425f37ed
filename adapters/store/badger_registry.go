package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
)

const (
	badgerSessionPrefix = "s/"
	badgerOwnerPrefix   = "o/"

	// maxConflictRetries bounds optimistic transaction retries on ErrConflict
	maxConflictRetries = 8

	// deleteBatchSize keeps janitor transactions below badger's size limit
	deleteBatchSize = 500
)

// BadgerRegistry implements ports.SessionRegistry on an embedded badger database.
// Records are stored as JSON under s/{id}; o/{owner}\x00{id} indexes them by owner.
type BadgerRegistry struct {
	db *badger.DB
}

// OpenBadger opens a badger database at path, or an in-memory one when path is empty
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return db, nil
}

// NewBadgerRegistry creates a new badger-backed session registry
func NewBadgerRegistry(db *badger.DB) *BadgerRegistry {
	return &BadgerRegistry{db: db}
}

var _ ports.SessionRegistry = (*BadgerRegistry)(nil)

type badgerRecord struct {
	ID         string    `json:"id"`
	SecretHash string    `json:"secret_hash"`
	OwnerID    string    `json:"owner_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
}

func toBadgerRecord(rec *core.SessionRecord) badgerRecord {
	return badgerRecord{
		ID:         rec.ID,
		SecretHash: rec.SecretHash,
		OwnerID:    rec.OwnerID,
		ExpiresAt:  rec.ExpiresAt,
		Revoked:    rec.Revoked,
		CreatedAt:  rec.CreatedAt,
	}
}

func (r badgerRecord) toCore() core.SessionRecord {
	return core.SessionRecord{
		ID:         r.ID,
		SecretHash: r.SecretHash,
		OwnerID:    r.OwnerID,
		ExpiresAt:  r.ExpiresAt,
		Revoked:    r.Revoked,
		CreatedAt:  r.CreatedAt,
	}
}

func sessionKey(id string) []byte { return []byte(badgerSessionPrefix + id) }

func ownerPrefix(owner string) []byte { return []byte(badgerOwnerPrefix + owner + "\x00") }

func ownerKey(owner, id string) []byte { return append(ownerPrefix(owner), id...) }

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction touched the same keys.
func (s *BadgerRegistry) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getRecord(txn *badger.Txn, id string) (badgerRecord, error) {
	var rec badgerRecord

	item, err := txn.Get(sessionKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return rec, core.ErrSessionNotFound
		}
		return rec, err
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putRecord(txn *badger.Txn, rec badgerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(sessionKey(rec.ID), data)
}

// Create stores a new record and its owner index entry
func (s *BadgerRegistry) Create(ctx context.Context, rec *core.SessionRecord) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(rec.ID)); err == nil {
			return fmt.Errorf("session %s already exists", rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putRecord(txn, toBadgerRecord(rec)); err != nil {
			return err
		}
		return txn.Set(ownerKey(rec.OwnerID, rec.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FindByID loads a record by id
func (s *BadgerRegistry) FindByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	var rec badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	out := rec.toCore()
	return &out, nil
}

// MarkRevoked flips Revoked in an optimistic transaction. A concurrent
// revoke of the same id forces a retry, which then observes Revoked=true.
func (s *BadgerRegistry) MarkRevoked(ctx context.Context, id string) (bool, error) {
	var flipped bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		flipped = false
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Revoked {
			return nil
		}
		rec.Revoked = true
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		flipped = true
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}

	return flipped, nil
}

// RevokeAllByOwner revokes every non-revoked record in the owner index
func (s *BadgerRegistry) RevokeAllByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.update(ctx, func(txn *badger.Txn) error {
		count = 0
		ids := ownerIDs(txn, ownerID)
		for _, id := range ids {
			rec, err := getRecord(txn, id)
			if errors.Is(err, core.ErrSessionNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if rec.Revoked {
				continue
			}
			rec.Revoked = true
			if err := putRecord(txn, rec); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke owner sessions: %w", err)
	}

	return count, nil
}

// DeleteExpired scans all records and deletes those with ExpiresAt before now
func (s *BadgerRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var expired []badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerSessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec badgerRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.ExpiresAt.Before(now) {
				expired = append(expired, rec)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}

	deleted := 0
	for start := 0; start < len(expired); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(expired) {
			end = len(expired)
		}
		batch := expired[start:end]

		var n int
		err := s.update(ctx, func(txn *badger.Txn) error {
			n = 0
			for _, rec := range batch {
				if _, err := txn.Get(sessionKey(rec.ID)); errors.Is(err, badger.ErrKeyNotFound) {
					continue
				} else if err != nil {
					return err
				}
				if err := txn.Delete(sessionKey(rec.ID)); err != nil {
					return err
				}
				if err := txn.Delete(ownerKey(rec.OwnerID, rec.ID)); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		deleted += n
	}

	return deleted, nil
}

// ListActiveByOwner returns the owner's usable records, newest first
func (s *BadgerRegistry) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]core.SessionRecord, error) {
	out := []core.SessionRecord{}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ownerIDs(txn, ownerID) {
			rec, err := getRecord(txn, id)
			if errors.Is(err, core.ErrSessionNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if c := rec.toCore(); c.Active(now) {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list owner sessions: %w", err)
	}
	sortNewestFirst(out)

	return out, nil
}

func ownerIDs(txn *badger.Txn, ownerID string) []string {
	prefix := ownerPrefix(ownerID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, string(it.Item().Key()[len(prefix):]))
	}
	return ids
}
