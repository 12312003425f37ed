package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
)

// MemoryRegistry implements ports.SessionRegistry using in-memory maps.
// It is intended for tests and single-process development.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]core.SessionRecord
	byOwner map[string]map[string]struct{}
}

// NewMemoryRegistry creates a new in-memory session registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]core.SessionRecord),
		byOwner: make(map[string]map[string]struct{}),
	}
}

var _ ports.SessionRegistry = (*MemoryRegistry)(nil)

// Create stores a new record
func (s *MemoryRegistry) Create(ctx context.Context, rec *core.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("session %s already exists", rec.ID)
	}

	s.records[rec.ID] = *rec
	ids, ok := s.byOwner[rec.OwnerID]
	if !ok {
		ids = make(map[string]struct{})
		s.byOwner[rec.OwnerID] = ids
	}
	ids[rec.ID] = struct{}{}

	return nil
}

// FindByID returns a copy of the record
func (s *MemoryRegistry) FindByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}

	return &rec, nil
}

// MarkRevoked flips Revoked under the write lock
func (s *MemoryRegistry) MarkRevoked(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, core.ErrSessionNotFound
	}
	if rec.Revoked {
		return false, nil
	}

	rec.Revoked = true
	s.records[id] = rec

	return true, nil
}

// RevokeAllByOwner revokes every non-revoked record of the owner
func (s *MemoryRegistry) RevokeAllByOwner(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id := range s.byOwner[ownerID] {
		rec := s.records[id]
		if rec.Revoked {
			continue
		}
		rec.Revoked = true
		s.records[id] = rec
		count++
	}

	return count, nil
}

// DeleteExpired removes records with ExpiresAt before now
func (s *MemoryRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, rec := range s.records {
		if !rec.Expired(now) {
			continue
		}
		delete(s.records, id)
		if ids := s.byOwner[rec.OwnerID]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.byOwner, rec.OwnerID)
			}
		}
		count++
	}

	return count, nil
}

// ListActiveByOwner returns the owner's usable records, newest first
func (s *MemoryRegistry) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]core.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.SessionRecord, 0, len(s.byOwner[ownerID]))
	for id := range s.byOwner[ownerID] {
		if rec := s.records[id]; rec.Active(now) {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)

	return out, nil
}

// Len returns the number of stored records, revoked or not
func (s *MemoryRegistry) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// Clear removes all data from the registry
func (s *MemoryRegistry) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]core.SessionRecord)
	s.byOwner = make(map[string]map[string]struct{})
}

func sortNewestFirst(recs []core.SessionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
