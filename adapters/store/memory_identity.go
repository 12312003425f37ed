package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
)

// MemoryIdentityStore implements ports.IdentityStore using an in-memory map.
// It backs development runs where the bootstrap admin is the only account.
type MemoryIdentityStore struct {
	mu           sync.RWMutex
	byID         map[string]*core.Identity
	byIdentifier map[string]string
}

// NewMemoryIdentityStore creates an identity store seeded with the given identities
func NewMemoryIdentityStore(identities ...core.Identity) (*MemoryIdentityStore, error) {
	s := &MemoryIdentityStore{
		byID:         make(map[string]*core.Identity),
		byIdentifier: make(map[string]string),
	}
	for _, id := range identities {
		if err := s.Add(id); err != nil {
			return nil, err
		}
	}
	return s, nil
}

var _ ports.IdentityStore = (*MemoryIdentityStore)(nil)

// Add registers an identity. The identifier is normalized before indexing.
func (s *MemoryIdentityStore) Add(identity core.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("%w: identity id is required", core.ErrValidation)
	}
	if !identity.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", core.ErrValidation, identity.Role)
	}
	identity.Identifier = core.NormalizeIdentifier(identity.Identifier)
	if identity.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", core.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byIdentifier[identity.Identifier]; exists {
		return fmt.Errorf("identity %s already exists", identity.Identifier)
	}
	s.byID[identity.ID] = &identity
	s.byIdentifier[identity.Identifier] = identity.ID

	return nil
}

// FindByIdentifier returns a copy of the identity with the normalized identifier
func (s *MemoryIdentityStore) FindByIdentifier(ctx context.Context, identifier string) (*core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdentifier[core.NormalizeIdentifier(identifier)]
	if !ok {
		return nil, core.ErrIdentityNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

// FindByID returns a copy of the identity with the given id
func (s *MemoryIdentityStore) FindByID(ctx context.Context, id string) (*core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, core.ErrIdentityNotFound
	}
	cp := *identity
	return &cp, nil
}

// TouchLastAuthenticated records a successful login
func (s *MemoryIdentityStore) TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return core.ErrIdentityNotFound
	}
	at = at.UTC()
	identity.LastAuthenticatedAt = &at

	return nil
}

// SetActive enables or disables an identity
func (s *MemoryIdentityStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return core.ErrIdentityNotFound
	}
	identity.Active = active

	return nil
}

// SetRole changes the role of an identity
func (s *MemoryIdentityStore) SetRole(id string, role core.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", core.ErrValidation, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return core.ErrIdentityNotFound
	}
	identity.Role = role

	return nil
}
