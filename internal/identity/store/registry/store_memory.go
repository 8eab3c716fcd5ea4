package registry

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"govsign/internal/identity/models"
	"govsign/pkg/platform/sentinel"
)

// InMemoryRegistry holds identity records keyed by NIC.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]*models.Identity
}

func New() *InMemoryRegistry {
	return &InMemoryRegistry{entries: make(map[string]*models.Identity)}
}

func (r *InMemoryRegistry) FindByNIC(_ context.Context, nic string) (*models.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.entries[nic]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return identity.Clone(), nil
}

// Upsert replaces the record for identity.NIC.
func (r *InMemoryRegistry) Upsert(_ context.Context, identity *models.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[identity.NIC] = identity.Clone()
	return nil
}

// SetPasswordIfAbsent records a citizen's password exactly once. A NIC with no record
// is a bare citizen and gets one. Returns sentinel.ErrConflict when the record already
// has a password or is not a citizen.
func (r *InMemoryRegistry) SetPasswordIfAbsent(_ context.Context, nic string, hash []byte, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.entries[nic]
	if !ok {
		identity = models.NewCitizen(nic)
	}
	if err := identity.CanSetPassword(); err != nil {
		return fmt.Errorf("nic %s: %w", nic, sentinel.ErrConflict)
	}
	updated := identity.Clone()
	updated.ApplyPassword(hash, now)
	r.entries[nic] = updated
	return nil
}

// ClearPasswordIfMatches drops the password only while it is still hash.
func (r *InMemoryRegistry) ClearPasswordIfMatches(_ context.Context, nic string, hash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.entries[nic]
	if !ok || !bytes.Equal(identity.PasswordHash, hash) {
		return nil
	}
	updated := identity.Clone()
	updated.PasswordHash = nil
	r.entries[nic] = updated
	return nil
}
