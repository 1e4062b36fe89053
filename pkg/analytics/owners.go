package analytics

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type ownerEntry struct {
	tenantID string
	found    bool
}

// OwnerMemo is an OwnershipStore that resolves each content at most once.
// One memo is shared by every tenant rollup of a scheduler run, so a run asks
// the ownership store once per active content instead of once per tenant.
// Failed lookups are not remembered.
type OwnerMemo struct {
	store OwnershipStore

	mu     sync.RWMutex
	owners map[ContentRef]ownerEntry
	group  singleflight.Group
}

// NewOwnerMemo wraps store
func NewOwnerMemo(store OwnershipStore) *OwnerMemo {
	return &OwnerMemo{
		store:  store,
		owners: make(map[ContentRef]ownerEntry),
	}
}

// FindOwnerTenant implements OwnershipStore
func (m *OwnerMemo) FindOwnerTenant(ctx context.Context, contentType ContentType, contentID string) (string, bool, error) {
	ref := ContentRef{Type: contentType, ID: contentID}

	m.mu.RLock()
	entry, ok := m.owners[ref]
	m.mu.RUnlock()
	if ok {
		return entry.tenantID, entry.found, nil
	}

	v, err, _ := m.group.Do(ref.String(), func() (interface{}, error) {
		m.mu.RLock()
		entry, ok := m.owners[ref]
		m.mu.RUnlock()
		if ok {
			return entry, nil
		}

		tenantID, found, err := m.store.FindOwnerTenant(ctx, contentType, contentID)
		if err != nil {
			return nil, err
		}
		entry = ownerEntry{tenantID: tenantID, found: found}

		m.mu.Lock()
		m.owners[ref] = entry
		m.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return "", false, err
	}
	entry = v.(ownerEntry)
	return entry.tenantID, entry.found, nil
}

// Len returns the number of remembered lookups
func (m *OwnerMemo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners)
}
