// Package registry provides token registries: an in-memory registry for
// development and tests, and an ERC-721 contract client.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// Memory is an in-process token registry.
type Memory struct {
	mu     sync.RWMutex
	owners map[uint64]domain.Principal
	minter domain.Principal
}

// NewMemory returns an empty registry. minter is allowed to mint tokens.
func NewMemory(minter domain.Principal) *Memory {
	return &Memory{
		owners: make(map[uint64]domain.Principal),
		minter: minter,
	}
}

// Mint creates tokenID owned by owner.
func (m *Memory) Mint(caller domain.Principal, tokenID uint64, owner domain.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.minter {
		return fmt.Errorf("registry: mint: %w", domain.ErrUnauthorized)
	}
	if _, ok := m.owners[tokenID]; ok {
		return fmt.Errorf("registry: mint token %d: %w", tokenID, domain.ErrAlreadyExists)
	}
	m.owners[tokenID] = owner
	return nil
}

// OwnerOf implements domain.TokenRegistry.
func (m *Memory) OwnerOf(_ context.Context, tokenID uint64) (domain.Principal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[tokenID]
	return owner, ok, nil
}

// Transfer implements domain.TokenRegistry.
func (m *Memory) Transfer(_ context.Context, tokenID uint64, from, to domain.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[tokenID]
	if !ok {
		return fmt.Errorf("registry: token %d: %w", tokenID, domain.ErrNotFound)
	}
	if owner != from {
		return fmt.Errorf("registry: token %d held by %s: %w", tokenID, owner.Hex(), domain.ErrNotOwner)
	}
	m.owners[tokenID] = to
	return nil
}

// TokensOf lists the tokens held by owner in ascending order.
func (m *Memory) TokensOf(owner domain.Principal) []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uint64
	for id, p := range m.owners {
		if p == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
