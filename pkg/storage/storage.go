// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the private key/value store every agent owns.
// Keys are scoped to the agent address; two agents never see each other's
// entries.
package storage

import (
	"context"
	"sync"

	"github.com/jllopis/soundscape/pkg/core"
)

// Store is the private key/value store of one agent.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Provider hands out the store scoped to an address.
type Provider interface {
	For(addr core.Address) Store
}

// MemoryProvider keeps every scope in process memory.
type MemoryProvider struct {
	mu     sync.Mutex
	scopes map[core.Address]*MemoryStore
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{scopes: make(map[core.Address]*MemoryStore)}
}

// For implements Provider.
func (p *MemoryProvider) For(addr core.Address) Store {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[addr]
	if !ok {
		s = NewMemoryStore()
		p.scopes[addr] = s
	}
	return s
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
