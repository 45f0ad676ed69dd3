// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and short-lived
// processes where persistence is not required.
package memory

import (
	"context"
	"sync"

	"github.com/giantswarm/mcp-oauth-client/storage"
)

// Store is an in-memory implementation of storage.Store. All operations are
// safe for concurrent use, and records are copied on save and load so
// callers cannot alias the store's internal state.
type Store struct {
	mu      sync.RWMutex
	tokens  map[storage.Key]*storage.TokenRecord
	clients map[storage.Key]*storage.ClientRegistration
}

// Compile-time interface checks
var (
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tokens:  make(map[storage.Key]*storage.TokenRecord),
		clients: make(map[storage.Key]*storage.ClientRegistration),
	}
}

// SaveTokens implements storage.TokenStore.
func (s *Store) SaveTokens(ctx context.Context, key storage.Key, record *storage.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = record.Clone()
	return nil
}

// LoadTokens implements storage.TokenStore.
func (s *Store) LoadTokens(ctx context.Context, key storage.Key) (*storage.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tokens[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record.Clone(), nil
}

// DeleteTokens implements storage.TokenStore.
func (s *Store) DeleteTokens(ctx context.Context, key storage.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}

// SaveClient implements storage.ClientStore.
func (s *Store) SaveClient(ctx context.Context, key storage.Key, reg *storage.ClientRegistration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[key] = cloneRegistration(reg)
	return nil
}

// LoadClient implements storage.ClientStore.
func (s *Store) LoadClient(ctx context.Context, key storage.Key) (*storage.ClientRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.clients[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRegistration(reg), nil
}

// DeleteClient implements storage.ClientStore.
func (s *Store) DeleteClient(ctx context.Context, key storage.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, key)
	return nil
}

func cloneRegistration(reg *storage.ClientRegistration) *storage.ClientRegistration {
	if reg == nil {
		return nil
	}
	c := *reg
	c.RedirectURIs = append([]string(nil), reg.RedirectURIs...)
	c.GrantTypes = append([]string(nil), reg.GrantTypes...)
	c.ResponseTypes = append([]string(nil), reg.ResponseTypes...)
	return &c
}
