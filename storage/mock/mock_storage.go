// Package mock provides a scriptable implementation of the storage
// interfaces for testing. Every operation delegates to an overridable
// function field backed by an in-memory default, and call counts are
// recorded per method.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/mcp-oauth-client/storage"
)

// Store is a mock implementation of storage.Store for testing. Override any
// of the *Func fields to script behavior (e.g. inject errors); the defaults
// behave like an in-memory store.
type Store struct {
	mu      sync.RWMutex
	tokens  map[storage.Key]*storage.TokenRecord
	clients map[storage.Key]*storage.ClientRegistration

	SaveTokensFunc   func(key storage.Key, record *storage.TokenRecord) error
	LoadTokensFunc   func(key storage.Key) (*storage.TokenRecord, error)
	DeleteTokensFunc func(key storage.Key) error
	SaveClientFunc   func(key storage.Key, reg *storage.ClientRegistration) error
	LoadClientFunc   func(key storage.Key) (*storage.ClientRegistration, error)
	DeleteClientFunc func(key storage.Key) error

	countMu    sync.Mutex
	callCounts map[string]int
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// NewStore creates a mock store whose default behavior matches an in-memory
// store.
func NewStore() *Store {
	m := &Store{
		tokens:     make(map[storage.Key]*storage.TokenRecord),
		clients:    make(map[storage.Key]*storage.ClientRegistration),
		callCounts: make(map[string]int),
	}

	m.SaveTokensFunc = func(key storage.Key, record *storage.TokenRecord) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.tokens[key] = record.Clone()
		return nil
	}
	m.LoadTokensFunc = func(key storage.Key) (*storage.TokenRecord, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		record, ok := m.tokens[key]
		if !ok {
			return nil, storage.ErrNotFound
		}
		return record.Clone(), nil
	}
	m.DeleteTokensFunc = func(key storage.Key) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.tokens, key)
		return nil
	}
	m.SaveClientFunc = func(key storage.Key, reg *storage.ClientRegistration) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		copied := *reg
		m.clients[key] = &copied
		return nil
	}
	m.LoadClientFunc = func(key storage.Key) (*storage.ClientRegistration, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		reg, ok := m.clients[key]
		if !ok {
			return nil, storage.ErrNotFound
		}
		copied := *reg
		return &copied, nil
	}
	m.DeleteClientFunc = func(key storage.Key) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.clients, key)
		return nil
	}
	return m
}

// SaveTokens implements storage.TokenStore.
func (m *Store) SaveTokens(ctx context.Context, key storage.Key, record *storage.TokenRecord) error {
	m.countCall("SaveTokens")
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.SaveTokensFunc(key, record)
}

// LoadTokens implements storage.TokenStore.
func (m *Store) LoadTokens(ctx context.Context, key storage.Key) (*storage.TokenRecord, error) {
	m.countCall("LoadTokens")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.LoadTokensFunc(key)
}

// DeleteTokens implements storage.TokenStore.
func (m *Store) DeleteTokens(ctx context.Context, key storage.Key) error {
	m.countCall("DeleteTokens")
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.DeleteTokensFunc(key)
}

// SaveClient implements storage.ClientStore.
func (m *Store) SaveClient(ctx context.Context, key storage.Key, reg *storage.ClientRegistration) error {
	m.countCall("SaveClient")
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.SaveClientFunc(key, reg)
}

// LoadClient implements storage.ClientStore.
func (m *Store) LoadClient(ctx context.Context, key storage.Key) (*storage.ClientRegistration, error) {
	m.countCall("LoadClient")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.LoadClientFunc(key)
}

// DeleteClient implements storage.ClientStore.
func (m *Store) DeleteClient(ctx context.Context, key storage.Key) error {
	m.countCall("DeleteClient")
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.DeleteClientFunc(key)
}

// CallCount returns how many times the named method has been called.
func (m *Store) CallCount(method string) int {
	m.countMu.Lock()
	defer m.countMu.Unlock()
	return m.callCounts[method]
}

func (m *Store) countCall(method string) {
	m.countMu.Lock()
	m.callCounts[method]++
	m.countMu.Unlock()
}
