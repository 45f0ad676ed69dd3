package oauthclient

import (
	"sync"

	"github.com/giantswarm/mcp-oauth-client/storage"
)

// Registry owns one Client per (server, user) pair. It replaces ad-hoc
// global client maps: callers create a registry, hand it a storage backend,
// and ask for clients by identity. Unknown identities simply get a fresh
// unauthenticated client; nothing is ever implicitly authorized.
//
// All clients share the registry's ServerDiscovery, so metadata for a server
// is fetched once no matter how many users talk to it.
type Registry struct {
	config    *Config
	store     storage.Store
	discovery *ServerDiscovery
	opts      []ClientOption

	mu      sync.Mutex
	clients map[storage.Key]*Client
}

// NewRegistry creates a Registry. The opts are applied to every client it
// creates, after the shared discovery.
func NewRegistry(config *Config, store storage.Store, opts ...ClientOption) (*Registry, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &ConfigurationError{Field: "store", Message: "storage is required"}
	}

	return &Registry{
		config: config,
		store:  store,
		discovery: NewServerDiscovery(
			WithDiscoveryHTTPClient(config.httpClient()),
			WithDiscoveryLogger(config.logger())),
		opts:    opts,
		clients: make(map[storage.Key]*Client),
	}, nil
}

// Client returns the client for (serverURL, userID), creating it on first
// use. An empty userID maps to the "default" storage namespace.
func (r *Registry) Client(serverURL, userID string) (*Client, error) {
	key := storage.NewKey(serverURL, userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[key]; ok {
		return client, nil
	}

	opts := append([]ClientOption{WithClientDiscovery(r.discovery)}, r.opts...)
	client, err := NewClient(r.config, serverURL, userID, r.store, opts...)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

// Remove drops the cached client for (serverURL, userID). Persisted
// credentials are untouched; use Client.RevokeAuthentication for that.
func (r *Registry) Remove(serverURL, userID string) {
	key := storage.NewKey(serverURL, userID)
	r.mu.Lock()
	delete(r.clients, key)
	r.mu.Unlock()
}

// Clients returns a snapshot of all cached clients.
func (r *Registry) Clients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	return out
}

// Discovery returns the shared metadata discovery instance.
func (r *Registry) Discovery() *ServerDiscovery {
	return r.discovery
}
