// Package token manages the token lifecycle for one (server, user) pair:
// persistence through a storage backend, a short-lived read cache, and
// expiry checks with a safety margin so tokens are never used right at the
// edge of their lifetime.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-oauth-client/storage"
)

const (
	// ExpiryMargin is subtracted from a token's expiry when judging
	// validity. A token within this margin of expiring is treated as
	// already expired, so it is refreshed before a request can fail
	// mid-flight.
	ExpiryMargin = 30 * time.Second

	// DefaultRefreshThreshold is used by WillExpireSoon when the caller
	// passes a non-positive threshold.
	DefaultRefreshThreshold = 5 * time.Minute

	defaultCacheTTL = 5 * time.Minute

	// Redacted replaces secret values in Info output.
	Redacted = "***REDACTED***"
)

// ErrNoToken is returned by operations that need a usable access token when
// none is stored or the stored one has expired.
var ErrNoToken = errors.New("no valid access token")

// Tokens is the input to Store: the fields of a token endpoint response that
// matter for persistence. ExpiresIn is the server-reported lifetime in
// seconds; zero means the token does not expire.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64
}

// Manager handles token persistence and validity for a single storage key.
// Reads are served from an in-memory cache for a bounded TTL to keep hot
// paths off the storage backend. All methods are safe for concurrent use.
type Manager struct {
	key    storage.Key
	store  storage.TokenStore
	logger *slog.Logger
	now    func() time.Time

	cacheTTL time.Duration

	mu       sync.Mutex
	cached   *storage.TokenRecord
	cacheSet bool
	cachedAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for token lifecycle diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCacheTTL overrides how long loaded records are served from memory
// before the storage backend is consulted again.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.cacheTTL = ttl
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager for one storage key.
func NewManager(key storage.Key, store storage.TokenStore, opts ...Option) *Manager {
	m := &Manager{
		key:      key,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Key returns the storage key this manager operates on.
func (m *Manager) Key() storage.Key {
	return m.key
}

// Store persists a token set, replacing any previous one, and refreshes the
// cache. The token type defaults to "Bearer" when the server omitted it.
func (m *Manager) Store(ctx context.Context, t *Tokens) error {
	if t == nil || t.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}

	now := m.now()
	record := &storage.TokenRecord{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Scope:        t.Scope,
		StoredAt:     now.Unix(),
	}
	if record.TokenType == "" {
		record.TokenType = "Bearer"
	}
	if t.ExpiresIn > 0 {
		record.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).Unix()
	}

	if err := m.store.SaveTokens(ctx, m.key, record); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}

	m.mu.Lock()
	m.cached = record.Clone()
	m.cacheSet = true
	m.cachedAt = now
	m.mu.Unlock()

	m.logger.Debug("stored tokens",
		"server_url", m.key.ServerURL,
		"user_id", m.key.UserID,
		"has_refresh_token", t.RefreshToken != "",
		"expires_in", t.ExpiresIn)
	return nil
}

// AccessToken returns the stored access token, or "" when none is stored or
// the stored one is expired (within the safety margin). The empty result is
// not an error: callers decide whether to refresh or start a new flow.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	record, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if record == nil || record.AccessToken == "" {
		return "", nil
	}
	if m.expired(record) {
		m.logger.Debug("access token expired",
			"server_url", m.key.ServerURL,
			"user_id", m.key.UserID)
		return "", nil
	}
	return record.AccessToken, nil
}

// RefreshToken returns the stored refresh token, or "" when none is stored.
// Refresh tokens are returned even when the access token has expired; that
// is exactly when they are needed.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	record, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}
	return record.RefreshToken, nil
}

// Valid reports whether a non-expired access token is stored.
func (m *Manager) Valid(ctx context.Context) (bool, error) {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// ExpiresIn returns the time remaining until the stored access token
// expires, before applying the safety margin. ok is false when no token is
// stored or the token has no expiry.
func (m *Manager) ExpiresIn(ctx context.Context) (remaining time.Duration, ok bool, err error) {
	record, err := m.load(ctx)
	if err != nil {
		return 0, false, err
	}
	if record == nil || record.AccessToken == "" || record.ExpiresAt == 0 {
		return 0, false, nil
	}
	return time.Unix(record.ExpiresAt, 0).Sub(m.now()), true, nil
}

// WillExpireSoon reports whether the stored access token will expire within
// threshold. A non-positive threshold uses DefaultRefreshThreshold. Tokens
// without an expiry never expire soon; a missing token reports false.
func (m *Manager) WillExpireSoon(ctx context.Context, threshold time.Duration) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	remaining, ok, err := m.ExpiresIn(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return remaining <= threshold, nil
}

// AuthorizationHeader returns a ready-to-use Authorization header value for
// the stored access token. Returns ErrNoToken when no valid token exists.
func (m *Manager) AuthorizationHeader(ctx context.Context) (string, error) {
	record, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if record == nil || record.AccessToken == "" || m.expired(record) {
		return "", ErrNoToken
	}
	tokenType := record.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + record.AccessToken, nil
}

// OAuth2Token returns the stored token set as an oauth2.Token, or ErrNoToken
// when nothing is stored. Expired tokens are still returned here so callers
// can hand them to oauth2.TokenSource implementations that refresh.
func (m *Manager) OAuth2Token(ctx context.Context) (*oauth2.Token, error) {
	record, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil || record.AccessToken == "" {
		return nil, ErrNoToken
	}
	return record.OAuth2Token(), nil
}

// Clear removes the stored token set and drops the cache.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.DeleteTokens(ctx, m.key); err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}

	m.mu.Lock()
	m.cached = nil
	m.cacheSet = false
	m.mu.Unlock()

	m.logger.Debug("cleared tokens",
		"server_url", m.key.ServerURL,
		"user_id", m.key.UserID)
	return nil
}

// Invalidate drops the in-memory cache so the next read hits the storage
// backend. The stored record is untouched.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.cacheSet = false
	m.mu.Unlock()
}

// Info describes the stored token set with secret values redacted. Safe to
// log or display.
type Info struct {
	HasAccessToken  bool      `json:"has_access_token"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	AccessToken     string    `json:"access_token,omitempty"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	TokenType       string    `json:"token_type,omitempty"`
	Scope           string    `json:"scope,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	Valid           bool      `json:"valid"`
}

// Info returns a redacted description of the stored token set. A nil record
// yields an Info with all fields zero.
func (m *Manager) Info(ctx context.Context) (*Info, error) {
	record, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{}
	if record == nil {
		return info, nil
	}

	info.HasAccessToken = record.AccessToken != ""
	info.HasRefreshToken = record.RefreshToken != ""
	info.TokenType = record.TokenType
	info.Scope = record.Scope
	info.Valid = info.HasAccessToken && !m.expired(record)
	if info.HasAccessToken {
		info.AccessToken = Redacted
	}
	if info.HasRefreshToken {
		info.RefreshToken = Redacted
	}
	if record.ExpiresAt > 0 {
		info.ExpiresAt = time.Unix(record.ExpiresAt, 0)
	}
	return info, nil
}

// load returns the current record, serving from cache while it is fresh.
// A nil record with nil error means nothing is stored.
func (m *Manager) load(ctx context.Context) (*storage.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cacheSet && m.now().Sub(m.cachedAt) < m.cacheTTL {
		return m.cached.Clone(), nil
	}

	record, err := m.store.LoadTokens(ctx, m.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.cached = nil
			m.cacheSet = true
			m.cachedAt = m.now()
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	m.cached = record.Clone()
	m.cacheSet = true
	m.cachedAt = m.now()
	return record, nil
}

// expired reports whether the record's access token is past its expiry
// minus the safety margin. Records without an expiry never expire.
func (m *Manager) expired(record *storage.TokenRecord) bool {
	if record.ExpiresAt == 0 {
		return false
	}
	deadline := time.Unix(record.ExpiresAt, 0).Add(-ExpiryMargin)
	return !m.now().Before(deadline)
}
