// Package storage defines interfaces for persisting OAuth tokens and client
// registrations, keyed per (server URL, user ID) pair. It supports various
// backend implementations including encrypted files and in-memory stores.
package storage

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned when no record exists for the requested key.
// Callers treat it as "not authenticated yet", not as a failure.
var ErrNotFound = errors.New("storage: record not found")

// DefaultUserID is the storage namespace used when no user ID is supplied.
// It is only a namespace: records stored under it carry no special authority.
const DefaultUserID = "default"

// maxServerToken caps the sanitized server portion of file names.
const maxServerToken = 100

var unsafeNameChars = regexp.MustCompile(`[^\w\-.]`)

// Key identifies the (server, user) pair a record belongs to. Tokens for
// different servers or users never share a key.
type Key struct {
	ServerURL string
	UserID    string
}

// NewKey builds a Key, normalizing the server URL (trailing slash stripped)
// and substituting DefaultUserID for an empty user ID.
func NewKey(serverURL, userID string) Key {
	if userID == "" {
		userID = DefaultUserID
	}
	return Key{
		ServerURL: strings.TrimSuffix(serverURL, "/"),
		UserID:    userID,
	}
}

// FileToken returns a filesystem-safe representation of the key: the server
// URL with its scheme stripped and unsafe characters replaced, capped at 100
// characters, joined with the user ID.
func (k Key) FileToken() string {
	name := k.ServerURL
	name = strings.TrimPrefix(name, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > maxServerToken {
		name = name[:maxServerToken]
	}
	return name + "_" + unsafeNameChars.ReplaceAllString(k.UserID, "_")
}

// ClientRegistration is the persisted result of dynamic client registration
// (RFC 7591) with one authorization server.
type ClientRegistration struct {
	ClientID                string    `json:"client_id"`
	ClientSecret            string    `json:"client_secret,omitempty"`
	RegistrationClientURI   string    `json:"registration_client_uri,omitempty"`
	ClientName              string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string  `json:"grant_types,omitempty"`
	ResponseTypes           []string  `json:"response_types,omitempty"`
	Scope                   string    `json:"scope,omitempty"`
	RegisteredAt            time.Time `json:"registered_at"`
}

// TokenStore defines the interface for storing and retrieving token sets.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveTokens persists a token record for a key, replacing any
	// previous record wholesale.
	SaveTokens(ctx context.Context, key Key, record *TokenRecord) error

	// LoadTokens retrieves the token record for a key.
	// Returns ErrNotFound when none is stored.
	LoadTokens(ctx context.Context, key Key) (*TokenRecord, error)

	// DeleteTokens removes the token record for a key. Deleting a key
	// that has no record is not an error.
	DeleteTokens(ctx context.Context, key Key) error
}

// ClientStore defines the interface for storing dynamic client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a client registration for a key.
	SaveClient(ctx context.Context, key Key, reg *ClientRegistration) error

	// LoadClient retrieves the client registration for a key.
	// Returns ErrNotFound when none is stored.
	LoadClient(ctx context.Context, key Key) (*ClientRegistration, error)

	// DeleteClient removes the client registration for a key. Deleting a
	// key that has no record is not an error.
	DeleteClient(ctx context.Context, key Key) error
}

// Store combines token and client registration persistence.
type Store interface {
	TokenStore
	ClientStore
}
