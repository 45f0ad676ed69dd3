// Package storage provides interfaces and utilities for persisting OAuth
// credentials on the client side.
//
// The storage package defines the core interfaces used throughout the
// mcp-oauth-client library:
//   - TokenStore: token sets (access/refresh tokens with expiry metadata)
//   - ClientStore: dynamic client registrations (RFC 7591 results)
//
// Records are keyed by a (server URL, user ID) pair; Key normalizes the pair
// and produces filesystem-safe names for file-backed implementations.
//
// Implementations are provided in subpackages:
//   - storage/file: encrypted file-backed storage for real deployments
//   - storage/memory: in-memory storage for development and testing
//   - storage/mock: scriptable storage for unit testing
package storage
