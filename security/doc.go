// Package security provides the security primitives of the client:
// credential encryption at rest and audit logging.
//
// # Encryption
//
// CryptoBox encrypts token sets and client registrations before they reach
// disk. Keys are derived from a password with PBKDF2-HMAC-SHA256 (100,000
// iterations) and a fresh 16-byte salt per encryption; the payload is sealed
// with AES-256-GCM. The salt travels with the ciphertext, so decryption only
// needs the password:
//
//	box := security.NewCryptoBox(password, logger)
//	blob, err := box.EncryptJSON(record)
//	...
//	err = box.DecryptJSON(blob, &record)
//
// Encrypting the same plaintext twice yields different ciphertexts, and a
// wrong password fails authentication rather than returning garbage.
//
// # Audit Logging
//
// Auditor records authentication lifecycle events (flow started, code
// exchanged, token refreshed, credentials cleared, 401 received) through
// slog. User IDs are hashed before logging; tokens, verifiers, and passwords
// are never logged.
package security
