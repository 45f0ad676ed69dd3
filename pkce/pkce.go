// Package pkce implements the client side of Proof Key for Code Exchange
// (RFC 7636). Only the S256 challenge method is supported; "plain" is
// deliberately not implemented.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
)

// Method is the only code challenge method this package produces.
const Method = "S256"

const (
	// 32 random bytes encode to 43 base64url characters, the RFC 7636
	// minimum verifier length.
	verifierBytes = 32
	stateBytes    = 32
)

// Handler holds the PKCE material for one in-flight authorization attempt.
// A Handler serves one flow at a time; Generate discards any previous
// session. All methods are safe for concurrent use.
type Handler struct {
	mu        sync.Mutex
	verifier  string
	challenge string
	state     string
}

// NewHandler returns an empty Handler with no active session.
func NewHandler() *Handler {
	return &Handler{}
}

// Generate creates a fresh verifier, its S256 challenge, and a CSRF state
// value, replacing any previous session.
func (h *Handler) Generate() (verifier, challenge, state string, err error) {
	verifier, err = randomToken(verifierBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err = randomToken(stateBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	challenge = ChallengeS256(verifier)

	h.mu.Lock()
	h.verifier = verifier
	h.challenge = challenge
	h.state = state
	h.mu.Unlock()
	return verifier, challenge, state, nil
}

// ChallengeS256 returns the S256 code challenge for verifier:
// base64url(sha256(verifier)) without padding.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateState compares received against the session state in constant
// time. It returns false when no session is active or the values differ;
// it never reveals the expected value.
func (h *Handler) ValidateState(received string) bool {
	h.mu.Lock()
	expected := h.state
	h.mu.Unlock()
	if expected == "" || received == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}

// Verifier returns the current code verifier, or "" when no session is
// active.
func (h *Handler) Verifier() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifier
}

// Challenge returns the current code challenge, or "" when no session is
// active.
func (h *Handler) Challenge() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.challenge
}

// State returns the current state value, or "" when no session is active.
func (h *Handler) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsReady reports whether a full session (verifier, challenge, state) is
// active.
func (h *Handler) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifier != "" && h.challenge != "" && h.state != ""
}

// Clear discards the session. Call it after a completed or abandoned flow so
// stale material cannot be replayed.
func (h *Handler) Clear() {
	h.mu.Lock()
	h.verifier = ""
	h.challenge = ""
	h.state = ""
	h.mu.Unlock()
}

// String returns a redacted description safe for logging.
func (h *Handler) String() string {
	if h.IsReady() {
		return "pkce.Handler{session: active, method: " + Method + "}"
	}
	return "pkce.Handler{session: none}"
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
