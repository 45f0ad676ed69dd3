// Package security provides the client-side security primitives: credential
// encryption at rest and audit logging of authentication lifecycle events.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User IDs are
// hashed before logging; tokens and verifiers are never logged at all.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	ServerURL string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"server_url", event.ServerURL,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogFlowStarted logs the start of an authorization flow
func (a *Auditor) LogFlowStarted(serverURL, userID, clientID string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationFlowStarted,
		ServerURL: serverURL,
		UserID:    userID,
		ClientID:  clientID,
	})
}

// LogCodeExchanged logs a successful authorization code exchange
func (a *Auditor) LogCodeExchanged(serverURL, userID, clientID string) {
	a.LogEvent(Event{
		Type:      EventCodeExchanged,
		ServerURL: serverURL,
		UserID:    userID,
		ClientID:  clientID,
	})
}

// LogTokenRefreshed logs a successful refresh-token grant
func (a *Auditor) LogTokenRefreshed(serverURL, userID, clientID string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		ServerURL: serverURL,
		UserID:    userID,
		ClientID:  clientID,
	})
}

// LogTokensCleared logs removal of stored credentials
func (a *Auditor) LogTokensCleared(serverURL, userID string) {
	a.LogEvent(Event{
		Type:      EventTokensCleared,
		ServerURL: serverURL,
		UserID:    userID,
	})
}

// LogClientRegistered logs a successful dynamic client registration
func (a *Auditor) LogClientRegistered(serverURL, clientID string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ServerURL: serverURL,
		ClientID:  clientID,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(serverURL, userID, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ServerURL: serverURL,
		UserID:    userID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogStateMismatch logs a rejected callback whose state parameter did not
// match the in-flight flow (possible CSRF)
func (a *Auditor) LogStateMismatch(serverURL, userID string) {
	a.LogEvent(Event{
		Type:      EventStateMismatch,
		ServerURL: serverURL,
		UserID:    userID,
	})
}

// LogUnauthorizedResponse logs an intercepted 401 response
func (a *Auditor) LogUnauthorizedResponse(serverURL, userID, path string) {
	a.LogEvent(Event{
		Type:      EventUnauthorizedResponse,
		ServerURL: serverURL,
		UserID:    userID,
		Details: map[string]any{
			"path": path,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
