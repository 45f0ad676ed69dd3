package oauthclient

import (
	"errors"
	"fmt"
)

// Error codes shared by the typed errors below. Every error this module
// returns can be reduced to one of these codes via Code().
const (
	CodeTokenExpired           = "token_expired"
	CodeAuthenticationRequired = "authentication_required"
	CodeInvalidToken           = "invalid_token"
	CodeOAuthError             = "oauth_error"
	CodePKCEError              = "pkce_error"
	CodeDiscoveryError         = "discovery_error"
	CodeRegistrationError      = "registration_error"
	CodeNetworkError           = "network_error"
	CodeConfigurationError     = "configuration_error"
)

// AuthError is implemented by every error type in this module, including the
// transport package's circuit breaker error. Use errors.As with the concrete
// types for structured handling, or Code for coarse classification.
type AuthError interface {
	error
	ErrorCode() string
}

// Code returns the error code of err if it is an AuthError anywhere in its
// chain, or "" otherwise.
func Code(err error) string {
	var ae AuthError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

// TokenExpiredError indicates an access token is past its expiry (including
// the safety margin) and no refresh was possible.
type TokenExpiredError struct {
	Message string
}

func (e *TokenExpiredError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "access token has expired"
}

func (e *TokenExpiredError) ErrorCode() string { return CodeTokenExpired }

// AuthenticationRequiredError indicates the server rejected a request with
// 401 and the user must complete (or re-complete) the authorization flow.
// AuthURL, when set, is a ready-to-open authorization URL.
type AuthenticationRequiredError struct {
	Message string
	AuthURL string
	Err     error
}

func (e *AuthenticationRequiredError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication required"
	}
	if e.AuthURL != "" {
		return fmt.Sprintf("%s: visit %s to authenticate", msg, e.AuthURL)
	}
	return msg
}

func (e *AuthenticationRequiredError) ErrorCode() string { return CodeAuthenticationRequired }

func (e *AuthenticationRequiredError) Unwrap() error { return e.Err }

// InvalidTokenError indicates a stored or received token is malformed or
// otherwise unusable.
type InvalidTokenError struct {
	Message string
}

func (e *InvalidTokenError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "invalid token"
}

func (e *InvalidTokenError) ErrorCode() string { return CodeInvalidToken }

// OAuth2Error carries an OAuth error response from the authorization server
// (RFC 6749 section 5.2). ErrorValue is the server's "error" field.
type OAuth2Error struct {
	Message     string
	ErrorValue  string
	Description string
}

func (e *OAuth2Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "oauth error"
	}
	switch {
	case e.ErrorValue != "" && e.Description != "":
		return fmt.Sprintf("%s: %s (%s)", msg, e.ErrorValue, e.Description)
	case e.ErrorValue != "":
		return fmt.Sprintf("%s: %s", msg, e.ErrorValue)
	default:
		return msg
	}
}

func (e *OAuth2Error) ErrorCode() string {
	if e.ErrorValue != "" {
		return e.ErrorValue
	}
	return CodeOAuthError
}

// PKCEError indicates a PKCE failure, most importantly a state parameter
// mismatch during callback handling.
type PKCEError struct {
	Message string
}

func (e *PKCEError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "pkce validation failed"
}

func (e *PKCEError) ErrorCode() string { return CodePKCEError }

// ServerDiscoveryError indicates metadata discovery failed for a reason other
// than a plain 404 (which falls back to default metadata instead).
type ServerDiscoveryError struct {
	ServerURL string
	Message   string
	Err       error
}

func (e *ServerDiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery failed for %s: %s: %v", e.ServerURL, e.Message, e.Err)
	}
	return fmt.Sprintf("discovery failed for %s: %s", e.ServerURL, e.Message)
}

func (e *ServerDiscoveryError) ErrorCode() string { return CodeDiscoveryError }

func (e *ServerDiscoveryError) Unwrap() error { return e.Err }

// ClientRegistrationError indicates dynamic client registration (RFC 7591)
// was rejected or could not complete.
type ClientRegistrationError struct {
	ServerURL string
	Message   string
	Err       error
}

func (e *ClientRegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client registration failed for %s: %s: %v", e.ServerURL, e.Message, e.Err)
	}
	return fmt.Sprintf("client registration failed for %s: %s", e.ServerURL, e.Message)
}

func (e *ClientRegistrationError) ErrorCode() string { return CodeRegistrationError }

func (e *ClientRegistrationError) Unwrap() error { return e.Err }

// NetworkError wraps a transport-level failure (connect, TLS, timeout). The
// transport retries these with backoff; everything else propagates as-is.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *NetworkError) ErrorCode() string { return CodeNetworkError }

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigurationError indicates an invalid Config value that has no safe
// fallback.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

func (e *ConfigurationError) ErrorCode() string { return CodeConfigurationError }

// IsAuthenticationRequired reports whether err contains an
// AuthenticationRequiredError and returns its authorization URL.
func IsAuthenticationRequired(err error) (authURL string, ok bool) {
	var are *AuthenticationRequiredError
	if errors.As(err, &are) {
		return are.AuthURL, true
	}
	return "", false
}

// IsNetworkError reports whether err contains a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
