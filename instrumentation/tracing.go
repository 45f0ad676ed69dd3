package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never log actual sensitive values (access tokens, refresh
// tokens, authorization codes, code verifiers, client secrets, etc.) in traces
// or metrics. Only log metadata such as token types, expiry times, and
// validation results. Traces are often persisted for extended periods and
// accessible to wider audiences than production systems.
const (
	// OAuth flow attributes - SAFE to use for metadata only
	AttrServerURL        = "oauth.server_url"          // Server base URL (non-secret)
	AttrClientID         = "oauth.client_id"           // Client identifier (non-secret)
	AttrUserID           = "oauth.user_id"             // User identifier (non-secret)
	AttrScope            = "oauth.scope"               // Requested scopes
	AttrPKCEMethod       = "oauth.pkce.method"         // PKCE method used (always S256)
	AttrGrantType        = "oauth.grant_type"          // OAuth grant type
	AttrTokenType        = "oauth.token_type"          //nolint:gosec // Token type (Bearer, etc.) - NOT the actual token
	AttrExpiresIn        = "oauth.expires_in"          // Token expiry duration
	AttrError            = "oauth.error"               // Error code
	AttrErrorDescription = "oauth.error_description"   // Error description
	AttrDiscoveryResult  = "oauth.discovery.result"    // Discovery outcome (ok/default/cache/error)

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrAuditEventType      = "security.audit.event_type"
	AttrEncryptionOperation = "security.encryption.operation"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPPath       = "http.path"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPRetry      = "http.retry_attempt"
	AttrBreakerState   = "http.breaker_state"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, serverURL, clientID, userID string) {
	if serverURL != "" {
		SetSpanAttributes(span, attribute.String(AttrServerURL, serverURL))
	}
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, path string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
