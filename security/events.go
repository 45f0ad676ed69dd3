package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Authorization flow events

	// EventAuthorizationFlowStarted is logged when an authorization flow is initiated
	EventAuthorizationFlowStarted = "authorization_flow_started"

	// EventCodeExchanged is logged when an authorization code is exchanged for tokens
	EventCodeExchanged = "authorization_code_exchanged"

	// EventStateMismatch is logged when a callback's state parameter does not match
	// the in-flight flow (possible CSRF)
	EventStateMismatch = "state_mismatch"

	// Token lifecycle events

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokensCleared is logged when stored credentials are removed
	EventTokensCleared = "tokens_cleared" //nolint:gosec // G101: False positive - this is an event type name, not a credential

	// Client registration events

	// EventClientRegistered is logged when this client completes dynamic registration
	EventClientRegistered = "client_registered"

	// Failure events

	// EventAuthFailure is logged when authentication fails (rejected grant, etc.)
	EventAuthFailure = "auth_failure"

	// EventUnauthorizedResponse is logged when a resource request is rejected with 401
	EventUnauthorizedResponse = "unauthorized_response"
)
