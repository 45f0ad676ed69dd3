// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the mcp-oauth-client library.
//
// This package enables observability across all library layers through:
// - Metrics: Counters and histograms for OAuth client operations
// - Traces: Distributed tracing for request flows across components
//
// # Quick Start
//
// Enable instrumentation and pass it to the components that accept it:
//
//	import "github.com/giantswarm/mcp-oauth-client/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-agent",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth_client.http.requests.total{method, path, status} - Authenticated requests
//   - oauth_client.http.request.duration{path} - Request duration in milliseconds
//   - oauth_client.http.retries.total{reason} - Retries after transient failures
//   - oauth_client.http.auth_required.total{path} - 401 responses received
//   - oauth_client.breaker.transitions.total{from, to} - Circuit breaker transitions
//   - oauth_client.breaker.short_circuits.total - Requests rejected while open
//
// OAuth Flows:
//   - oauth_client.authorization.started{client_id} - Authorization flows started
//   - oauth_client.code.exchanged{client_id, success} - Authorization codes exchanged
//   - oauth_client.token.refreshed{client_id, success} - Refresh-token grants
//   - oauth_client.tokens.cleared - Credential clear operations
//   - oauth_client.client.registered{server_url} - Dynamic registrations
//   - oauth_client.discovery.total{result} - Metadata discovery attempts
//
// Security:
//   - oauth_client.pkce.validation_failed - State validation failures
//   - oauth_client.audit.events.total{event_type} - Audit events
//   - oauth_client.encryption.operations.total{operation} - Crypto operations
//   - oauth_client.encryption.duration{operation} - Crypto duration in milliseconds
//
// Storage:
//   - oauth_client.storage.operation.total{operation, result} - Storage operations
//   - oauth_client.storage.operation.duration{operation} - Duration in milliseconds
//
// # Performance
//
// When instrumentation is not configured or disabled:
//   - Zero overhead (uses no-op providers)
//   - No allocations or latency impact
//
// # Thread Safety
//
// All instrumentation operations are thread-safe and can be called
// concurrently from multiple goroutines.
//
// # Security Considerations
//
// IMPORTANT: This package is designed to collect observability data, not
// sensitive credentials.
//
// When instrumenting OAuth flows, you MUST:
//   - NEVER log actual token values (access tokens, refresh tokens, authorization codes)
//   - NEVER log client secrets or PKCE verifiers
//   - ONLY log metadata (token types, expiry times, validation results)
//
// Data collected in traces and metrics may be persisted for extended periods,
// accessible to operations teams, and subject to compliance requirements
// (GDPR, PCI-DSS, SOC 2, etc.).
package instrumentation
