package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OAuth client library
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal    metric.Int64Counter
	HTTPRequestDuration  metric.Float64Histogram
	RequestRetriesTotal  metric.Int64Counter
	AuthRequiredTotal    metric.Int64Counter
	BreakerTransitions   metric.Int64Counter
	BreakerShortCircuits metric.Int64Counter

	// OAuth Flow Metrics
	AuthorizationStarted metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokensCleared        metric.Int64Counter
	ClientRegistered     metric.Int64Counter
	DiscoveryTotal       metric.Int64Counter

	// Security Metrics
	PKCEValidationFailed      metric.Int64Counter
	AuditEventsTotal          metric.Int64Counter
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	// HTTP Layer Metrics
	var err error
	m.HTTPRequestsTotal, err = inst.httpMeter.Int64Counter(
		"oauth_client.http.requests.total",
		metric.WithDescription("Total number of authenticated HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = inst.httpMeter.Float64Histogram(
		"oauth_client.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.RequestRetriesTotal, err = inst.httpMeter.Int64Counter(
		"oauth_client.http.retries.total",
		metric.WithDescription("Number of request retries after transient failures"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.retries.total counter: %w", err)
	}

	m.AuthRequiredTotal, err = inst.httpMeter.Int64Counter(
		"oauth_client.http.auth_required.total",
		metric.WithDescription("Number of requests rejected with 401 requiring authentication"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.auth_required.total counter: %w", err)
	}

	m.BreakerTransitions, err = inst.httpMeter.Int64Counter(
		"oauth_client.breaker.transitions.total",
		metric.WithDescription("Number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker.transitions counter: %w", err)
	}

	m.BreakerShortCircuits, err = inst.httpMeter.Int64Counter(
		"oauth_client.breaker.short_circuits.total",
		metric.WithDescription("Number of requests rejected by an open circuit breaker"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker.short_circuits counter: %w", err)
	}

	// OAuth Flow Metrics
	m.AuthorizationStarted, err = inst.flowMeter.Int64Counter(
		"oauth_client.authorization.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	m.CodeExchanged, err = inst.flowMeter.Int64Counter(
		"oauth_client.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = inst.flowMeter.Int64Counter(
		"oauth_client.token.refreshed",
		metric.WithDescription("Number of refresh-token grants performed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokensCleared, err = inst.flowMeter.Int64Counter(
		"oauth_client.tokens.cleared",
		metric.WithDescription("Number of credential clear operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.cleared counter: %w", err)
	}

	m.ClientRegistered, err = inst.flowMeter.Int64Counter(
		"oauth_client.client.registered",
		metric.WithDescription("Number of dynamic client registrations performed"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	m.DiscoveryTotal, err = inst.flowMeter.Int64Counter(
		"oauth_client.discovery.total",
		metric.WithDescription("Number of server metadata discovery attempts"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.total counter: %w", err)
	}

	// Security Metrics
	m.PKCEValidationFailed, err = inst.securityMeter.Int64Counter(
		"oauth_client.pkce.validation_failed",
		metric.WithDescription("Number of PKCE state validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	m.AuditEventsTotal, err = inst.securityMeter.Int64Counter(
		"oauth_client.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.EncryptionOperationsTotal, err = inst.securityMeter.Int64Counter(
		"oauth_client.encryption.operations.total",
		metric.WithDescription("Total number of encryption/decryption operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	m.EncryptionDuration, err = inst.securityMeter.Float64Histogram(
		"oauth_client.encryption.duration",
		metric.WithDescription("Encryption/decryption operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.duration histogram: %w", err)
	}

	// Storage Metrics
	m.StorageOperationTotal, err = inst.storageMeter.Int64Counter(
		"oauth_client.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = inst.storageMeter.Float64Histogram(
		"oauth_client.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an authenticated HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("path", path)))
}

// RecordRetry records a retry after a transient failure
func (m *Metrics) RecordRetry(ctx context.Context, reason string) {
	m.RequestRetriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordAuthRequired records a 401 response that triggered re-authentication
func (m *Metrics) RecordAuthRequired(ctx context.Context, path string) {
	m.AuthRequiredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
	))
}

// RecordBreakerTransition records a circuit breaker state transition
func (m *Metrics) RecordBreakerTransition(ctx context.Context, from, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordBreakerShortCircuit records a request rejected by an open breaker
func (m *Metrics) RecordBreakerShortCircuit(ctx context.Context) {
	m.BreakerShortCircuits.Add(ctx, 1)
}

// RecordAuthorizationStarted records an authorization flow start
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a refresh-token grant
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordTokensCleared records a credential clear operation
func (m *Metrics) RecordTokensCleared(ctx context.Context) {
	m.TokensCleared.Add(ctx, 1)
}

// RecordClientRegistration records a dynamic client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, serverURL string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_url", serverURL),
	))
}

// RecordDiscovery records a metadata discovery attempt.
// result is one of "ok", "default", "cache", "error".
func (m *Metrics) RecordDiscovery(ctx context.Context, result string) {
	m.DiscoveryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordPKCEValidationFailed records a PKCE state validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context) {
	m.PKCEValidationFailed.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
	}

	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
