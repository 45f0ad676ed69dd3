package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	oauthclient "github.com/giantswarm/mcp-oauth-client"
	"github.com/giantswarm/mcp-oauth-client/instrumentation"
)

// Default retry policy.
const (
	DefaultMaxRetries    = 3
	DefaultBackoffFactor = 1.0
)

// AuthCallback is invoked with a fresh authorization URL when the server
// demands authentication. It returns once the flow has completed (or
// failed); the transport then retries the original request.
type AuthCallback func(ctx context.Context, authURL string) error

// Requester issues authenticated requests and reports a 401 as
// *oauthclient.AuthenticationRequiredError without starting a flow of its
// own; the transport starts flows through StartAuthenticationFlow so that
// concurrent 401s share one flow and one PKCE session.
// *oauthclient.Client implements it.
type Requester interface {
	Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error)
	StartAuthenticationFlow(ctx context.Context) (string, error)
}

// Compile-time checks
var (
	_ Requester             = (*oauthclient.Client)(nil)
	_ oauthclient.AuthError = (*CircuitBreakerOpenError)(nil)
)

// Transport wraps a Requester with retries, 401-driven reauthorization, and
// optional rate limiting and circuit breaking. Request bodies are buffered
// so a request can be replayed across retries.
type Transport struct {
	client        Requester
	logger        *slog.Logger
	maxRetries    int
	backoffFactor float64
	limiter       *rate.Limiter
	breaker       *CircuitBreaker
	interceptor   *Interceptor
	inst          *instrumentation.Instrumentation

	callbackMu   sync.RWMutex
	authCallback AuthCallback
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogger sets the logger for transport diagnostics.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMaxRetries sets how many retries follow the initial attempt.
func WithMaxRetries(n int) TransportOption {
	return func(t *Transport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithBackoffFactor scales the exponential backoff delay, which is
// 2^attempt seconds multiplied by this factor.
func WithBackoffFactor(factor float64) TransportOption {
	return func(t *Transport) {
		if factor > 0 {
			t.backoffFactor = factor
		}
	}
}

// WithRateLimiter throttles outbound requests.
func WithRateLimiter(limiter *rate.Limiter) TransportOption {
	return func(t *Transport) {
		t.limiter = limiter
	}
}

// WithCircuitBreaker fails requests fast while the server is down.
func WithCircuitBreaker(breaker *CircuitBreaker) TransportOption {
	return func(t *Transport) {
		t.breaker = breaker
	}
}

// WithInstrumentation enables request, retry, and breaker metrics.
func WithInstrumentation(inst *instrumentation.Instrumentation) TransportOption {
	return func(t *Transport) {
		t.inst = inst
	}
}

// WithAuthCallback sets the callback that drives the authorization flow on
// 401 responses. Equivalent to SetAuthCallback.
func WithAuthCallback(callback AuthCallback) TransportOption {
	return func(t *Transport) {
		t.authCallback = callback
	}
}

// New creates a Transport over client.
func New(client Requester, opts ...TransportOption) *Transport {
	t := &Transport{
		client:        client,
		logger:        slog.Default(),
		maxRetries:    DefaultMaxRetries,
		backoffFactor: DefaultBackoffFactor,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.interceptor = NewInterceptor(t.logger)
	if t.breaker != nil && t.inst != nil && t.breaker.onTransition == nil {
		t.breaker.onTransition = func(from, to State) {
			t.inst.Metrics().RecordBreakerTransition(context.Background(), from.String(), to.String())
		}
	}
	return t
}

// SetAuthCallback installs (or replaces) the reauthorization callback.
// Without one, 401 errors propagate to the caller unchanged.
func (t *Transport) SetAuthCallback(callback AuthCallback) {
	t.callbackMu.Lock()
	t.authCallback = callback
	t.callbackMu.Unlock()
}

func (t *Transport) callback() AuthCallback {
	t.callbackMu.RLock()
	defer t.callbackMu.RUnlock()
	return t.authCallback
}

// Do sends method+path with body, applying the retry and reauthorization
// policies. The body is replayed as-is on every attempt.
func (t *Transport) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error
	skipBackoff := false

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 && !skipBackoff {
			if err := t.backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		skipBackoff = false

		// Snapshot before the request so a flow completing between the 401
		// and the interceptor is detected as already handled.
		observed := t.interceptor.Generation()

		resp, err := t.attempt(ctx, method, path, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var authErr *oauthclient.AuthenticationRequiredError
		if errors.As(err, &authErr) {
			callback := t.callback()
			if callback == nil {
				// Nobody to drive the flow; attach a URL so a UI layer can
				// surface it, then propagate. Never loop silently.
				if authErr.AuthURL == "" {
					if authURL, flowErr := t.client.StartAuthenticationFlow(ctx); flowErr == nil {
						authErr.AuthURL = authURL
					}
				}
				return nil, err
			}
			t.recordRetry(ctx, "auth_required")
			// The URL is generated inside the serialized section so only the
			// goroutine actually driving the flow creates a PKCE session.
			flowErr := t.interceptor.Run(ctx, observed, func(ctx context.Context) error {
				authURL, startErr := t.client.StartAuthenticationFlow(ctx)
				if startErr != nil {
					return fmt.Errorf("failed to start authorization flow: %w", startErr)
				}
				return callback(ctx, authURL)
			})
			if flowErr != nil {
				return nil, fmt.Errorf("authorization flow failed: %w", flowErr)
			}
			// Flow completed; retry immediately with the new token.
			skipBackoff = true
			continue
		}

		if oauthclient.IsNetworkError(err) {
			t.recordRetry(ctx, "network_error")
			t.logger.Debug("transient network failure",
				"method", method,
				"path", path,
				"attempt", attempt,
				"error", err)
			continue
		}

		// Not retryable.
		return nil, err
	}

	return nil, lastErr
}

// attempt performs one request through the rate limiter and breaker.
func (t *Transport) attempt(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if t.breaker != nil && !t.breaker.Allow() {
		if t.inst != nil {
			t.inst.Metrics().RecordBreakerShortCircuit(ctx)
		}
		return nil, &CircuitBreakerOpenError{RetryAfter: t.breaker.retryAfter()}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	start := time.Now()
	resp, err := t.client.Request(ctx, method, path, reader)

	if t.breaker != nil {
		if oauthclient.IsNetworkError(err) || (resp != nil && resp.StatusCode >= http.StatusInternalServerError) {
			t.breaker.RecordFailure()
		} else {
			t.breaker.RecordSuccess()
		}
	}

	if err != nil {
		return nil, err
	}

	if t.inst != nil {
		durationMs := float64(time.Since(start).Microseconds()) / 1000.0
		t.inst.Metrics().RecordHTTPRequest(ctx, method, path, resp.StatusCode, durationMs)
	}
	return resp, nil
}

// backoff sleeps for 2^attempt * backoffFactor seconds, honoring context
// cancellation.
func (t *Transport) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(math.Pow(2, float64(attempt)) * t.backoffFactor * float64(time.Second))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) recordRetry(ctx context.Context, reason string) {
	if t.inst != nil {
		t.inst.Metrics().RecordRetry(ctx, reason)
	}
}

// Get sends a GET request.
func (t *Transport) Get(ctx context.Context, path string) (*http.Response, error) {
	return t.Do(ctx, http.MethodGet, path, nil)
}

// Post sends a POST request.
func (t *Transport) Post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return t.Do(ctx, http.MethodPost, path, body)
}

// Put sends a PUT request.
func (t *Transport) Put(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return t.Do(ctx, http.MethodPut, path, body)
}

// Delete sends a DELETE request.
func (t *Transport) Delete(ctx context.Context, path string) (*http.Response, error) {
	return t.Do(ctx, http.MethodDelete, path, nil)
}

// Patch sends a PATCH request.
func (t *Transport) Patch(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return t.Do(ctx, http.MethodPatch, path, body)
}
