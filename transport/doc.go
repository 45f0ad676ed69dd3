// Package transport wraps an authenticated client with the resilience
// policies resource calls need in practice: bounded retries with
// exponential backoff for transient network failures, auth-callback driven
// recovery from 401 responses, cross-request serialization so concurrent
// 401s trigger a single reauthorization flow, optional rate limiting, and a
// circuit breaker that fails fast when a server is persistently down.
package transport
