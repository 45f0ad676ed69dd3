package oauthclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcp-oauth-client/instrumentation"
)

// WellKnownPath is the metadata discovery path probed on every server.
const WellKnownPath = "/.well-known/oauth-protected-resource"

// ServerDiscovery fetches and caches authorization server metadata. Servers
// that do not expose a metadata document (404) get synthesized defaults with
// conventional endpoint paths; any other failure is reported to the caller.
//
// Concurrent discoveries of the same server are collapsed into a single
// request. Cached metadata is served until ClearCache or a forced refresh.
type ServerDiscovery struct {
	httpClient *http.Client
	logger     *slog.Logger
	inst       *instrumentation.Instrumentation

	mu    sync.RWMutex
	cache map[string]*AuthorizationServerMetadata
	group singleflight.Group
}

// DiscoveryOption configures a ServerDiscovery.
type DiscoveryOption func(*ServerDiscovery)

// WithDiscoveryHTTPClient sets the HTTP client used for metadata requests.
func WithDiscoveryHTTPClient(client *http.Client) DiscoveryOption {
	return func(d *ServerDiscovery) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithDiscoveryLogger sets the logger for discovery diagnostics.
func WithDiscoveryLogger(logger *slog.Logger) DiscoveryOption {
	return func(d *ServerDiscovery) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDiscoveryInstrumentation enables discovery metrics.
func WithDiscoveryInstrumentation(inst *instrumentation.Instrumentation) DiscoveryOption {
	return func(d *ServerDiscovery) {
		d.inst = inst
	}
}

// NewServerDiscovery creates a ServerDiscovery with an empty cache.
func NewServerDiscovery(opts ...DiscoveryOption) *ServerDiscovery {
	d := &ServerDiscovery{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
		cache:      make(map[string]*AuthorizationServerMetadata),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns metadata for serverURL, from cache when available unless
// forceRefresh is set. A 404 from the well-known endpoint yields
// DefaultMetadata rather than an error; every other failure returns a
// ServerDiscoveryError or NetworkError.
func (d *ServerDiscovery) Discover(ctx context.Context, serverURL string, forceRefresh bool) (*AuthorizationServerMetadata, error) {
	base := strings.TrimSuffix(serverURL, "/")
	if base == "" {
		return nil, &ServerDiscoveryError{ServerURL: serverURL, Message: "server URL is empty"}
	}

	if !forceRefresh {
		d.mu.RLock()
		cached, ok := d.cache[base]
		d.mu.RUnlock()
		if ok {
			d.recordDiscovery(ctx, "cache")
			return cached, nil
		}
	}

	// Collapse concurrent discoveries of the same server into one request.
	result, err, _ := d.group.Do(base, func() (any, error) {
		metadata, err := d.fetch(ctx, base)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.cache[base] = metadata
		d.mu.Unlock()
		return metadata, nil
	})
	if err != nil {
		d.recordDiscovery(ctx, "error")
		return nil, err
	}
	return result.(*AuthorizationServerMetadata), nil
}

// CachedMetadata returns the cached metadata for serverURL, or nil when the
// server has not been discovered yet.
func (d *ServerDiscovery) CachedMetadata(serverURL string) *AuthorizationServerMetadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache[strings.TrimSuffix(serverURL, "/")]
}

// ClearCache drops the cached metadata for serverURL. An empty serverURL
// drops every entry.
func (d *ServerDiscovery) ClearCache(serverURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if serverURL == "" {
		d.cache = make(map[string]*AuthorizationServerMetadata)
		return
	}
	delete(d.cache, strings.TrimSuffix(serverURL, "/"))
}

func (d *ServerDiscovery) fetch(ctx context.Context, base string) (*AuthorizationServerMetadata, error) {
	wellKnownURL := base + WellKnownPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, &ServerDiscoveryError{ServerURL: base, Message: "failed to build discovery request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Message: fmt.Sprintf("discovery request to %s failed", wellKnownURL), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var metadata AuthorizationServerMetadata
		if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
			return nil, &ServerDiscoveryError{ServerURL: base, Message: "failed to decode metadata document", Err: err}
		}
		d.applyDefaults(&metadata, base)
		d.logger.Debug("discovered server metadata",
			"server_url", base,
			"authorization_endpoint", metadata.AuthorizationEndpoint,
			"token_endpoint", metadata.TokenEndpoint,
			"registration_endpoint", metadata.RegistrationEndpoint)
		d.recordDiscovery(ctx, "ok")
		return &metadata, nil

	case resp.StatusCode == http.StatusNotFound:
		// No metadata document. Assume conventional endpoint paths so
		// servers without discovery support still work.
		d.logger.Info("server has no metadata document, using default endpoints",
			"server_url", base)
		d.recordDiscovery(ctx, "default")
		return DefaultMetadata(base), nil

	default:
		return nil, &ServerDiscoveryError{
			ServerURL: base,
			Message:   fmt.Sprintf("discovery endpoint returned status %d", resp.StatusCode),
		}
	}
}

// applyDefaults fills gaps in a served metadata document: missing endpoints
// get conventional defaults, relative endpoint URLs are resolved against the
// server base, and missing capability lists are logged at warn level.
func (d *ServerDiscovery) applyDefaults(metadata *AuthorizationServerMetadata, base string) {
	defaults := DefaultMetadata(base)

	if metadata.AuthorizationEndpoint == "" {
		metadata.AuthorizationEndpoint = defaults.AuthorizationEndpoint
	}
	if metadata.TokenEndpoint == "" {
		metadata.TokenEndpoint = defaults.TokenEndpoint
	}
	if metadata.RegistrationEndpoint == "" {
		metadata.RegistrationEndpoint = defaults.RegistrationEndpoint
	}

	metadata.AuthorizationEndpoint = resolveEndpoint(base, metadata.AuthorizationEndpoint)
	metadata.TokenEndpoint = resolveEndpoint(base, metadata.TokenEndpoint)
	metadata.RegistrationEndpoint = resolveEndpoint(base, metadata.RegistrationEndpoint)
	metadata.RevocationEndpoint = resolveEndpoint(base, metadata.RevocationEndpoint)

	if len(metadata.ScopesSupported) == 0 {
		metadata.ScopesSupported = append([]string(nil), DefaultScopes...)
	}
	if len(metadata.CodeChallengeMethodsSupported) > 0 && !metadata.SupportsS256() {
		d.logger.Warn("server does not declare S256 support, proceeding anyway",
			"server_url", base,
			"methods", metadata.CodeChallengeMethodsSupported)
	}
	if len(metadata.GrantTypesSupported) > 0 && !metadata.SupportsGrantType("authorization_code") {
		d.logger.Warn("server does not declare authorization_code support",
			"server_url", base,
			"grant_types", metadata.GrantTypesSupported)
	}
}

func (d *ServerDiscovery) recordDiscovery(ctx context.Context, result string) {
	if d.inst != nil {
		d.inst.Metrics().RecordDiscovery(ctx, result)
	}
}

// DefaultMetadata synthesizes metadata for a server without a discovery
// document, using conventional endpoint paths under the server base URL.
func DefaultMetadata(serverURL string) *AuthorizationServerMetadata {
	base := strings.TrimSuffix(serverURL, "/")
	return &AuthorizationServerMetadata{
		Issuer:                        base,
		AuthorizationEndpoint:         base + "/authorize",
		TokenEndpoint:                 base + "/token",
		RegistrationEndpoint:          base + "/register",
		ScopesSupported:               append([]string(nil), DefaultScopes...),
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
}

// resolveEndpoint resolves endpoint against base when it is a relative URL.
// Empty and absolute endpoints pass through unchanged.
func resolveEndpoint(base, endpoint string) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return endpoint
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return baseURL.ResolveReference(ref).String()
}
