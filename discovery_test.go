package oauthclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func metadataServer(t *testing.T, status int, metadata *AuthorizationServerMetadata) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metadata)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDiscover_ServedMetadata(t *testing.T) {
	served := &AuthorizationServerMetadata{
		Issuer:                        "https://issuer.example.com",
		AuthorizationEndpoint:         "https://issuer.example.com/oauth/authorize",
		TokenEndpoint:                 "https://issuer.example.com/oauth/token",
		RegistrationEndpoint:          "https://issuer.example.com/oauth/register",
		ScopesSupported:               []string{"read"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
	srv, _ := metadataServer(t, http.StatusOK, served)

	d := NewServerDiscovery()
	metadata, err := d.Discover(t.Context(), srv.URL, false)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	if metadata.AuthorizationEndpoint != served.AuthorizationEndpoint {
		t.Errorf("AuthorizationEndpoint = %q, want %q", metadata.AuthorizationEndpoint, served.AuthorizationEndpoint)
	}
	if metadata.TokenEndpoint != served.TokenEndpoint {
		t.Errorf("TokenEndpoint = %q, want %q", metadata.TokenEndpoint, served.TokenEndpoint)
	}
	if !metadata.SupportsS256() {
		t.Error("SupportsS256() = false, want true")
	}
}

func TestDiscover_NotFoundFallsBackToDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	d := NewServerDiscovery()
	metadata, err := d.Discover(t.Context(), srv.URL, false)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	if metadata.AuthorizationEndpoint != srv.URL+"/authorize" {
		t.Errorf("AuthorizationEndpoint = %q, want %q", metadata.AuthorizationEndpoint, srv.URL+"/authorize")
	}
	if metadata.TokenEndpoint != srv.URL+"/token" {
		t.Errorf("TokenEndpoint = %q, want %q", metadata.TokenEndpoint, srv.URL+"/token")
	}
	if metadata.RegistrationEndpoint != srv.URL+"/register" {
		t.Errorf("RegistrationEndpoint = %q, want %q", metadata.RegistrationEndpoint, srv.URL+"/register")
	}
	if len(metadata.ScopesSupported) != 2 || metadata.ScopesSupported[0] != "read" || metadata.ScopesSupported[1] != "write" {
		t.Errorf("ScopesSupported = %v, want [read write]", metadata.ScopesSupported)
	}
	if !metadata.SupportsS256() {
		t.Error("default metadata should declare S256")
	}
	if !metadata.SupportsGrantType("refresh_token") {
		t.Error("default metadata should declare refresh_token")
	}
}

func TestDiscover_ServerErrorIsNotDefaulted(t *testing.T) {
	// Only 404 triggers the default fallback. A 500 is a real failure.
	srv, _ := metadataServer(t, http.StatusInternalServerError, nil)

	d := NewServerDiscovery()
	_, err := d.Discover(t.Context(), srv.URL, false)
	if err == nil {
		t.Fatal("Discover() with 500 should fail")
	}

	var discoveryErr *ServerDiscoveryError
	if !errors.As(err, &discoveryErr) {
		t.Fatalf("error = %T, want *ServerDiscoveryError", err)
	}
	if Code(err) != CodeDiscoveryError {
		t.Errorf("Code() = %q, want %q", Code(err), CodeDiscoveryError)
	}
}

func TestDiscover_MalformedMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	t.Cleanup(srv.Close)

	d := NewServerDiscovery()
	_, err := d.Discover(t.Context(), srv.URL, false)

	var discoveryErr *ServerDiscoveryError
	if !errors.As(err, &discoveryErr) {
		t.Fatalf("error = %T, want *ServerDiscoveryError", err)
	}
}

func TestDiscover_NetworkError(t *testing.T) {
	// Closed server produces a connection error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d := NewServerDiscovery()
	_, err := d.Discover(t.Context(), srv.URL, false)
	if !IsNetworkError(err) {
		t.Errorf("error = %v, want NetworkError", err)
	}
}

func TestDiscover_EmptyServerURL(t *testing.T) {
	d := NewServerDiscovery()
	if _, err := d.Discover(t.Context(), "", false); err == nil {
		t.Error("Discover(\"\") should fail")
	}
}

func TestDiscover_CachesResults(t *testing.T) {
	srv, hits := metadataServer(t, http.StatusOK, &AuthorizationServerMetadata{
		AuthorizationEndpoint: "https://issuer.example.com/authorize",
		TokenEndpoint:         "https://issuer.example.com/token",
	})

	d := NewServerDiscovery()
	for i := 0; i < 3; i++ {
		if _, err := d.Discover(t.Context(), srv.URL, false); err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("well-known requests = %d, want 1", n)
	}

	// Trailing slash normalizes to the same cache entry
	if _, err := d.Discover(t.Context(), srv.URL+"/", false); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("well-known requests after trailing slash = %d, want 1", n)
	}
}

func TestDiscover_ForceRefresh(t *testing.T) {
	srv, hits := metadataServer(t, http.StatusOK, &AuthorizationServerMetadata{
		AuthorizationEndpoint: "https://issuer.example.com/authorize",
		TokenEndpoint:         "https://issuer.example.com/token",
	})

	d := NewServerDiscovery()
	if _, err := d.Discover(t.Context(), srv.URL, false); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if _, err := d.Discover(t.Context(), srv.URL, true); err != nil {
		t.Fatalf("Discover(force) error = %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("well-known requests = %d, want 2", n)
	}
}

func TestDiscover_ClearCache(t *testing.T) {
	srv, hits := metadataServer(t, http.StatusOK, &AuthorizationServerMetadata{
		AuthorizationEndpoint: "https://issuer.example.com/authorize",
		TokenEndpoint:         "https://issuer.example.com/token",
	})

	d := NewServerDiscovery()
	if _, err := d.Discover(t.Context(), srv.URL, false); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if d.CachedMetadata(srv.URL) == nil {
		t.Fatal("CachedMetadata() = nil after discovery")
	}

	d.ClearCache(srv.URL)
	if d.CachedMetadata(srv.URL) != nil {
		t.Error("CachedMetadata() non-nil after ClearCache")
	}

	if _, err := d.Discover(t.Context(), srv.URL, false); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("well-known requests = %d, want 2", n)
	}
}

func TestDiscover_FillsMissingEndpoints(t *testing.T) {
	srv, _ := metadataServer(t, http.StatusOK, &AuthorizationServerMetadata{
		// Document exists but names no endpoints
		Issuer: "https://issuer.example.com",
	})

	d := NewServerDiscovery()
	metadata, err := d.Discover(t.Context(), srv.URL, false)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if metadata.AuthorizationEndpoint != srv.URL+"/authorize" {
		t.Errorf("AuthorizationEndpoint = %q, want default", metadata.AuthorizationEndpoint)
	}
	if metadata.TokenEndpoint != srv.URL+"/token" {
		t.Errorf("TokenEndpoint = %q, want default", metadata.TokenEndpoint)
	}
}

func TestDiscover_ResolvesRelativeEndpoints(t *testing.T) {
	srv, _ := metadataServer(t, http.StatusOK, &AuthorizationServerMetadata{
		AuthorizationEndpoint: "/oauth/authorize",
		TokenEndpoint:         "/oauth/token",
	})

	d := NewServerDiscovery()
	metadata, err := d.Discover(t.Context(), srv.URL, false)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if metadata.AuthorizationEndpoint != srv.URL+"/oauth/authorize" {
		t.Errorf("AuthorizationEndpoint = %q, want %q", metadata.AuthorizationEndpoint, srv.URL+"/oauth/authorize")
	}
	if metadata.TokenEndpoint != srv.URL+"/oauth/token" {
		t.Errorf("TokenEndpoint = %q, want %q", metadata.TokenEndpoint, srv.URL+"/oauth/token")
	}
}

func TestDiscover_ConcurrentRequestsCollapse(t *testing.T) {
	srv, hits := metadataServer(t, http.StatusOK, &AuthorizationServerMetadata{
		AuthorizationEndpoint: "https://issuer.example.com/authorize",
		TokenEndpoint:         "https://issuer.example.com/token",
	})

	d := NewServerDiscovery()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Discover(t.Context(), srv.URL, false); err != nil {
				t.Errorf("Discover() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Concurrent calls collapse to at most a couple of fetches
	if n := hits.Load(); n > 2 {
		t.Errorf("well-known requests = %d, want <= 2", n)
	}
}

func TestDefaultMetadata(t *testing.T) {
	metadata := DefaultMetadata("https://mcp.example.com/")
	if metadata.Issuer != "https://mcp.example.com" {
		t.Errorf("Issuer = %q, want trailing slash stripped", metadata.Issuer)
	}
	if metadata.AuthorizationEndpoint != "https://mcp.example.com/authorize" {
		t.Errorf("AuthorizationEndpoint = %q", metadata.AuthorizationEndpoint)
	}
}
