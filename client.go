package oauthclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/giantswarm/mcp-oauth-client/instrumentation"
	"github.com/giantswarm/mcp-oauth-client/pkce"
	"github.com/giantswarm/mcp-oauth-client/security"
	"github.com/giantswarm/mcp-oauth-client/storage"
	"github.com/giantswarm/mcp-oauth-client/token"
)

// Client drives the OAuth 2.1 authorization-code flow with PKCE for one
// (server, user) pair: metadata discovery, dynamic client registration,
// the authorization redirect, code exchange, token refresh, and
// authenticated resource requests.
//
// The lifecycle moves from unregistered through registered to awaiting
// authorization and authenticated. Metadata and registration are each
// resolved at most once and memoized; the memoization lock is held across
// the registration request so concurrent callers cannot register twice.
type Client struct {
	config    *Config
	serverCfg ServerConfig
	key       storage.Key
	store     storage.Store

	discovery  *ServerDiscovery
	tokens     *token.Manager
	pkce       *pkce.Handler
	httpClient *http.Client
	logger     *slog.Logger
	auditor    *security.Auditor
	inst       *instrumentation.Instrumentation

	mu           sync.Mutex
	metadata     *AuthorizationServerMetadata
	registration *storage.ClientRegistration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientDiscovery shares a ServerDiscovery (and its metadata cache)
// across clients. Without it each client gets its own.
func WithClientDiscovery(discovery *ServerDiscovery) ClientOption {
	return func(c *Client) {
		if discovery != nil {
			c.discovery = discovery
		}
	}
}

// WithClientInstrumentation enables flow metrics and tracing.
func WithClientInstrumentation(inst *instrumentation.Instrumentation) ClientOption {
	return func(c *Client) {
		c.inst = inst
	}
}

// NewClient creates a Client for serverURL on behalf of userID. An empty
// userID stores credentials under the "default" namespace; it grants no
// implicit authentication. The store holds both tokens and the dynamic
// client registration, typically an encrypted file store.
func NewClient(config *Config, serverURL, userID string, store storage.Store, opts ...ClientOption) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if serverURL == "" {
		return nil, &ConfigurationError{Field: "serverURL", Message: "must not be empty"}
	}
	if store == nil {
		return nil, &ConfigurationError{Field: "store", Message: "storage is required"}
	}

	key := storage.NewKey(serverURL, userID)
	logger := config.logger()

	c := &Client{
		config:     config,
		serverCfg:  config.ServerConfigFor(serverURL),
		key:        key,
		store:      store,
		pkce:       pkce.NewHandler(),
		httpClient: config.httpClient(),
		logger:     logger,
		auditor:    security.NewAuditor(logger, config.LogAuthEvents),
		tokens: token.NewManager(key, store,
			token.WithLogger(logger),
			token.WithCacheTTL(config.TokenCacheTTL)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.discovery == nil {
		c.discovery = NewServerDiscovery(
			WithDiscoveryHTTPClient(c.httpClient),
			WithDiscoveryLogger(logger))
	}
	return c, nil
}

// ServerURL returns the normalized server base URL.
func (c *Client) ServerURL() string {
	return c.key.ServerURL
}

// UserID returns the storage user namespace, "default" when none was given.
func (c *Client) UserID() string {
	return c.key.UserID
}

// Tokens exposes the client's token manager for direct lifecycle queries.
func (c *Client) Tokens() *token.Manager {
	return c.tokens
}

// ==================== Metadata and registration ====================

// ensureServerMetadata resolves server metadata once and memoizes it.
// Callers must hold c.mu.
func (c *Client) ensureServerMetadata(ctx context.Context) (*AuthorizationServerMetadata, error) {
	if c.metadata != nil {
		return c.metadata, nil
	}

	metadata, err := c.discovery.Discover(ctx, c.key.ServerURL, false)
	if err != nil {
		return nil, err
	}

	// Per-server config overrides beat discovery results.
	resolved := *metadata
	if c.serverCfg.AuthorizationEndpoint != "" {
		resolved.AuthorizationEndpoint = c.serverCfg.AuthorizationEndpoint
	}
	if c.serverCfg.TokenEndpoint != "" {
		resolved.TokenEndpoint = c.serverCfg.TokenEndpoint
	}
	if c.serverCfg.RegistrationEndpoint != "" {
		resolved.RegistrationEndpoint = c.serverCfg.RegistrationEndpoint
	}

	c.metadata = &resolved
	return c.metadata, nil
}

// ensureClientRegistered loads or performs dynamic client registration once
// and memoizes the result. Callers must hold c.mu; the lock intentionally
// spans the registration request so two goroutines cannot both register.
func (c *Client) ensureClientRegistered(ctx context.Context) (*storage.ClientRegistration, error) {
	if c.registration != nil {
		return c.registration, nil
	}

	reg, err := c.store.LoadClient(ctx, c.key)
	if err == nil {
		c.registration = reg
		c.logger.Debug("loaded persisted client registration",
			"server_url", c.key.ServerURL,
			"client_id", reg.ClientID)
		return reg, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load client registration: %w", err)
	}

	metadata, err := c.ensureServerMetadata(ctx)
	if err != nil {
		return nil, err
	}

	reg, err = c.registerDynamicClient(ctx, metadata)
	if err != nil {
		return nil, err
	}

	if err := c.store.SaveClient(ctx, c.key, reg); err != nil {
		return nil, fmt.Errorf("failed to persist client registration: %w", err)
	}

	c.registration = reg
	c.auditor.LogClientRegistered(c.key.ServerURL, reg.ClientID)
	if c.inst != nil {
		c.inst.Metrics().RecordClientRegistration(ctx, c.key.ServerURL)
	}
	return reg, nil
}

// registerDynamicClient performs RFC 7591 registration as a public PKCE
// client (token_endpoint_auth_method "none"). Only a 201 is success.
func (c *Client) registerDynamicClient(ctx context.Context, metadata *AuthorizationServerMetadata) (*storage.ClientRegistration, error) {
	if metadata.RegistrationEndpoint == "" {
		return nil, &ClientRegistrationError{
			ServerURL: c.key.ServerURL,
			Message:   "server has no registration endpoint",
		}
	}

	request := ClientRegistrationRequest{
		RedirectURIs:            []string{c.serverCfg.RedirectURI},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              c.serverCfg.ClientName,
		Scope:                   strings.Join(c.serverCfg.Scopes, " "),
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, &ClientRegistrationError{ServerURL: c.key.ServerURL, Message: "failed to encode registration request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.RegistrationEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, &ClientRegistrationError{ServerURL: c.key.ServerURL, Message: "failed to build registration request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Message: "registration request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		errResp := decodeErrorResponse(resp.Body)
		return nil, &ClientRegistrationError{
			ServerURL: c.key.ServerURL,
			Message:   fmt.Sprintf("registration endpoint returned status %d: %s", resp.StatusCode, errResp.Error),
		}
	}

	var regResp ClientRegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		return nil, &ClientRegistrationError{ServerURL: c.key.ServerURL, Message: "failed to decode registration response", Err: err}
	}
	if regResp.ClientID == "" {
		return nil, &ClientRegistrationError{ServerURL: c.key.ServerURL, Message: "registration response has no client_id"}
	}

	c.logger.Info("registered dynamic client",
		"server_url", c.key.ServerURL,
		"client_id", regResp.ClientID)

	return &storage.ClientRegistration{
		ClientID:                regResp.ClientID,
		ClientSecret:            regResp.ClientSecret,
		RegistrationClientURI:   regResp.RegistrationClientURI,
		ClientName:              regResp.ClientName,
		RedirectURIs:            regResp.RedirectURIs,
		TokenEndpointAuthMethod: regResp.TokenEndpointAuthMethod,
		GrantTypes:              regResp.GrantTypes,
		ResponseTypes:           regResp.ResponseTypes,
		Scope:                   regResp.Scope,
		RegisteredAt:            time.Now(),
	}, nil
}

// ==================== Authorization flow ====================

// StartAuthenticationFlow ensures metadata and registration, generates a
// fresh PKCE session, and returns the authorization URL for the user to
// visit. It never blocks waiting for the user.
func (c *Client) StartAuthenticationFlow(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metadata, err := c.ensureServerMetadata(ctx)
	if err != nil {
		return "", err
	}
	reg, err := c.ensureClientRegistered(ctx)
	if err != nil {
		return "", err
	}

	_, challenge, state, err := c.pkce.Generate()
	if err != nil {
		return "", &PKCEError{Message: fmt.Sprintf("failed to generate PKCE session: %v", err)}
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", reg.ClientID)
	params.Set("redirect_uri", c.serverCfg.RedirectURI)
	params.Set("scope", strings.Join(c.serverCfg.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", pkce.Method)

	authURL := metadata.AuthorizationEndpoint + "?" + params.Encode()

	c.auditor.LogFlowStarted(c.key.ServerURL, c.key.UserID, reg.ClientID)
	if c.inst != nil {
		c.inst.Metrics().RecordAuthorizationStarted(ctx, reg.ClientID)
	}
	c.logger.Debug("authorization flow started",
		"server_url", c.key.ServerURL,
		"user_id", c.key.UserID)
	return authURL, nil
}

// CompleteAuthenticationFlow validates the callback state and exchanges the
// authorization code for tokens. On state mismatch it returns a PKCEError
// and leaves the PKCE session in place so the flow can be retried. On
// success tokens are stored and the PKCE session is cleared.
func (c *Client) CompleteAuthenticationFlow(ctx context.Context, code, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pkce.ValidateState(state) {
		c.auditor.LogStateMismatch(c.key.ServerURL, c.key.UserID)
		if c.inst != nil {
			c.inst.Metrics().RecordPKCEValidationFailed(ctx)
		}
		return &PKCEError{Message: "state parameter mismatch"}
	}

	metadata, err := c.ensureServerMetadata(ctx)
	if err != nil {
		return err
	}
	reg, err := c.ensureClientRegistered(ctx)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.serverCfg.RedirectURI)
	form.Set("client_id", reg.ClientID)
	form.Set("code_verifier", c.pkce.Verifier())

	tokenResp, err := c.doTokenRequest(ctx, metadata.TokenEndpoint, form)
	if err != nil {
		c.auditor.LogAuthFailure(c.key.ServerURL, c.key.UserID, "code exchange failed")
		if c.inst != nil {
			c.inst.Metrics().RecordCodeExchange(ctx, reg.ClientID, false)
		}
		return err
	}

	if err := c.tokens.Store(ctx, &token.Tokens{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
		ExpiresIn:    tokenResp.ExpiresIn,
	}); err != nil {
		return err
	}

	c.pkce.Clear()
	c.auditor.LogCodeExchanged(c.key.ServerURL, c.key.UserID, reg.ClientID)
	if c.inst != nil {
		c.inst.Metrics().RecordCodeExchange(ctx, reg.ClientID, true)
	}
	c.logger.Info("authentication completed",
		"server_url", c.key.ServerURL,
		"user_id", c.key.UserID)
	return nil
}

// GetAccessToken returns a valid access token, refreshing with the stored
// refresh token when the cached one has expired. It returns "" with a nil
// error when the user is simply not authenticated; only unexpected failures
// produce an error.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if accessToken != "" {
		return accessToken, nil
	}

	refreshToken, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", nil
	}

	if err := c.RefreshTokens(ctx); err != nil {
		c.logger.Debug("token refresh failed",
			"server_url", c.key.ServerURL,
			"user_id", c.key.UserID,
			"error", err)
		return "", nil
	}
	return c.tokens.AccessToken(ctx)
}

// IsAuthenticated reports whether GetAccessToken would return a token,
// without performing a refresh.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	valid, err := c.tokens.Valid(ctx)
	if err != nil {
		return false, err
	}
	if valid {
		return true, nil
	}
	refreshToken, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return false, err
	}
	return refreshToken != "", nil
}

// RefreshTokens performs a refresh-token grant and stores the result. When
// the response omits a refresh token, the previous one is kept.
func (c *Client) RefreshTokens(ctx context.Context) error {
	refreshToken, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if refreshToken == "" {
		return &TokenExpiredError{Message: "no refresh token available"}
	}

	c.mu.Lock()
	metadata, err := c.ensureServerMetadata(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	reg, err := c.ensureClientRegistered(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", reg.ClientID)

	tokenResp, err := c.doTokenRequest(ctx, metadata.TokenEndpoint, form)
	if err != nil {
		if c.inst != nil {
			c.inst.Metrics().RecordTokenRefresh(ctx, reg.ClientID, false)
		}
		return err
	}

	// Servers may rotate the refresh token or omit it; keep the old one
	// when omitted so refresh keeps working.
	newRefresh := tokenResp.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	if err := c.tokens.Store(ctx, &token.Tokens{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: newRefresh,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
		ExpiresIn:    tokenResp.ExpiresIn,
	}); err != nil {
		return err
	}

	c.auditor.LogTokenRefreshed(c.key.ServerURL, c.key.UserID, reg.ClientID)
	if c.inst != nil {
		c.inst.Metrics().RecordTokenRefresh(ctx, reg.ClientID, true)
	}
	return nil
}

// RevokeAuthentication clears stored tokens, the persisted client
// registration, and any in-flight PKCE session, returning the client to the
// unregistered state.
func (c *Client) RevokeAuthentication(ctx context.Context) error {
	if err := c.tokens.Clear(ctx); err != nil {
		return err
	}
	if err := c.store.DeleteClient(ctx, c.key); err != nil {
		return fmt.Errorf("failed to delete client registration: %w", err)
	}

	c.mu.Lock()
	c.registration = nil
	c.pkce.Clear()
	c.mu.Unlock()

	c.auditor.LogTokensCleared(c.key.ServerURL, c.key.UserID)
	if c.inst != nil {
		c.inst.Metrics().RecordTokensCleared(ctx)
	}
	c.logger.Info("authentication revoked",
		"server_url", c.key.ServerURL,
		"user_id", c.key.UserID)
	return nil
}

// TokenInfo returns a redacted view of the stored token set.
func (c *Client) TokenInfo(ctx context.Context) (*token.Info, error) {
	return c.tokens.Info(ctx)
}

// ==================== Authenticated requests ====================

// Request sends method+path to the resource server with a bearer token
// attached when one is available. A 401 response becomes an
// AuthenticationRequiredError without an authorization URL and without
// starting a flow. The transport layer builds on this: it serializes
// concurrent 401s and generates one authorization URL inside that
// serialized section, so a burst of rejected requests never mints
// competing PKCE sessions.
func (c *Client) Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	requestURL := c.key.ServerURL + "/" + strings.TrimPrefix(path, "/")

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	accessToken, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Message: fmt.Sprintf("request to %s failed", requestURL), Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.auditor.LogUnauthorizedResponse(c.key.ServerURL, c.key.UserID, path)
		if c.inst != nil {
			c.inst.Metrics().RecordAuthRequired(ctx, path)
		}
		return nil, &AuthenticationRequiredError{
			Message: fmt.Sprintf("server rejected %s %s", method, path),
		}
	}

	return resp, nil
}

// MakeAuthenticatedRequest is Request plus flow bootstrapping: on 401 it
// starts an authorization flow and returns an AuthenticationRequiredError
// carrying a fresh URL, ready to surface to the user. Intended for
// direct, single-caller use; concurrent callers should go through the
// transport package, which collapses simultaneous 401s into one flow.
func (c *Client) MakeAuthenticatedRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	resp, err := c.Request(ctx, method, path, body)
	var authErr *AuthenticationRequiredError
	if !errors.As(err, &authErr) {
		return resp, err
	}

	authURL, flowErr := c.StartAuthenticationFlow(ctx)
	if flowErr != nil {
		return nil, &AuthenticationRequiredError{
			Message: "server rejected request and authorization flow could not start",
			Err:     flowErr,
		}
	}
	authErr.AuthURL = authURL
	return nil, authErr
}

// ==================== Token endpoint ====================

// doTokenRequest posts a form to the token endpoint and decodes the
// response. Non-200 responses become OAuth2Error carrying the server's
// error code and description.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errResp := decodeErrorResponse(resp.Body)
		return nil, &OAuth2Error{
			Message:     fmt.Sprintf("token endpoint returned status %d", resp.StatusCode),
			ErrorValue:  errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, &OAuth2Error{Message: "failed to decode token response", Description: err.Error()}
	}
	if tokenResp.AccessToken == "" {
		return nil, &InvalidTokenError{Message: "token response has no access_token"}
	}
	return &tokenResp, nil
}

// decodeErrorResponse best-effort decodes an OAuth error body. Unparseable
// bodies yield a zero ErrorResponse rather than a second error.
func decodeErrorResponse(body io.Reader) ErrorResponse {
	var errResp ErrorResponse
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return errResp
	}
	_ = json.Unmarshal(data, &errResp)
	return errResp
}
