package oauthclient

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ConfigFromEnv. Invalid values log a warning
// and keep the built-in default instead of failing.
const (
	EnvStoragePath  = "MCP_CLIENT_STORAGE_PATH"
	EnvTimeout      = "MCP_CLIENT_TIMEOUT"
	EnvMaxRetries   = "MCP_CLIENT_MAX_RETRIES"
	EnvRetryBackoff = "MCP_CLIENT_RETRY_BACKOFF"
	EnvRedirectURI  = "MCP_CLIENT_REDIRECT_URI"
	EnvScopes       = "MCP_CLIENT_SCOPES"
	EnvTokenTTL     = "MCP_CLIENT_TOKEN_CACHE_TTL"
	EnvAuditEvents  = "MCP_CLIENT_LOG_AUTH_EVENTS"
)

// Defaults applied by DefaultConfig and by Validate when a field is zero.
const (
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultBackoffFactor = 1.0
	DefaultRedirectURI   = "http://localhost:8080/auth/callback"
	DefaultClientName    = "MCP OAuth Client"
	DefaultTokenCacheTTL = 5 * time.Minute
	defaultStorageDir    = ".mcp_client"
)

// DefaultScopes are requested when neither the server config nor discovery
// supplies a scope list.
var DefaultScopes = []string{"read", "write"}

// Config holds client-wide settings shared by every server connection.
// Structured using composition for better organization and maintainability.
type Config struct {
	// StoragePath is the directory for encrypted credential files.
	// Default: ~/.mcp_client
	StoragePath string

	// CryptoPassword protects credentials at rest. Empty falls back to the
	// MCP_CLIENT_CRYPTO_PASSWORD environment variable, then to an insecure
	// development default (with a logged warning).
	CryptoPassword string

	// HTTPTimeout applies to every outbound request. Default: 30s.
	HTTPTimeout time.Duration

	// MaxRetries is the number of retries after the initial attempt for
	// transient network failures. Default: 3.
	MaxRetries int

	// BackoffFactor scales the exponential retry delay (2^attempt seconds
	// times this factor). Default: 1.0.
	BackoffFactor float64

	// RedirectURI receives the authorization callback. Default:
	// http://localhost:8080/auth/callback
	RedirectURI string

	// Scopes requested during authorization when the server config has none.
	Scopes []string

	// TokenCacheTTL bounds how long decrypted tokens are served from memory
	// before re-reading storage. Default: 5 minutes.
	TokenCacheTTL time.Duration

	// LogAuthEvents enables audit logging of authentication lifecycle
	// events (secrets hashed, never logged raw). Default: true.
	LogAuthEvents bool

	// Servers holds per-server overrides keyed by server base URL.
	Servers map[string]ServerConfig

	// Logger for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for OAuth and resource requests.
	// If not provided, one is built with HTTPTimeout.
	HTTPClient *http.Client
}

// ServerConfig holds per-server overrides. Zero fields fall back to discovery
// results and then to Config defaults.
type ServerConfig struct {
	// Name is a human-readable label used in logs.
	Name string

	// AuthorizationEndpoint overrides the discovered authorization endpoint.
	AuthorizationEndpoint string

	// TokenEndpoint overrides the discovered token endpoint.
	TokenEndpoint string

	// RegistrationEndpoint overrides the discovered registration endpoint.
	RegistrationEndpoint string

	// Scopes overrides Config.Scopes for this server.
	Scopes []string

	// RedirectURI overrides Config.RedirectURI for this server.
	RedirectURI string

	// ClientName is sent during dynamic client registration.
	// Default: "MCP OAuth Client".
	ClientName string
}

// DefaultConfig returns a Config with every default applied. The storage path
// is ~/.mcp_client, falling back to a relative .mcp_client when the home
// directory cannot be determined.
func DefaultConfig() *Config {
	return &Config{
		StoragePath:   defaultStoragePath(),
		HTTPTimeout:   DefaultHTTPTimeout,
		MaxRetries:    DefaultMaxRetries,
		BackoffFactor: DefaultBackoffFactor,
		RedirectURI:   DefaultRedirectURI,
		Scopes:        append([]string(nil), DefaultScopes...),
		TokenCacheTTL: DefaultTokenCacheTTL,
		LogAuthEvents: true,
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultStorageDir
	}
	return filepath.Join(home, defaultStorageDir)
}

// ConfigFromEnv returns DefaultConfig overridden by MCP_CLIENT_* environment
// variables. Malformed values are reported through logger and ignored.
func ConfigFromEnv(logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()
	cfg.Logger = logger

	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv(EnvRedirectURI); v != "" {
		cfg.RedirectURI = v
	}
	if v := os.Getenv(EnvScopes); v != "" {
		cfg.Scopes = strings.Fields(v)
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.HTTPTimeout = time.Duration(secs) * time.Second
		} else {
			logger.Warn("ignoring invalid timeout from environment",
				"var", EnvTimeout, "value", v)
		}
	}
	if v := os.Getenv(EnvMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		} else {
			logger.Warn("ignoring invalid retry count from environment",
				"var", EnvMaxRetries, "value", v)
		}
	}
	if v := os.Getenv(EnvRetryBackoff); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.BackoffFactor = f
		} else {
			logger.Warn("ignoring invalid backoff factor from environment",
				"var", EnvRetryBackoff, "value", v)
		}
	}
	if v := os.Getenv(EnvTokenTTL); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TokenCacheTTL = time.Duration(secs) * time.Second
		} else {
			logger.Warn("ignoring invalid token cache TTL from environment",
				"var", EnvTokenTTL, "value", v)
		}
	}
	if v := os.Getenv(EnvAuditEvents); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogAuthEvents = b
		} else {
			logger.Warn("ignoring invalid audit flag from environment",
				"var", EnvAuditEvents, "value", v)
		}
	}
	return cfg
}

// Validate checks the config and fills zero fields with defaults. It returns
// a ConfigurationError only for values that have no safe fallback.
func (c *Config) Validate() error {
	if c.StoragePath == "" {
		c.StoragePath = defaultStoragePath()
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if !strings.HasPrefix(c.RedirectURI, "http://") && !strings.HasPrefix(c.RedirectURI, "https://") {
		return &ConfigurationError{Field: "RedirectURI", Message: "must be an http or https URL"}
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.TokenCacheTTL <= 0 {
		c.TokenCacheTTL = DefaultTokenCacheTTL
	}
	return nil
}

// logger returns the configured logger or slog.Default.
func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// httpClient returns the configured HTTP client or one built from HTTPTimeout.
func (c *Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.HTTPTimeout}
}

// ServerConfigFor returns the override block for serverURL with defaults
// filled in, building a pure-default block when none is configured.
func (c *Config) ServerConfigFor(serverURL string) ServerConfig {
	sc := c.Servers[strings.TrimSuffix(serverURL, "/")]
	if sc.RedirectURI == "" {
		sc.RedirectURI = c.RedirectURI
	}
	if len(sc.Scopes) == 0 {
		sc.Scopes = append([]string(nil), c.Scopes...)
	}
	if sc.ClientName == "" {
		sc.ClientName = DefaultClientName
	}
	return sc
}
