package file

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/mcp-oauth-client/security"
	"github.com/giantswarm/mcp-oauth-client/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	box := security.NewCryptoBox("test-password", nil)
	s, err := New(t.TempDir(), box)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_RequiresCryptoBox(t *testing.T) {
	if _, err := New(t.TempDir(), nil); err == nil {
		t.Error("New() with nil crypto box should fail")
	}
}

func TestNew_CreatesDirectories(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "store")
	box := security.NewCryptoBox("test-password", nil)
	if _, err := New(base, box); err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, dir := range []string{base, filepath.Join(base, "tokens"), filepath.Join(base, "clients")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
		if perm := info.Mode().Perm(); perm != 0o700 {
			t.Errorf("%s permissions = %o, want 0700", dir, perm)
		}
	}
}

func TestStore_TokenLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := storage.NewKey("https://mcp.example.com", "alice")

	// Load before save
	if _, err := s.LoadTokens(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadTokens() before save error = %v, want ErrNotFound", err)
	}

	record := &storage.TokenRecord{
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		TokenType:    "Bearer",
		Scope:        "read write",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		StoredAt:     time.Now().Unix(),
	}
	if err := s.SaveTokens(ctx, key, record); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	loaded, err := s.LoadTokens(ctx, key)
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if loaded.AccessToken != record.AccessToken {
		t.Errorf("AccessToken = %q, want %q", loaded.AccessToken, record.AccessToken)
	}
	if loaded.RefreshToken != record.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", loaded.RefreshToken, record.RefreshToken)
	}
	if loaded.ExpiresAt != record.ExpiresAt {
		t.Errorf("ExpiresAt = %d, want %d", loaded.ExpiresAt, record.ExpiresAt)
	}

	if err := s.DeleteTokens(ctx, key); err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}
	if _, err := s.LoadTokens(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadTokens() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting again is not an error
	if err := s.DeleteTokens(ctx, key); err != nil {
		t.Errorf("DeleteTokens() on missing record error = %v", err)
	}
}

func TestStore_ClientLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := storage.NewKey("https://mcp.example.com", "alice")

	if _, err := s.LoadClient(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadClient() before save error = %v, want ErrNotFound", err)
	}

	reg := &storage.ClientRegistration{
		ClientID:     "abc123",
		ClientName:   "Test Client",
		RedirectURIs: []string{"http://localhost:8080/auth/callback"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		Scope:        "read write",
		RegisteredAt: time.Now().Truncate(time.Second),
	}
	if err := s.SaveClient(ctx, key, reg); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	loaded, err := s.LoadClient(ctx, key)
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if loaded.ClientID != reg.ClientID {
		t.Errorf("ClientID = %q, want %q", loaded.ClientID, reg.ClientID)
	}
	if len(loaded.RedirectURIs) != 1 || loaded.RedirectURIs[0] != reg.RedirectURIs[0] {
		t.Errorf("RedirectURIs = %v, want %v", loaded.RedirectURIs, reg.RedirectURIs)
	}

	if err := s.DeleteClient(ctx, key); err != nil {
		t.Fatalf("DeleteClient() error = %v", err)
	}
	if _, err := s.LoadClient(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadClient() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_FilesAreEncrypted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := storage.NewKey("https://mcp.example.com", "alice")

	record := &storage.TokenRecord{
		AccessToken: "super-secret-access-token",
		TokenType:   "Bearer",
	}
	if err := s.SaveTokens(ctx, key, record); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	path := s.tokenPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	// File content is base64, not the raw token
	if strings.Contains(string(data), "super-secret-access-token") {
		t.Error("token stored in plaintext")
	}
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		t.Fatalf("file content is not base64: %v", err)
	}
	if strings.Contains(string(raw), "super-secret-access-token") {
		t.Error("token visible after base64 decode")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestStore_WrongPasswordFailsToLoad(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	key := storage.NewKey("https://mcp.example.com", "alice")

	s1, err := New(base, security.NewCryptoBox("password-one", nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	record := &storage.TokenRecord{AccessToken: "token", TokenType: "Bearer"}
	if err := s1.SaveTokens(ctx, key, record); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	s2, err := New(base, security.NewCryptoBox("password-two", nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s2.LoadTokens(ctx, key); err == nil {
		t.Error("LoadTokens() with wrong password should fail")
	}
}

func TestStore_KeyIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	keys := []storage.Key{
		storage.NewKey("https://a.example.com", "alice"),
		storage.NewKey("https://a.example.com", "bob"),
		storage.NewKey("https://b.example.com", "alice"),
		storage.NewKey("https://b.example.com", ""),
	}
	for i, key := range keys {
		record := &storage.TokenRecord{
			AccessToken: "token-" + key.FileToken(),
			TokenType:   "Bearer",
			StoredAt:    int64(i),
		}
		if err := s.SaveTokens(ctx, key, record); err != nil {
			t.Fatalf("SaveTokens(%v) error = %v", key, err)
		}
	}

	for _, key := range keys {
		loaded, err := s.LoadTokens(ctx, key)
		if err != nil {
			t.Fatalf("LoadTokens(%v) error = %v", key, err)
		}
		want := "token-" + key.FileToken()
		if loaded.AccessToken != want {
			t.Errorf("AccessToken for %v = %q, want %q", key, loaded.AccessToken, want)
		}
	}

	// Deleting one key leaves the others intact
	if err := s.DeleteTokens(ctx, keys[0]); err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}
	if _, err := s.LoadTokens(ctx, keys[1]); err != nil {
		t.Errorf("LoadTokens(%v) after unrelated delete error = %v", keys[1], err)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	box := security.NewCryptoBox("test-password", nil)
	key := storage.NewKey("https://mcp.example.com", "alice")

	s1, err := New(base, box)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	record := &storage.TokenRecord{AccessToken: "persisted", TokenType: "Bearer"}
	if err := s1.SaveTokens(ctx, key, record); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	// A second store over the same directory sees the record
	s2, err := New(base, security.NewCryptoBox("test-password", nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	loaded, err := s2.LoadTokens(ctx, key)
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if loaded.AccessToken != "persisted" {
		t.Errorf("AccessToken = %q, want %q", loaded.AccessToken, "persisted")
	}
}

func TestStore_ContextCancellation(t *testing.T) {
	s := newTestStore(t)
	key := storage.NewKey("https://mcp.example.com", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SaveTokens(ctx, key, &storage.TokenRecord{AccessToken: "t"}); !errors.Is(err, context.Canceled) {
		t.Errorf("SaveTokens() with canceled context error = %v, want context.Canceled", err)
	}
	if _, err := s.LoadTokens(ctx, key); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadTokens() with canceled context error = %v, want context.Canceled", err)
	}
	if err := s.DeleteTokens(ctx, key); !errors.Is(err, context.Canceled) {
		t.Errorf("DeleteTokens() with canceled context error = %v, want context.Canceled", err)
	}
}

func TestStore_CorruptedFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := storage.NewKey("https://mcp.example.com", "alice")

	if err := s.SaveTokens(ctx, key, &storage.TokenRecord{AccessToken: "t"}); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}
	if err := os.WriteFile(s.tokenPath(key), []byte("not-valid-ciphertext"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := s.LoadTokens(ctx, key); err == nil {
		t.Error("LoadTokens() on corrupted file should fail")
	}
}
