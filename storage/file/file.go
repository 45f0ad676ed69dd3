// Package file provides an encrypted file-backed implementation of the
// storage interfaces. Records are encrypted with AES-256-GCM before they
// touch disk, and directories and files are created with restrictive
// permissions (0700 and 0600).
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/giantswarm/mcp-oauth-client/instrumentation"
	"github.com/giantswarm/mcp-oauth-client/security"
	"github.com/giantswarm/mcp-oauth-client/storage"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	tokensDir  = "tokens"
	clientsDir = "clients"
)

// Store persists token records and client registrations as encrypted files
// under a base directory. Layout:
//
//	<baseDir>/tokens/<key>_tokens.enc
//	<baseDir>/clients/<key>_client.enc
//
// where <key> is the filesystem-safe token derived from the storage key.
type Store struct {
	baseDir string
	box     *security.CryptoBox
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
}

// Compile-time interface checks
var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInstrumentation enables metric recording for storage operations.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Store) {
		s.inst = inst
	}
}

// New creates a file-backed store rooted at baseDir, creating the directory
// tree if needed. The CryptoBox encrypts every record before it is written.
func New(baseDir string, box *security.CryptoBox, opts ...Option) (*Store, error) {
	if box == nil {
		return nil, fmt.Errorf("crypto box is required")
	}

	s := &Store{
		baseDir: baseDir,
		box:     box,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{baseDir, filepath.Join(baseDir, tokensDir), filepath.Join(baseDir, clientsDir)} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	return s, nil
}

// BaseDir returns the root directory of the store.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// SaveTokens encrypts and persists a token record for a key.
func (s *Store) SaveTokens(ctx context.Context, key storage.Key, record *storage.TokenRecord) error {
	start := time.Now()
	err := s.saveEncrypted(ctx, s.tokenPath(key), record)
	s.recordOperation(ctx, "save_tokens", start, err)
	if err != nil {
		return err
	}
	s.logger.Debug("saved tokens",
		"server_url", key.ServerURL,
		"user_id", key.UserID)
	return nil
}

// LoadTokens decrypts the token record for a key.
// Returns storage.ErrNotFound when no record exists.
func (s *Store) LoadTokens(ctx context.Context, key storage.Key) (*storage.TokenRecord, error) {
	start := time.Now()
	var record storage.TokenRecord
	err := s.loadEncrypted(ctx, s.tokenPath(key), &record)
	s.recordOperation(ctx, "load_tokens", start, err)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteTokens removes the token record for a key. Missing records are not
// an error.
func (s *Store) DeleteTokens(ctx context.Context, key storage.Key) error {
	start := time.Now()
	err := s.deleteFile(ctx, s.tokenPath(key))
	s.recordOperation(ctx, "delete_tokens", start, err)
	if err != nil {
		return err
	}
	s.logger.Debug("deleted tokens",
		"server_url", key.ServerURL,
		"user_id", key.UserID)
	return nil
}

// SaveClient encrypts and persists a client registration for a key.
func (s *Store) SaveClient(ctx context.Context, key storage.Key, reg *storage.ClientRegistration) error {
	start := time.Now()
	err := s.saveEncrypted(ctx, s.clientPath(key), reg)
	s.recordOperation(ctx, "save_client", start, err)
	if err != nil {
		return err
	}
	s.logger.Debug("saved client registration",
		"server_url", key.ServerURL,
		"client_id", reg.ClientID)
	return nil
}

// LoadClient decrypts the client registration for a key.
// Returns storage.ErrNotFound when no record exists.
func (s *Store) LoadClient(ctx context.Context, key storage.Key) (*storage.ClientRegistration, error) {
	start := time.Now()
	var reg storage.ClientRegistration
	err := s.loadEncrypted(ctx, s.clientPath(key), &reg)
	s.recordOperation(ctx, "load_client", start, err)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// DeleteClient removes the client registration for a key. Missing records
// are not an error.
func (s *Store) DeleteClient(ctx context.Context, key storage.Key) error {
	start := time.Now()
	err := s.deleteFile(ctx, s.clientPath(key))
	s.recordOperation(ctx, "delete_client", start, err)
	return err
}

func (s *Store) tokenPath(key storage.Key) string {
	return filepath.Join(s.baseDir, tokensDir, key.FileToken()+"_tokens.enc")
}

func (s *Store) clientPath(key storage.Key) string {
	return filepath.Join(s.baseDir, clientsDir, key.FileToken()+"_client.enc")
}

func (s *Store) saveEncrypted(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := s.box.EncryptJSON(v)
	if err != nil {
		return fmt.Errorf("failed to encrypt record: %w", err)
	}

	// Write to a temp file in the same directory, then rename. Rename is
	// atomic on POSIX filesystems, so readers never see a partial record.
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmp.WriteString(encoded); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace record file: %w", err)
	}
	return nil
}

func (s *Store) loadEncrypted(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to read record file: %w", err)
	}

	if err := s.box.DecryptJSON(string(data), v); err != nil {
		return fmt.Errorf("failed to decrypt record: %w", err)
	}
	return nil
}

func (s *Store) deleteFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record file: %w", err)
	}
	return nil
}

func (s *Store) recordOperation(ctx context.Context, operation string, start time.Time, err error) {
	if s.inst == nil {
		return
	}
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		result = "miss"
	default:
		result = "error"
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0
	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
