package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EnvCryptoPassword supplies the encryption password when none is given
	// programmatically.
	EnvCryptoPassword = "MCP_CLIENT_CRYPTO_PASSWORD"

	// defaultPassword keeps development setups working without configuration.
	// Using it in production defeats encryption at rest, so NewCryptoBox
	// logs a warning whenever it is selected.
	defaultPassword = "mcp-client-default-password"

	saltSize         = 16
	keySize          = 32 // AES-256
	pbkdf2Iterations = 100_000
)

// CryptoBox encrypts credentials at rest using AES-256-GCM with a key
// derived from a password via PBKDF2-HMAC-SHA256. Each encryption uses a
// fresh random salt, so encrypting the same plaintext twice yields different
// ciphertexts.
//
// Storage format: base64(salt || nonce || ciphertext).
type CryptoBox struct {
	password []byte
}

// NewCryptoBox creates a CryptoBox. If password is empty, the
// MCP_CLIENT_CRYPTO_PASSWORD environment variable is used; if that is also
// unset, an insecure development default is used and a warning is logged.
func NewCryptoBox(password string, logger *slog.Logger) *CryptoBox {
	if logger == nil {
		logger = slog.Default()
	}
	if password == "" {
		password = os.Getenv(EnvCryptoPassword)
	}
	if password == "" {
		password = defaultPassword
		logger.Warn("no encryption password configured, using insecure default",
			"env_var", EnvCryptoPassword)
	}
	return &CryptoBox{password: []byte(password)}
}

// Encrypt encrypts plaintext and returns an opaque base64 string containing
// the salt, nonce, and ciphertext.
func (b *CryptoBox) Encrypt(plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to the salt||nonce prefix, producing the storage
	// format in one allocation: [salt][nonce][ciphertext]
	out := gcm.Seal(append(salt, nonce...), nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It fails when the payload is malformed or was
// encrypted with a different password.
func (b *CryptoBox) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(raw) < saltSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	gcm, err := b.aead(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptJSON marshals v and encrypts the result.
func (b *CryptoBox) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b.Encrypt(data)
}

// DecryptJSON decrypts encoded and unmarshals the plaintext into v.
func (b *CryptoBox) DecryptJSON(encoded string, v any) error {
	data, err := b.Decrypt(encoded)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

func (b *CryptoBox) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(b.password, salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
