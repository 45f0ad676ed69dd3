package security

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestCryptoBox_RoundTrip(t *testing.T) {
	box := NewCryptoBox("test-password", testLogger())

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple string", "hello world"},
		{"empty string", ""},
		{"json payload", `{"access_token":"secret-token-value","expires_at":1700000000}`},
		{"unicode", "tøkens ünd sécrets"},
		{"binary-ish", string([]byte{0, 1, 2, 255, 254})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := box.Encrypt([]byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if strings.Contains(encrypted, tt.plaintext) && tt.plaintext != "" {
				t.Error("ciphertext contains the plaintext")
			}

			decrypted, err := box.Decrypt(encrypted)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if string(decrypted) != tt.plaintext {
				t.Errorf("round trip = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestCryptoBox_FreshSaltPerEncryption(t *testing.T) {
	box := NewCryptoBox("test-password", testLogger())

	first, err := box.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := box.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if first == second {
		t.Error("two encryptions of the same plaintext produced identical ciphertexts")
	}

	// Both must still decrypt.
	for _, blob := range []string{first, second} {
		got, err := box.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if string(got) != "same plaintext" {
			t.Errorf("Decrypt() = %q, want %q", got, "same plaintext")
		}
	}
}

func TestCryptoBox_WrongPassword(t *testing.T) {
	box := NewCryptoBox("correct-password", testLogger())
	encrypted, err := box.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	wrong := NewCryptoBox("wrong-password", testLogger())
	if _, err := wrong.Decrypt(encrypted); err == nil {
		t.Error("Decrypt() with wrong password should fail")
	}
}

func TestCryptoBox_DecryptMalformed(t *testing.T) {
	box := NewCryptoBox("test-password", testLogger())

	tests := []struct {
		name    string
		payload string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"empty", ""},
		{"too short for salt", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"salt but no nonce", base64.StdEncoding.EncodeToString(make([]byte, saltSize+2))},
		{"tampered ciphertext", func() string {
			blob, _ := box.Encrypt([]byte("data"))
			raw, _ := base64.StdEncoding.DecodeString(blob)
			raw[len(raw)-1] ^= 0xff
			return base64.StdEncoding.EncodeToString(raw)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := box.Decrypt(tt.payload); err == nil {
				t.Error("Decrypt() should fail for malformed payload")
			}
		})
	}
}

func TestCryptoBox_JSONRoundTrip(t *testing.T) {
	box := NewCryptoBox("test-password", testLogger())

	type record struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	in := record{AccessToken: "token-value", ExpiresAt: 1700000000}

	blob, err := box.EncryptJSON(in)
	if err != nil {
		t.Fatalf("EncryptJSON() error = %v", err)
	}

	var out record
	if err := box.DecryptJSON(blob, &out); err != nil {
		t.Fatalf("DecryptJSON() error = %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestNewCryptoBox_DefaultPasswordWarns(t *testing.T) {
	t.Setenv(EnvCryptoPassword, "")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	NewCryptoBox("", logger)

	if !strings.Contains(buf.String(), "insecure default") {
		t.Errorf("expected warning about insecure default password, got: %s", buf.String())
	}
}

func TestNewCryptoBox_PasswordFromEnv(t *testing.T) {
	t.Setenv(EnvCryptoPassword, "env-password")

	fromEnv := NewCryptoBox("", testLogger())
	explicit := NewCryptoBox("env-password", testLogger())

	blob, err := fromEnv.Encrypt([]byte("data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := explicit.Decrypt(blob); err != nil {
		t.Errorf("env-derived and explicit passwords should be interchangeable: %v", err)
	}
}
