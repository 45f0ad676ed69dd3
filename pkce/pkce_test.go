package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
)

func TestGenerate(t *testing.T) {
	h := NewHandler()
	verifier, challenge, state, err := h.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(verifier) < 43 || len(verifier) > 128 {
		t.Errorf("verifier length = %d, want 43..128", len(verifier))
	}
	if len(state) < 32 {
		t.Errorf("state length = %d, want >= 32", len(state))
	}

	// Challenge must be the unpadded base64url SHA-256 of the verifier.
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if challenge != want {
		t.Errorf("challenge = %q, want %q", challenge, want)
	}
	if strings.ContainsAny(challenge, "+/=") {
		t.Errorf("challenge %q contains non-base64url characters", challenge)
	}

	if !h.IsReady() {
		t.Error("IsReady() = false after Generate")
	}
	if h.Verifier() != verifier || h.Challenge() != challenge || h.State() != state {
		t.Error("accessors disagree with Generate results")
	}
}

func TestGenerateUnique(t *testing.T) {
	h := NewHandler()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		verifier, _, state, err := h.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if seen[verifier] || seen[state] {
			t.Fatal("Generate produced a repeated value")
		}
		seen[verifier] = true
		seen[state] = true
	}
}

func TestGenerateReplacesSession(t *testing.T) {
	h := NewHandler()
	_, _, first, err := h.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	_, _, second, err := h.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if h.ValidateState(first) {
		t.Error("ValidateState accepted the state of a replaced session")
	}
	if !h.ValidateState(second) {
		t.Error("ValidateState rejected the current session state")
	}
}

func TestValidateState(t *testing.T) {
	h := NewHandler()

	if h.ValidateState("anything") {
		t.Error("ValidateState accepted a value with no active session")
	}

	_, _, state, err := h.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name     string
		received string
		want     bool
	}{
		{"correct state", state, true},
		{"wrong state", "not-the-state", false},
		{"empty state", "", false},
		{"prefix of state", state[:len(state)-1], false},
		{"state with suffix", state + "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.ValidateState(tt.received); got != tt.want {
				t.Errorf("ValidateState(%q) = %v, want %v", tt.received, got, tt.want)
			}
		})
	}
}

func TestClear(t *testing.T) {
	h := NewHandler()
	_, _, state, err := h.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	h.Clear()

	if h.IsReady() {
		t.Error("IsReady() = true after Clear")
	}
	if h.ValidateState(state) {
		t.Error("ValidateState accepted a cleared session's state")
	}
	if h.Verifier() != "" || h.Challenge() != "" || h.State() != "" {
		t.Error("accessors returned material after Clear")
	}
}

func TestStringRedacted(t *testing.T) {
	h := NewHandler()
	verifier, _, state, err := h.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	s := h.String()
	if strings.Contains(s, verifier) || strings.Contains(s, state) {
		t.Errorf("String() leaked session material: %q", s)
	}
}

func TestConcurrentUse(t *testing.T) {
	h := NewHandler()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, _, err := h.Generate(); err != nil {
				t.Errorf("Generate() error = %v", err)
			}
			h.ValidateState("x")
			h.IsReady()
		}()
	}
	wg.Wait()

	if !h.ValidateState(h.State()) {
		t.Error("handler left in inconsistent state after concurrent use")
	}
}
