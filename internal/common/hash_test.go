package common

import (
	"strings"
	"testing"
)

func TestContentHash(t *testing.T) {
	h := ContentHash([]byte("hello"))
	if !strings.HasPrefix(h, "sha256:") {
		t.Fatalf("content hash must carry the algorithm prefix, got %q", h)
	}
	// SHA-256 of "hello" is a fixed value
	want := "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if h != want {
		t.Errorf("expected %q, got %q", want, h)
	}

	if ContentHash([]byte("hello")) != ContentHash([]byte("hello")) {
		t.Error("content hash must be deterministic")
	}
	if ContentHash([]byte("hello")) == ContentHash([]byte("hello ")) {
		t.Error("different content must hash differently")
	}
}

func TestIsContentHash(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{ContentHash([]byte("x")), true},
		{"", false},
		{"sha256:", false},
		{"md5:abcd", false},
		{"sha256:zzzz", false},
		{"sha256:" + strings.Repeat("a", 63), false},
		{"sha256:" + strings.Repeat("a", 64), true},
		{"sha256:" + strings.Repeat("g", 64), false},
		{strings.Repeat("a", 64), false},
	}
	for _, tt := range tests {
		if got := IsContentHash(tt.in); got != tt.valid {
			t.Errorf("IsContentHash(%q) = %v, expected %v", tt.in, got, tt.valid)
		}
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("secret-token")
	b := HashToken("secret-token")
	if a != b {
		t.Error("token hashing must be deterministic")
	}
	if a == "secret-token" {
		t.Error("token digest must differ from the token")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
