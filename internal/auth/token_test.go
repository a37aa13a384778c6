package auth

import (
	"strings"
	"testing"
)

func TestGenerateToken_Format(t *testing.T) {
	token, err := GenerateToken("prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts := strings.SplitN(token, "-", 3)
	if len(parts) != 3 {
		t.Fatalf("expected jamie-{env}-{random}, got %q", token)
	}
	if parts[0] != "jamie" {
		t.Errorf("expected jamie prefix, got %q", parts[0])
	}
	if parts[1] != "prod" {
		t.Errorf("expected env prod, got %q", parts[1])
	}
	if len(parts[2]) != 32 {
		t.Errorf("expected 32 random chars, got %d", len(parts[2]))
	}
	for _, c := range parts[2] {
		if !strings.ContainsRune(alphanumeric, c) {
			t.Errorf("unexpected character %q in token", c)
		}
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	a, err := GenerateToken("dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := GenerateToken("dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("two generated tokens should not collide")
	}
}

func TestTokenPrefix(t *testing.T) {
	token := "jamie-prod-abcdefghij0123456789klmnopqrst42"
	prefix := TokenPrefix(token)
	if prefix != "jamie-prod-abcdefgh" {
		t.Errorf("expected jamie-prod-abcdefgh, got %q", prefix)
	}
	if strings.HasPrefix(token, prefix) == false {
		t.Error("prefix must be a prefix of the token")
	}
}

func TestTokenPrefix_ShortToken(t *testing.T) {
	if got := TokenPrefix("short"); got != "short" {
		t.Errorf("short tokens are returned whole, got %q", got)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name      string
		presented string
		secret    string
		want      bool
	}{
		{"match", "jamie-prod-aaaa", "jamie-prod-aaaa", true},
		{"mismatch", "jamie-prod-aaaa", "jamie-prod-bbbb", false},
		{"different length", "short", "a-much-longer-secret", false},
		{"empty secret rejects everything", "anything", "", false},
		{"empty secret rejects empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.presented, tt.secret); got != tt.want {
				t.Errorf("Equal(%q, %q) = %v, want %v", tt.presented, tt.secret, got, tt.want)
			}
		})
	}
}
