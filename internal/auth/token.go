package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/big"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken creates a new bearer secret with the format
// jamie-{env}-{32 random alphanumeric chars}, handed to VAPI as the
// static credential for webhook and completion calls.
func GenerateToken(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("jamie-%s-%s", env, random), nil
}

// TokenPrefix extracts a display-safe prefix: everything up to the first
// 8 random characters.
func TokenPrefix(token string) string {
	if len(token) < 16 {
		return token
	}
	dashes := 0
	for i, c := range token {
		if c == '-' {
			dashes++
			if dashes == 2 {
				end := i + 9
				if end > len(token) {
					end = len(token)
				}
				return token[:end]
			}
		}
	}
	return token[:16]
}

// Equal compares a presented token against the configured secret in
// constant time, over SHA-256 digests so length leaks nothing either.
func Equal(presented, secret string) bool {
	if secret == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}
