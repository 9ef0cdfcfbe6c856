package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Purpose scopes a one-time token to a single flow.
type Purpose string

const (
	PurposeMagicLink         Purpose = "magic_link"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

const oneTimeTokenBytes = 32

var purposePrefixes = map[Purpose]string{
	PurposeMagicLink:         "cdm_",
	PurposePasswordReset:     "cdr_",
	PurposeEmailVerification: "cdv_",
}

var purposeTTLs = map[Purpose]time.Duration{
	PurposeMagicLink:         15 * time.Minute,
	PurposePasswordReset:     time.Hour,
	PurposeEmailVerification: 24 * time.Hour,
}

// TTL returns how long a token for p stays valid.
func (p Purpose) TTL() time.Duration {
	return purposeTTLs[p]
}

// GenerateOneTimeToken returns a prefixed random token and its storage hash.
func GenerateOneTimeToken(p Purpose) (token string, hash []byte, err error) {
	prefix, ok := purposePrefixes[p]
	if !ok {
		return "", nil, fmt.Errorf("unknown token purpose %q", p)
	}

	b := make([]byte, oneTimeTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = prefix + base64.RawURLEncoding.EncodeToString(b)
	return token, HashOneTimeToken(token), nil
}

// HashOneTimeToken returns the sha256 of token. Only hashes are stored.
func HashOneTimeToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}

// ValidOneTimeTokenFormat reports whether token looks like one issued for p.
func ValidOneTimeTokenFormat(p Purpose, token string) bool {
	prefix, ok := purposePrefixes[p]
	if !ok || !strings.HasPrefix(token, prefix) {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token[len(prefix):])
	if err != nil {
		return false
	}
	return len(decoded) == oneTimeTokenBytes
}
