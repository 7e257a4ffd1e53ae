// ABOUTME: Opaque API key generation with a recognizable pllm_ prefix
// ABOUTME: Keys are 256-bit random suffixes, unique across all users

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// APIKeyPrefix marks every issued key so leaked keys are recognizable in
// logs and scanners.
const APIKeyPrefix = "pllm_"

// GenerateAPIKey returns a fresh opaque API key: the fixed prefix plus a
// 256-bit base64url suffix.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// looksLikeAPIKey reports whether a bearer credential has the API key shape.
// Used only for diagnostics; dispatch never branches on it.
func looksLikeAPIKey(credential string) bool {
	return strings.HasPrefix(credential, APIKeyPrefix)
}
