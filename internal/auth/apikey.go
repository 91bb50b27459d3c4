// Package auth provides the credential primitives of the gateway: API key generation and
// fingerprinting, credential extraction from requests, admin token hashing, and the static
// tier policy (see tiers.go).
// See internal/gate for the request-time decision logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyRandomLength is the length of the random part of the API key in bytes
	APIKeyRandomLength = 24

	// DisplayPrefixLength is the number of characters stored for display
	DisplayPrefixLength = 12

	// BcryptCost is the cost factor for the admin token hash
	BcryptCost = 12
)

// GenerateAPIKey creates a new random API key of the form <prefix><tier>_<random>.
// Returns: full key (to show once), SHA-256 fingerprint (to store), display prefix
func GenerateAPIKey(prefix string, tier Tier) (key string, fingerprint string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyRandomLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s%s_%s", prefix, tier, base64.RawURLEncoding.EncodeToString(randomBytes))

	displayPrefixStr := fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefixStr = fullKey[:DisplayPrefixLength]
	}

	return fullKey, Fingerprint(fullKey), displayPrefixStr, nil
}

// Fingerprint returns the hex SHA-256 of key. The store is only ever given this value.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HashAdminToken returns the bcrypt hash to place in auth.admin_token_hash.
func HashAdminToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("admin token is empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin token: %w", err)
	}
	return string(h), nil
}

// VerifyAdminToken checks a presented admin token against its bcrypt hash.
func VerifyAdminToken(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(token)) == nil
}

// ExtractAPIKeyFromHeader extracts the API key from an Authorization header
// Expected format: "Bearer tg_free_abc123..."
func ExtractAPIKeyFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if key == "" {
		return "", errors.New("API key is empty after Bearer prefix")
	}

	return key, nil
}

// KeySource names the carrier an API key was found in.
type KeySource string

const (
	KeySourceNone   KeySource = ""
	KeySourceHeader KeySource = "header"
	KeySourceBearer KeySource = "bearer"
	KeySourceQuery  KeySource = "query"
	KeySourceEnv    KeySource = "env"
)

// CredentialSources configures where ExtractAPIKey looks. Empty fields are skipped.
type CredentialSources struct {
	Header      string
	QueryParam  string
	FallbackEnv string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// ExtractAPIKey resolves a candidate key from, in order: the dedicated header, a
// Bearer Authorization header, the query parameter, then the process environment.
// It returns KeySourceNone and an empty key when nothing is found.
func ExtractAPIKey(header http.Header, query url.Values, src CredentialSources) (string, KeySource) {
	if src.Header != "" {
		if v := strings.TrimSpace(header.Get(src.Header)); v != "" {
			return v, KeySourceHeader
		}
	}

	if key, err := ExtractAPIKeyFromHeader(header.Get("Authorization")); err == nil {
		return key, KeySourceBearer
	}

	if src.QueryParam != "" {
		if v := strings.TrimSpace(query.Get(src.QueryParam)); v != "" {
			return v, KeySourceQuery
		}
	}

	if src.FallbackEnv != "" {
		lookup := src.LookupEnv
		if lookup == nil {
			lookup = os.LookupEnv
		}
		if v, ok := lookup(src.FallbackEnv); ok && v != "" {
			return v, KeySourceEnv
		}
	}

	return "", KeySourceNone
}
