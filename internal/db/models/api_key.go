// Package models defines the row types of the key/usage store.
// Models are pure data types: policy belongs in the auth and gate packages,
// query logic belongs in the repositories layer.
package models

import "time"

// KeyStatus is the lifecycle state of an API key. Keys are never hard-deleted;
// they only move from active to revoked or expired.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusExpired KeyStatus = "expired"
)

// APIKey represents an issued API key. The plaintext secret is never stored.
type APIKey struct {
	ID                 string                 `json:"id"`
	KeyHash            string                 `json:"-"`          // SHA-256 hex fingerprint of the full key
	KeyPrefix          string                 `json:"key_prefix"` // First 12 chars for display (e.g. "tg_free_AbCd")
	Name               string                 `json:"name"`
	OwnerID            *string                `json:"owner_id,omitempty"`
	Tier               string                 `json:"tier"`
	RateLimitPerMinute int                    `json:"rate_limit_per_minute"`
	RateLimitPerDay    int                    `json:"rate_limit_per_day"`
	MonthlyQuota       *int                   `json:"monthly_quota"` // nil = unlimited
	Status             KeyStatus              `json:"status"`
	ExpiresAt          *time.Time             `json:"expires_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	LastUsedAt         *time.Time             `json:"last_used_at,omitempty"`
	Metadata           map[string]interface{} `json:"metadata"`
}

// IsExpired reports whether the key has an expiry at or before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// KeyValidation is one row returned by the store's validate_api_key function.
// Every field except IsValid is nullable; when IsValid is false ErrorMessage and
// ErrorCode describe why.
type KeyValidation struct {
	IsValid            bool    `db:"is_valid"`
	APIKeyID           *string `db:"api_key_id"`
	Tier               *string `db:"tier"`
	RateLimitPerMinute *int    `db:"rate_limit_per_minute"`
	RateLimitPerDay    *int    `db:"rate_limit_per_day"`
	MonthlyQuota       *int    `db:"monthly_quota"`
	DailyUsage         *int    `db:"daily_usage"`
	MonthlyUsage       *int    `db:"monthly_usage"`
	ErrorMessage       *string `db:"error_message"`
	ErrorCode          *string `db:"error_code"`
}
