// Package keystore is the gateway's client of the persistent key store. It fingerprints
// plaintext keys before they leave the process, issues new keys, and wraps key lookups,
// listing and revocation.
//
// Mutating operations (Create, Revoke) and validation surface store failures as errors
// wrapping ErrStoreUnavailable. Informational reads (Stats) degrade to zero values.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/db/models"
)

var (
	// ErrKeyNotFound is returned when no key has the requested id.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrStoreUnavailable wraps any communication failure with the store.
	ErrStoreUnavailable = errors.New("key store unavailable")
)

// Reason is the store's structured explanation for an invalid key.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonInvalid      Reason = "invalid"
	ReasonExpired      Reason = "expired"
	ReasonRevoked      Reason = "revoked"
	ReasonDailyLimit   Reason = "daily_limit"
	ReasonMonthlyQuota Reason = "monthly_quota"
)

func parseReason(code *string) Reason {
	if code == nil {
		return ReasonNone
	}
	switch r := Reason(*code); r {
	case ReasonInvalid, ReasonExpired, ReasonRevoked, ReasonDailyLimit, ReasonMonthlyQuota:
		return r
	}
	return ReasonNone
}

// InvalidKeyMessage is reported when the store has no record for a fingerprint.
const InvalidKeyMessage = "Invalid API key"

// Validation is the outcome of resolving a plaintext key against the store.
// When Valid is false, Reason holds the store's reason code if it sent a known one,
// and Message its human-readable text.
type Validation struct {
	Valid          bool
	KeyID          string
	Tier           auth.Tier
	PerMinuteLimit int
	PerDayLimit    int
	MonthlyQuota   *int
	DailyUsage     int
	MonthlyUsage   int
	Reason         Reason
	Message        string
}

// CreateParams describes a key to issue.
type CreateParams struct {
	Name      string
	Tier      auth.Tier
	OwnerID   *string
	ExpiresAt *time.Time
	Metadata  map[string]interface{}
}

// CreatedKey is a freshly issued key. PlaintextKey is not stored anywhere and
// must be handed to the caller exactly once.
type CreatedKey struct {
	Key          *models.APIKey
	PlaintextKey string
}

// KeyStats is informational usage for one key.
type KeyStats struct {
	DailyUsage   int        `json:"daily"`
	MonthlyUsage int        `json:"monthly"`
	LastUsedAt   *time.Time `json:"last_used_at"`
}

// KeyRepository is the subset of repositories.APIKeyRepository the client needs.
type KeyRepository interface {
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error)
	ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) (bool, error)
	ValidateAPIKey(ctx context.Context, keyHash string) (*models.KeyValidation, error)
}

// UsageCounter reads the store's per-key usage counters.
type UsageCounter interface {
	GetDailyUsageCount(ctx context.Context, apiKeyID string) (int, error)
	GetMonthlyUsageCount(ctx context.Context, apiKeyID string) (int, error)
}

// Service is the key store client.
type Service struct {
	keys      KeyRepository
	usage     UsageCounter
	keyPrefix string
	logger    *slog.Logger
}

// New creates a Service. keyPrefix is the scheme prefix of issued keys (e.g. "tg_").
func New(keys KeyRepository, usage UsageCounter, keyPrefix string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		keys:      keys,
		usage:     usage,
		keyPrefix: keyPrefix,
		logger:    logger.With("component", "keystore"),
	}
}

// Validate resolves a plaintext key. Only its fingerprint is sent to the store.
// The store enforces status, expiry, daily limit and monthly quota itself.
func (s *Service) Validate(ctx context.Context, plaintext string) (*Validation, error) {
	row, err := s.keys.ValidateAPIKey(ctx, auth.Fingerprint(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to validate API key: %w", ErrStoreUnavailable, err)
	}
	if row == nil {
		return &Validation{Reason: ReasonInvalid, Message: InvalidKeyMessage}, nil
	}

	v := &Validation{
		Valid:        row.IsValid,
		MonthlyQuota: row.MonthlyQuota,
		Reason:       parseReason(row.ErrorCode),
	}
	if row.APIKeyID != nil {
		v.KeyID = *row.APIKeyID
	}
	if row.Tier != nil {
		v.Tier = auth.Tier(*row.Tier)
	}
	if row.RateLimitPerMinute != nil {
		v.PerMinuteLimit = *row.RateLimitPerMinute
	}
	if row.RateLimitPerDay != nil {
		v.PerDayLimit = *row.RateLimitPerDay
	}
	if row.DailyUsage != nil {
		v.DailyUsage = *row.DailyUsage
	}
	if row.MonthlyUsage != nil {
		v.MonthlyUsage = *row.MonthlyUsage
	}
	if row.ErrorMessage != nil {
		v.Message = *row.ErrorMessage
	}
	if !v.Valid && v.Message == "" && v.Reason == ReasonNone {
		v.Reason = ReasonInvalid
		v.Message = InvalidKeyMessage
	}
	return v, nil
}

// Create issues a new key with the tier's current limits.
func (s *Service) Create(ctx context.Context, p CreateParams) (*CreatedKey, error) {
	if p.Name == "" {
		return nil, errors.New("key name is required")
	}
	if p.Tier == "" {
		p.Tier = auth.TierFree
	}
	policy, err := auth.LimitsFor(p.Tier)
	if err != nil {
		return nil, err
	}

	plaintext, fingerprint, displayPrefix, err := auth.GenerateAPIKey(s.keyPrefix, p.Tier)
	if err != nil {
		return nil, err
	}

	key := &models.APIKey{
		KeyHash:            fingerprint,
		KeyPrefix:          displayPrefix,
		Name:               p.Name,
		OwnerID:            p.OwnerID,
		Tier:               string(p.Tier),
		RateLimitPerMinute: policy.PerMinute,
		RateLimitPerDay:    policy.PerDay,
		MonthlyQuota:       policy.MonthlyQuota,
		Status:             models.KeyStatusActive,
		ExpiresAt:          p.ExpiresAt,
		Metadata:           p.Metadata,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("%w: failed to create API key: %w", ErrStoreUnavailable, err)
	}

	s.logger.Info("api key created", "key_id", key.ID, "key_prefix", key.KeyPrefix, "tier", key.Tier)
	return &CreatedKey{Key: key, PlaintextKey: plaintext}, nil
}

// GetByID returns the key or ErrKeyNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get API key: %w", ErrStoreUnavailable, err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// ListByOwner returns an owner's keys, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	keys, err := s.keys.ListAPIKeysByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list API keys: %w", ErrStoreUnavailable, err)
	}
	return keys, nil
}

// Revoke moves a key to revoked. Revoking an already-revoked key succeeds and
// reports noop=true. A missing key returns ErrKeyNotFound.
func (s *Service) Revoke(ctx context.Context, id string) (noop bool, err error) {
	changed, err := s.keys.RevokeAPIKey(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: failed to revoke API key: %w", ErrStoreUnavailable, err)
	}
	if changed {
		s.logger.Info("api key revoked", "key_id", id)
		return false, nil
	}

	key, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	s.logger.Debug("api key already revoked", "key_id", id, "status", key.Status)
	return true, nil
}

// Stats returns usage counters and last-used time. Any failure degrades to zero.
func (s *Service) Stats(ctx context.Context, id string) KeyStats {
	var stats KeyStats

	if key, err := s.keys.GetAPIKeyByID(ctx, id); err != nil {
		s.logger.Warn("failed to read key for stats", "key_id", id, "error", err)
	} else if key != nil {
		stats.LastUsedAt = key.LastUsedAt
	}

	if s.usage == nil {
		return stats
	}
	if n, err := s.usage.GetDailyUsageCount(ctx, id); err != nil {
		s.logger.Warn("failed to read daily usage count", "key_id", id, "error", err)
	} else {
		stats.DailyUsage = n
	}
	if n, err := s.usage.GetMonthlyUsageCount(ctx, id); err != nil {
		s.logger.Warn("failed to read monthly usage count", "key_id", id, "error", err)
	} else {
		stats.MonthlyUsage = n
	}
	return stats
}
