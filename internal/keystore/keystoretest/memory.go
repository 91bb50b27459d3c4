// Package keystoretest provides an in-memory key repository for tests. It mirrors the
// checks performed by the store's validate_api_key function so gateway behaviour can be
// exercised without a database.
package keystoretest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toolgate/toolgate/internal/db/models"
)

// Memory implements keystore.KeyRepository and keystore.UsageCounter.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]*models.APIKey
	daily   map[string]int
	monthly map[string]int

	// Err, when set, is returned from every call.
	Err error
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{
		byID:    map[string]*models.APIKey{},
		daily:   map[string]int{},
		monthly: map[string]int{},
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func clone(k *models.APIKey) *models.APIKey {
	c := *k
	return &c
}

// SetUsage overrides the daily and monthly request counts of a key.
func (m *Memory) SetUsage(keyID string, daily, monthly int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[keyID] = daily
	m.monthly[keyID] = monthly
}

// CreateAPIKey stores a copy of apiKey.
func (m *Memory) CreateAPIKey(_ context.Context, apiKey *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = m.now()
	if apiKey.Status == "" {
		apiKey.Status = models.KeyStatusActive
	}
	m.byID[apiKey.ID] = clone(apiKey)
	return nil
}

// GetAPIKeyByID returns nil, nil when the key does not exist.
func (m *Memory) GetAPIKeyByID(_ context.Context, keyID string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	k, ok := m.byID[keyID]
	if !ok {
		return nil, nil
	}
	return clone(k), nil
}

// ListAPIKeysByOwner returns the owner's keys newest first.
func (m *Memory) ListAPIKeysByOwner(_ context.Context, ownerID string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*models.APIKey, 0)
	for _, k := range m.byID {
		if k.OwnerID != nil && *k.OwnerID == ownerID {
			out = append(out, clone(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// RevokeAPIKey reports whether a row changed.
func (m *Memory) RevokeAPIKey(_ context.Context, keyID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	k, ok := m.byID[keyID]
	if !ok || k.Status == models.KeyStatusRevoked {
		return false, nil
	}
	k.Status = models.KeyStatusRevoked
	return true, nil
}

// ValidateAPIKey applies the same ordered checks as the store function.
func (m *Memory) ValidateAPIKey(_ context.Context, keyHash string) (*models.KeyValidation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var k *models.APIKey
	for _, candidate := range m.byID {
		if candidate.KeyHash == keyHash {
			k = candidate
			break
		}
	}
	if k == nil {
		return invalid(nil, 0, 0, "Invalid API key", "invalid"), nil
	}

	daily, monthly := m.daily[k.ID], m.monthly[k.ID]
	switch {
	case k.Status == models.KeyStatusRevoked:
		return invalid(k, daily, monthly, "API key has been revoked", "revoked"), nil
	case k.Status == models.KeyStatusExpired || k.IsExpired(m.now()):
		return invalid(k, daily, monthly, "API key has expired", "expired"), nil
	case daily >= k.RateLimitPerDay:
		return invalid(k, daily, monthly, "Daily request limit exceeded", "daily_limit"), nil
	case k.MonthlyQuota != nil && monthly >= *k.MonthlyQuota:
		return invalid(k, daily, monthly, "Monthly quota exceeded", "monthly_quota"), nil
	}

	now := m.now()
	k.LastUsedAt = &now
	v := row(k, daily, monthly)
	v.IsValid = true
	return v, nil
}

// GetDailyUsageCount returns the count set with SetUsage.
func (m *Memory) GetDailyUsageCount(_ context.Context, apiKeyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.daily[apiKeyID], nil
}

// GetMonthlyUsageCount returns the count set with SetUsage.
func (m *Memory) GetMonthlyUsageCount(_ context.Context, apiKeyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.monthly[apiKeyID], nil
}

func row(k *models.APIKey, daily, monthly int) *models.KeyValidation {
	id, tier := k.ID, k.Tier
	perMinute, perDay := k.RateLimitPerMinute, k.RateLimitPerDay
	return &models.KeyValidation{
		APIKeyID:           &id,
		Tier:               &tier,
		RateLimitPerMinute: &perMinute,
		RateLimitPerDay:    &perDay,
		MonthlyQuota:       k.MonthlyQuota,
		DailyUsage:         &daily,
		MonthlyUsage:       &monthly,
	}
}

func invalid(k *models.APIKey, daily, monthly int, message, code string) *models.KeyValidation {
	v := &models.KeyValidation{}
	if k != nil {
		v = row(k, daily, monthly)
	}
	v.ErrorMessage = &message
	v.ErrorCode = &code
	return v
}
