// api_key_repository.go implements APIKeyRepository, providing store queries for API key
// validation, issuance, lookup, status transitions and expiry sweeping.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/toolgate/toolgate/internal/db/models"
)

const apiKeyColumns = `id, key_hash, key_prefix, name, owner_id, tier, rate_limit_per_minute,
		       rate_limit_per_day, monthly_quota, status, expires_at, created_at, last_used_at, metadata`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey inserts a new key. ID, CreatedAt and an empty Status are filled in.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now()
	if apiKey.Status == "" {
		apiKey.Status = models.KeyStatusActive
	}
	if apiKey.Metadata == nil {
		apiKey.Metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(apiKey.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, key_hash, key_prefix, name, owner_id, tier, rate_limit_per_minute,
		                      rate_limit_per_day, monthly_quota, status, expires_at, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.KeyHash,
		apiKey.KeyPrefix,
		apiKey.Name,
		apiKey.OwnerID,
		apiKey.Tier,
		apiKey.RateLimitPerMinute,
		apiKey.RateLimitPerDay,
		apiKey.MonthlyQuota,
		string(apiKey.Status),
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
		metadataJSON,
	)

	return err
}

func scanAPIKey(s rowScanner) (*models.APIKey, error) {
	apiKey := &models.APIKey{}
	var metadataJSON []byte

	err := s.Scan(
		&apiKey.ID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Name,
		&apiKey.OwnerID,
		&apiKey.Tier,
		&apiKey.RateLimitPerMinute,
		&apiKey.RateLimitPerDay,
		&apiKey.MonthlyQuota,
		&apiKey.Status,
		&apiKey.ExpiresAt,
		&apiKey.CreatedAt,
		&apiKey.LastUsedAt,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	apiKey.Metadata = map[string]interface{}{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &apiKey.Metadata); err != nil {
			return nil, err
		}
	}
	return apiKey, nil
}

// GetAPIKeyByID retrieves an API key by ID. Returns nil, nil when no row matches.
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	apiKey, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return apiKey, nil
}

// ListAPIKeysByOwner retrieves all API keys for an owner, newest first
func (r *APIKeyRepository) ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apiKeys := make([]*models.APIKey, 0)
	for rows.Next() {
		apiKey, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		apiKeys = append(apiKeys, apiKey)
	}

	return apiKeys, rows.Err()
}

// RevokeAPIKey moves a key to revoked. It reports false when no row changed, which
// means the key is either missing or already revoked.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, keyID string) (bool, error) {
	query := `UPDATE api_keys SET status = 'revoked' WHERE id = $1 AND status <> 'revoked'`

	res, err := r.db.ExecContext(ctx, query, keyID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpireKeys moves every active key whose expiry is at or before now to expired
// and returns how many keys changed.
func (r *APIKeyRepository) ExpireKeys(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE api_keys
		SET status = 'expired'
		WHERE status = 'active'
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
	`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ValidateAPIKey resolves a key fingerprint through the store's validate_api_key
// function. Returns nil, nil when the function yields no row.
func (r *APIKeyRepository) ValidateAPIKey(ctx context.Context, keyHash string) (*models.KeyValidation, error) {
	query := `
		SELECT is_valid, api_key_id, tier, rate_limit_per_minute, rate_limit_per_day,
		       monthly_quota, daily_usage, monthly_usage, error_message, error_code
		FROM validate_api_key($1)
	`

	v := &models.KeyValidation{}
	err := r.db.QueryRowContext(ctx, query, keyHash).Scan(
		&v.IsValid,
		&v.APIKeyID,
		&v.Tier,
		&v.RateLimitPerMinute,
		&v.RateLimitPerDay,
		&v.MonthlyQuota,
		&v.DailyUsage,
		&v.MonthlyUsage,
		&v.ErrorMessage,
		&v.ErrorCode,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
