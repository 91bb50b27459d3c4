package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/toolgate/toolgate/internal/db/models"
)

var errDB = errors.New("db error")

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var apiKeyCols = []string{
	"id", "key_hash", "key_prefix", "name", "owner_id", "tier", "rate_limit_per_minute",
	"rate_limit_per_day", "monthly_quota", "status", "expires_at", "created_at", "last_used_at", "metadata",
}

var validationCols = []string{
	"is_valid", "api_key_id", "tier", "rate_limit_per_minute", "rate_limit_per_day",
	"monthly_quota", "daily_usage", "monthly_usage", "error_message", "error_code",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleAPIKeyRow() *sqlmock.Rows {
	return sqlmock.NewRows(apiKeyCols).
		AddRow("key-1", "hash", "tg_free_AbCd", "CI Key", "owner-1", "free", 10,
			100, 1000, "active", nil, time.Now(), nil, []byte(`{"team":"docs"}`))
}

func newAPIKeyRepo(t *testing.T) (*APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateAPIKey
// ---------------------------------------------------------------------------

func TestCreateAPIKey_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))

	key := &models.APIKey{
		Name:               "Test Key",
		KeyHash:            "hash",
		KeyPrefix:          "tg_free_AbCd",
		Tier:               "free",
		RateLimitPerMinute: 10,
		RateLimitPerDay:    100,
	}
	if err := repo.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.ID == "" {
		t.Error("ID was not assigned")
	}
	if key.Status != models.KeyStatusActive {
		t.Errorf("Status = %q, want active", key.Status)
	}
	if key.Metadata == nil {
		t.Error("Metadata was not initialised")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateAPIKey_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnError(errDB)

	if err := repo.CreateAPIKey(context.Background(), &models.APIKey{Name: "k"}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetAPIKeyByID
// ---------------------------------------------------------------------------

func TestGetAPIKeyByID_Found(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").
		WithArgs("key-1").
		WillReturnRows(sampleAPIKeyRow())

	key, err := repo.GetAPIKeyByID(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == nil {
		t.Fatal("expected key, got nil")
	}
	if key.Status != models.KeyStatusActive {
		t.Errorf("Status = %q, want active", key.Status)
	}
	if key.OwnerID == nil || *key.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %v, want owner-1", key.OwnerID)
	}
	if key.MonthlyQuota == nil || *key.MonthlyQuota != 1000 {
		t.Errorf("MonthlyQuota = %v, want 1000", key.MonthlyQuota)
	}
	if key.Metadata["team"] != "docs" {
		t.Errorf("Metadata = %v, want team=docs", key.Metadata)
	}
}

func TestGetAPIKeyByID_NotFound(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	key, err := repo.GetAPIKeyByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestGetAPIKeyByID_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").
		WillReturnError(errDB)

	if _, err := repo.GetAPIKeyByID(context.Background(), "key-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListAPIKeysByOwner
// ---------------------------------------------------------------------------

func TestListAPIKeysByOwner_NewestFirst(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	newer := time.Now()
	older := newer.Add(-time.Hour)
	mock.ExpectQuery("SELECT.*FROM api_keys.*WHERE owner_id.*ORDER BY created_at DESC").
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).
			AddRow("key-2", "h2", "tg_pro_XyZw1", "New", "owner-1", "pro", 100, 2000, 50000, "active", nil, newer, nil, []byte(`{}`)).
			AddRow("key-1", "h1", "tg_free_AbCd", "Old", "owner-1", "free", 10, 100, 1000, "revoked", nil, older, nil, nil))

	keys, err := repo.ListAPIKeysByOwner(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len = %d, want 2", len(keys))
	}
	if keys[0].ID != "key-2" || keys[1].Status != models.KeyStatusRevoked {
		t.Errorf("unexpected rows: %+v, %+v", keys[0], keys[1])
	}
}

func TestListAPIKeysByOwner_Empty(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys.*WHERE owner_id").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	keys, err := repo.ListAPIKeysByOwner(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys == nil || len(keys) != 0 {
		t.Errorf("keys = %v, want empty non-nil slice", keys)
	}
}

// ---------------------------------------------------------------------------
// RevokeAPIKey
// ---------------------------------------------------------------------------

func TestRevokeAPIKey_Changed(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET status = 'revoked'").
		WithArgs("key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.RevokeAPIKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("changed = false, want true")
	}
}

func TestRevokeAPIKey_NoRowChanged(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET status = 'revoked'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.RevokeAPIKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("changed = true, want false")
	}
}

func TestRevokeAPIKey_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET status = 'revoked'").
		WillReturnError(errDB)

	if _, err := repo.RevokeAPIKey(context.Background(), "key-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ExpireKeys
// ---------------------------------------------------------------------------

func TestExpireKeys_ReturnsCount(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	now := time.Now()
	mock.ExpectExec("UPDATE api_keys.*SET status = 'expired'.*WHERE status = 'active'").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ExpireKeys(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
}

// ---------------------------------------------------------------------------
// ValidateAPIKey
// ---------------------------------------------------------------------------

func TestValidateAPIKey_Valid(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM validate_api_key").
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows(validationCols).
			AddRow(true, "key-1", "pro", 100, 2000, 50000, 12, 340, nil, nil))

	v, err := repo.ValidateAPIKey(context.Background(), "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsValid || *v.APIKeyID != "key-1" || *v.Tier != "pro" || *v.DailyUsage != 12 {
		t.Errorf("unexpected validation: %+v", v)
	}
	if v.ErrorMessage != nil || v.ErrorCode != nil {
		t.Error("valid row should carry no error")
	}
}

func TestValidateAPIKey_Invalid(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM validate_api_key").
		WillReturnRows(sqlmock.NewRows(validationCols).
			AddRow(false, "key-1", "free", 10, 100, 1000, 0, 0, "API key has been revoked", "revoked"))

	v, err := repo.ValidateAPIKey(context.Background(), "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.IsValid {
		t.Error("IsValid = true, want false")
	}
	if v.ErrorCode == nil || *v.ErrorCode != "revoked" {
		t.Errorf("ErrorCode = %v, want revoked", v.ErrorCode)
	}
}

func TestValidateAPIKey_NoRow(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM validate_api_key").
		WillReturnRows(sqlmock.NewRows(validationCols))

	v, err := repo.ValidateAPIKey(context.Background(), "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil, got %+v", v)
	}
}

func TestValidateAPIKey_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM validate_api_key").
		WillReturnError(errDB)

	if _, err := repo.ValidateAPIKey(context.Background(), "hash"); err == nil {
		t.Error("expected error, got nil")
	}
}
