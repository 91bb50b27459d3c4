// usage_repository.go implements UsageRepository: the append-only usage log,
// the store's aggregate increment functions and the reporting reads over them.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/toolgate/toolgate/internal/db/models"
)

// UsageRepository handles usage log and aggregate operations
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// InsertLog appends one usage log row. ID and CreatedAt are filled in.
func (r *UsageRepository) InsertLog(ctx context.Context, entry *models.UsageLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO usage_logs (id, api_key_id, tool_name, request_size, response_size, duration_ms,
		                        success, error_message, ip_address, user_agent, created_at)
		VALUES (:id, :api_key_id, :tool_name, :request_size, :response_size, :duration_ms,
		        :success, :error_message, :ip_address, :user_agent, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	return err
}

// IncrementDaily calls increment_daily_usage for today's aggregate.
func (r *UsageRepository) IncrementDaily(ctx context.Context, apiKeyID, toolName string, requestSize, responseSize, durationMs int, success bool) error {
	query := `SELECT increment_daily_usage($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, apiKeyID, toolName, requestSize, responseSize, durationMs, success)
	return err
}

// IncrementMonthly calls increment_monthly_usage for the current month's aggregate.
func (r *UsageRepository) IncrementMonthly(ctx context.Context, apiKeyID string, success bool) error {
	query := `SELECT increment_monthly_usage($1, $2)`
	_, err := r.db.ExecContext(ctx, query, apiKeyID, success)
	return err
}

// GetDailyUsageCount returns today's request count for a key.
func (r *UsageRepository) GetDailyUsageCount(ctx context.Context, apiKeyID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT get_daily_usage_count($1)`, apiKeyID)
	return n, err
}

// GetMonthlyUsageCount returns the current month's request count for a key.
func (r *UsageRepository) GetMonthlyUsageCount(ctx context.Context, apiKeyID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT get_monthly_usage_count($1)`, apiKeyID)
	return n, err
}

// GetDaily returns the aggregate for one key and day, or nil, nil when none exists.
func (r *UsageRepository) GetDaily(ctx context.Context, apiKeyID string, day time.Time) (*models.DailyUsage, error) {
	query := `
		SELECT api_key_id, date, request_count, success_count, error_count,
		       total_request_size, total_response_size, total_duration_ms, tool_counts
		FROM usage_daily
		WHERE api_key_id = $1 AND date = $2
	`
	var d models.DailyUsage
	err := r.db.GetContext(ctx, &d, query, apiKeyID, day.Format("2006-01-02"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetMonthly returns the aggregate for one key and "YYYY-MM", or nil, nil when none exists.
func (r *UsageRepository) GetMonthly(ctx context.Context, apiKeyID, yearMonth string) (*models.MonthlyUsage, error) {
	query := `
		SELECT api_key_id, year_month, request_count, success_count, error_count
		FROM usage_monthly
		WHERE api_key_id = $1 AND year_month = $2
	`
	var m models.MonthlyUsage
	err := r.db.GetContext(ctx, &m, query, apiKeyID, yearMonth)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
