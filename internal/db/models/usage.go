package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UsageLog is one append-only record per completed tool call.
type UsageLog struct {
	ID           string    `db:"id" json:"id"`
	APIKeyID     string    `db:"api_key_id" json:"api_key_id"`
	ToolName     string    `db:"tool_name" json:"tool_name"`
	RequestSize  *int      `db:"request_size" json:"request_size,omitempty"`
	ResponseSize *int      `db:"response_size" json:"response_size,omitempty"`
	DurationMs   *int      `db:"duration_ms" json:"duration_ms,omitempty"`
	Success      bool      `db:"success" json:"success"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	IPAddress    *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    *string   `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// DailyUsage is the per-key aggregate for one calendar day.
type DailyUsage struct {
	APIKeyID          string     `db:"api_key_id" json:"api_key_id"`
	Date              time.Time  `db:"date" json:"date"`
	RequestCount      int        `db:"request_count" json:"request_count"`
	SuccessCount      int        `db:"success_count" json:"success_count"`
	ErrorCount        int        `db:"error_count" json:"error_count"`
	TotalRequestSize  int64      `db:"total_request_size" json:"total_request_size"`
	TotalResponseSize int64      `db:"total_response_size" json:"total_response_size"`
	TotalDurationMs   int64      `db:"total_duration_ms" json:"total_duration_ms"`
	ToolCounts        ToolCounts `db:"tool_counts" json:"tool_counts"`
}

// AvgDurationMs returns the rounded mean duration, or 0 with no requests.
func (d *DailyUsage) AvgDurationMs() int64 {
	if d.RequestCount <= 0 {
		return 0
	}
	n := int64(d.RequestCount)
	return (d.TotalDurationMs + n/2) / n
}

// MonthlyUsage is the per-key aggregate for one calendar month ("YYYY-MM").
type MonthlyUsage struct {
	APIKeyID     string `db:"api_key_id" json:"api_key_id"`
	YearMonth    string `db:"year_month" json:"year_month"`
	RequestCount int    `db:"request_count" json:"request_count"`
	SuccessCount int    `db:"success_count" json:"success_count"`
	ErrorCount   int    `db:"error_count" json:"error_count"`
}

// ToolCounts maps tool name to number of calls; stored as JSONB.
type ToolCounts map[string]int

// Scan implements sql.Scanner.
func (tc *ToolCounts) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*tc = ToolCounts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("tool_counts: unsupported type %T", src)
	}
	m := ToolCounts{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("tool_counts: %w", err)
	}
	*tc = m
	return nil
}

// Value implements driver.Valuer.
func (tc ToolCounts) Value() (driver.Value, error) {
	if tc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(tc)
}
