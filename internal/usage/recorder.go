// Package usage meters completed tool calls. Recording is asynchronous and best-effort:
// a failed write is logged and counted but never reaches the caller.
package usage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/db/models"
	"github.com/toolgate/toolgate/internal/safego"
	"github.com/toolgate/toolgate/internal/telemetry"
)

// topToolsLimit caps the per-tool breakdown in a Summary.
const topToolsLimit = 5

// Entry describes one completed tool call.
type Entry struct {
	KeyID        string
	ToolName     string
	RequestSize  int
	ResponseSize int
	Duration     time.Duration
	Success      bool
	ErrorMessage string
	IPAddress    string
	UserAgent    string
}

// Store is the subset of repositories.UsageRepository the recorder uses.
type Store interface {
	InsertLog(ctx context.Context, entry *models.UsageLog) error
	IncrementDaily(ctx context.Context, apiKeyID, toolName string, requestSize, responseSize, durationMs int, success bool) error
	IncrementMonthly(ctx context.Context, apiKeyID string, success bool) error
	GetDaily(ctx context.Context, apiKeyID string, day time.Time) (*models.DailyUsage, error)
	GetMonthly(ctx context.Context, apiKeyID, yearMonth string) (*models.MonthlyUsage, error)
}

// Recorder writes usage in the background.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder. Each background write is bounded by timeout.
func NewRecorder(store Store, timeout time.Duration, logger *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		timeout: timeout,
		logger:  logger.With("component", "usage"),
		now:     time.Now,
	}
}

// Record schedules e to be written and returns immediately. Calls without a key id
// (unauthenticated admissions) are not metered.
func (r *Recorder) Record(e Entry) {
	if r == nil || r.store == nil || e.KeyID == "" {
		return
	}
	r.wg.Add(1)
	safego.GoWithTimeout(r.timeout, func(ctx context.Context) {
		defer r.wg.Done()
		r.write(ctx, e)
	})
}

// Wait blocks until every scheduled write has finished.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// write applies the log insert and both aggregate increments. Each effect is
// attempted regardless of the others' outcome.
func (r *Recorder) write(ctx context.Context, e Entry) {
	durationMs := int(e.Duration.Milliseconds())

	row := &models.UsageLog{
		APIKeyID:     e.KeyID,
		ToolName:     e.ToolName,
		RequestSize:  &e.RequestSize,
		ResponseSize: &e.ResponseSize,
		DurationMs:   &durationMs,
		Success:      e.Success,
		ErrorMessage: optional(e.ErrorMessage),
		IPAddress:    optional(e.IPAddress),
		UserAgent:    optional(e.UserAgent),
	}
	if err := r.store.InsertLog(ctx, row); err != nil {
		r.fail("log", e, err)
	}

	if err := r.store.IncrementDaily(ctx, e.KeyID, e.ToolName, e.RequestSize, e.ResponseSize, durationMs, e.Success); err != nil {
		r.fail("daily", e, err)
	}

	if err := r.store.IncrementMonthly(ctx, e.KeyID, e.Success); err != nil {
		r.fail("monthly", e, err)
	}
}

func (r *Recorder) fail(effect string, e Entry, err error) {
	telemetry.UsageRecordFailuresTotal.WithLabelValues(effect).Inc()
	r.logger.Error("failed to record usage",
		"effect", effect, "key_id", e.KeyID, "tool", e.ToolName, "error", err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Summary is a per-key usage report for the current day and month.
type Summary struct {
	Today     DaySummary   `json:"today"`
	ThisMonth MonthSummary `json:"this_month"`
	TopTools  []ToolCount  `json:"top_tools"`
}

// DaySummary reports today's aggregate.
type DaySummary struct {
	Requests      int   `json:"requests"`
	Successes     int   `json:"successes"`
	Errors        int   `json:"errors"`
	AvgDurationMs int64 `json:"avg_duration_ms"`
}

// MonthSummary reports the current month's aggregate.
type MonthSummary struct {
	Requests  int `json:"requests"`
	Successes int `json:"successes"`
	Errors    int `json:"errors"`
}

// ToolCount is one entry of the per-tool breakdown.
type ToolCount struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

// Summary reads today's and this month's aggregates for keyID. Read failures are
// logged and reported as zero.
func (r *Recorder) Summary(ctx context.Context, keyID string) Summary {
	s := Summary{TopTools: []ToolCount{}}
	if r == nil || r.store == nil {
		return s
	}
	now := r.now().UTC()

	daily, err := r.store.GetDaily(ctx, keyID, now)
	if err != nil {
		r.logger.Warn("failed to read daily usage", "key_id", keyID, "error", err)
	} else if daily != nil {
		s.Today = DaySummary{
			Requests:      daily.RequestCount,
			Successes:     daily.SuccessCount,
			Errors:        daily.ErrorCount,
			AvgDurationMs: daily.AvgDurationMs(),
		}
		s.TopTools = topTools(daily.ToolCounts, topToolsLimit)
	}

	monthly, err := r.store.GetMonthly(ctx, keyID, now.Format("2006-01"))
	if err != nil {
		r.logger.Warn("failed to read monthly usage", "key_id", keyID, "error", err)
	} else if monthly != nil {
		s.ThisMonth = MonthSummary{
			Requests:  monthly.RequestCount,
			Successes: monthly.SuccessCount,
			Errors:    monthly.ErrorCount,
		}
	}
	return s
}

// topTools orders counts by descending count, then name, and keeps at most n.
func topTools(counts models.ToolCounts, n int) []ToolCount {
	out := make([]ToolCount, 0, len(counts))
	for tool, c := range counts {
		out = append(out, ToolCount{Tool: tool, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tool < out[j].Tool
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
