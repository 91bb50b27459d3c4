// Package usagetest provides an in-memory usage store for tests.
package usagetest

import (
	"context"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/db/models"
)

// Memory implements usage.Store. Aggregates are keyed by key id only; the day and
// month arguments of the read methods are echoed back.
type Memory struct {
	mu      sync.Mutex
	logs    []models.UsageLog
	daily   map[string]*models.DailyUsage
	monthly map[string]*models.MonthlyUsage
	failErr error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		daily:   map[string]*models.DailyUsage{},
		monthly: map[string]*models.MonthlyUsage{},
	}
}

// FailWith makes every write return err until it is called again with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// InsertLog appends a copy of entry.
func (m *Memory) InsertLog(_ context.Context, entry *models.UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.logs = append(m.logs, *entry)
	return nil
}

// IncrementDaily adds one request to the key's daily aggregate.
func (m *Memory) IncrementDaily(_ context.Context, apiKeyID, toolName string, requestSize, responseSize, durationMs int, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	d, ok := m.daily[apiKeyID]
	if !ok {
		d = &models.DailyUsage{APIKeyID: apiKeyID, ToolCounts: models.ToolCounts{}}
		m.daily[apiKeyID] = d
	}
	d.RequestCount++
	if success {
		d.SuccessCount++
	} else {
		d.ErrorCount++
	}
	d.TotalRequestSize += int64(requestSize)
	d.TotalResponseSize += int64(responseSize)
	d.TotalDurationMs += int64(durationMs)
	d.ToolCounts[toolName]++
	return nil
}

// IncrementMonthly adds one request to the key's monthly aggregate.
func (m *Memory) IncrementMonthly(_ context.Context, apiKeyID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	mo, ok := m.monthly[apiKeyID]
	if !ok {
		mo = &models.MonthlyUsage{APIKeyID: apiKeyID}
		m.monthly[apiKeyID] = mo
	}
	mo.RequestCount++
	if success {
		mo.SuccessCount++
	} else {
		mo.ErrorCount++
	}
	return nil
}

// GetDaily returns a copy of the key's daily aggregate, or nil.
func (m *Memory) GetDaily(_ context.Context, apiKeyID string, day time.Time) (*models.DailyUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.daily[apiKeyID]
	if !ok {
		return nil, nil
	}
	c := *d
	c.Date = day
	c.ToolCounts = models.ToolCounts{}
	for k, v := range d.ToolCounts {
		c.ToolCounts[k] = v
	}
	return &c, nil
}

// GetMonthly returns a copy of the key's monthly aggregate, or nil.
func (m *Memory) GetMonthly(_ context.Context, apiKeyID, yearMonth string) (*models.MonthlyUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mo, ok := m.monthly[apiKeyID]
	if !ok {
		return nil, nil
	}
	c := *mo
	c.YearMonth = yearMonth
	return &c, nil
}

// Logs returns a copy of every inserted log row.
func (m *Memory) Logs() []models.UsageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UsageLog(nil), m.logs...)
}
