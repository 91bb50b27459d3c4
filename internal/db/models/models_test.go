package models

import (
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// APIKey.IsExpired
// ---------------------------------------------------------------------------

func TestAPIKey_IsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"future expiry", &future, false},
		{"past expiry", &past, true},
		{"expires exactly now", &now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &APIKey{ExpiresAt: tt.expiresAt}
			if got := k.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// DailyUsage.AvgDurationMs
// ---------------------------------------------------------------------------

func TestDailyUsage_AvgDurationMs(t *testing.T) {
	tests := []struct {
		name  string
		count int
		total int64
		want  int64
	}{
		{"no requests", 0, 500, 0},
		{"exact", 4, 400, 100},
		{"rounds half up", 2, 3, 2},
		{"rounds down", 3, 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DailyUsage{RequestCount: tt.count, TotalDurationMs: tt.total}
			if got := d.AvgDurationMs(); got != tt.want {
				t.Errorf("AvgDurationMs() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ToolCounts scanning
// ---------------------------------------------------------------------------

func TestToolCounts_Scan(t *testing.T) {
	var tc ToolCounts
	if err := tc.Scan([]byte(`{"toolgate_parse":3,"toolgate_render":1}`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if tc["toolgate_parse"] != 3 || tc["toolgate_render"] != 1 {
		t.Errorf("Scan result = %v", tc)
	}

	if err := tc.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if len(tc) != 0 {
		t.Errorf("Scan(nil) = %v, want empty", tc)
	}

	if err := tc.Scan(42); err == nil {
		t.Error("Scan(int) expected error, got nil")
	}
	if err := tc.Scan("not json"); err == nil {
		t.Error("Scan(invalid json) expected error, got nil")
	}
}

func TestToolCounts_Value(t *testing.T) {
	v, err := ToolCounts(nil).Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if string(v.([]byte)) != "{}" {
		t.Errorf("nil Value() = %s, want {}", v)
	}
}
