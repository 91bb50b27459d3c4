// Package jobs holds the gateway's background jobs.
//
// KeyExpirySweeper periodically moves active API keys whose expiry has passed to the
// expired status. Validation already rejects an expired key on its own, so the sweep
// only keeps the stored status in line with reality for listings and reporting.
// Keys are never deleted.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/telemetry"
)

// DefaultExpirySweepInterval is used when no interval is configured.
const DefaultExpirySweepInterval = time.Hour

// KeyExpirer transitions expired keys. *repositories.APIKeyRepository implements it.
type KeyExpirer interface {
	ExpireKeys(ctx context.Context, now time.Time) (int64, error)
}

// KeyExpirySweeper runs KeyExpirer.ExpireKeys on a fixed interval.
type KeyExpirySweeper struct {
	keys     KeyExpirer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewKeyExpirySweeper creates a sweeper. A non-positive interval selects
// DefaultExpirySweepInterval.
func NewKeyExpirySweeper(keys KeyExpirer, interval time.Duration, logger *slog.Logger) *KeyExpirySweeper {
	if interval <= 0 {
		interval = DefaultExpirySweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyExpirySweeper{
		keys:     keys,
		interval: interval,
		logger:   logger.With("component", "key_expiry_sweeper"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every interval until ctx is cancelled or
// Stop is called. It blocks; run it in its own goroutine.
func (s *KeyExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("key expiry sweeper started", "interval", s.interval)
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("key expiry sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("key expiry sweeper context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (s *KeyExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce performs a single sweep and returns the number of keys expired.
func (s *KeyExpirySweeper) RunOnce(ctx context.Context) int64 {
	n, err := s.keys.ExpireKeys(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("failed to expire keys", "error", err)
		return 0
	}
	if n > 0 {
		telemetry.KeysExpiredTotal.Add(float64(n))
		s.logger.Info("expired api keys", "count", n)
	}
	return n
}
