package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/auth"
)

// windowEntry tracks one identity's count in the current fixed window.
type windowEntry struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	// dead is set by the janitor once the entry has been removed from the map.
	dead bool
}

// Local is an in-process fixed window limiter. Counters are not shared between
// gateway instances.
type Local struct {
	opts     Options
	entries  sync.Map // string -> *windowEntry
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLocal returns a local limiter. When cleanupInterval is positive, a background
// goroutine removes expired entries until Stop is called.
func NewLocal(opts Options, cleanupInterval time.Duration) *Local {
	l := &Local{
		opts:   opts.withDefaults(),
		stopCh: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanup(cleanupInterval)
	}
	return l
}

func (l *Local) Strategy() string { return StrategyLocal }

// Check counts one request for identity. A request at or after the window's reset
// time starts a fresh window. Denied requests are not counted.
func (l *Local) Check(_ context.Context, identity string, tier auth.Tier) (Result, error) {
	limit, err := limitFor(tier)
	if err != nil {
		return Result{}, err
	}
	key := string(tier) + ":" + identity

	for {
		v, _ := l.entries.LoadOrStore(key, &windowEntry{})
		e := v.(*windowEntry)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}

		now := l.opts.Now()
		if e.resetAt.IsZero() || !now.Before(e.resetAt) {
			e.count = 0
			e.resetAt = now.Add(l.opts.Window)
		}
		allowed := e.count < limit
		if allowed {
			e.count++
		}
		res := Result{
			Allowed:   allowed,
			Limit:     limit,
			Current:   e.count,
			Remaining: max(0, limit-e.count),
			ResetIn:   e.resetAt.Sub(now),
			ResetAt:   e.resetAt,
		}
		e.mu.Unlock()

		observe(StrategyLocal, res)
		return res, nil
	}
}

// sweep removes expired entries and returns how many were removed.
func (l *Local) sweep() int {
	now := l.opts.Now()
	removed := 0
	l.entries.Range(func(k, v any) bool {
		e := v.(*windowEntry)
		e.mu.Lock()
		if !e.resetAt.IsZero() && !now.Before(e.resetAt) {
			e.dead = true
			l.entries.CompareAndDelete(k, v)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

func (l *Local) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.sweep(); n > 0 {
				l.opts.Logger.Debug("expired rate limit windows removed", "count", n)
			}
		case <-l.stopCh:
			return
		}
	}
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (l *Local) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
