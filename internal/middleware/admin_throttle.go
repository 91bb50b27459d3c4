package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// AdminThrottleConfig holds the per-client limits applied to the admin endpoints.
type AdminThrottleConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long an unused client bucket is kept.
	IdleTTL time.Duration
	// CleanupInterval is how often idle buckets are dropped. Zero disables cleanup.
	CleanupInterval time.Duration
}

// DefaultAdminThrottleConfig returns limits suited to an operator-only surface.
func DefaultAdminThrottleConfig() AdminThrottleConfig {
	return AdminThrottleConfig{
		RequestsPerSecond: 2,
		Burst:             10,
		IdleTTL:           15 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AdminThrottle keeps one token bucket per client IP.
type AdminThrottle struct {
	config   AdminThrottleConfig
	mu       sync.Mutex
	entries  map[string]*throttleEntry
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewAdminThrottle creates a throttle and starts its cleanup goroutine.
func NewAdminThrottle(config AdminThrottleConfig) *AdminThrottle {
	def := DefaultAdminThrottleConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}

	t := &AdminThrottle{
		config:  config,
		entries: make(map[string]*throttleEntry),
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go t.cleanup()
	}
	return t
}

func (t *AdminThrottle) cleanup() {
	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep(time.Now())
		case <-t.stopCh:
			return
		}
	}
}

func (t *AdminThrottle) sweep(now time.Time) {
	cutoff := now.Add(-t.config.IdleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range t.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(t.entries, key)
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (t *AdminThrottle) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *AdminThrottle) limiter(key string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	lim := rate.NewLimiter(rate.Limit(t.config.RequestsPerSecond), t.config.Burst)
	t.entries[key] = &throttleEntry{limiter: lim, lastSeen: now}
	return lim
}

// Allow reports whether a request from key may proceed, and if not, how long to wait.
func (t *AdminThrottle) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	lim := t.limiter(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// AdminThrottleMiddleware rejects clients that exceed the admin request rate.
func AdminThrottleMiddleware(t *AdminThrottle) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := t.Allow(c.ClientIP())
		if !ok {
			retryAfter := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many admin requests",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
