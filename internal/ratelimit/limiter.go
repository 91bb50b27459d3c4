// Package ratelimit enforces per-key request rates for the gateway.
//
// Three strategies are available:
//
//   - sliding_window: per-request timestamps in a Redis sorted set (default)
//   - gcra: generic cell rate algorithm kept in Redis via redis_rate
//   - local: in-process fixed window, used when no shared store is configured
//
// The shared-store strategies fail open by default: when Redis cannot be reached the
// request is admitted with a full-quota result and the failure is counted in
// telemetry.RateLimitStoreErrorsTotal.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/telemetry"
)

const (
	StrategySlidingWindow = "sliding_window"
	StrategyGCRA          = "gcra"
	StrategyLocal         = "local"
)

// ErrStoreUnavailable is returned by shared-store strategies configured to fail closed.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Current   int
	Remaining int
	ResetIn   time.Duration
	ResetAt   time.Time
}

// Limiter decides whether identity may make one more request under its tier's
// per-window limit.
type Limiter interface {
	Check(ctx context.Context, identity string, tier auth.Tier) (Result, error)
	Strategy() string
}

// Options are shared by all strategies.
type Options struct {
	// KeyPrefix namespaces shared-store keys.
	KeyPrefix string
	// Window is the counting window. Tier limits are applied per window.
	Window time.Duration
	// FailOpen admits requests when the shared store fails.
	FailOpen bool
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = time.Minute
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = "toolgate:ratelimit"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "ratelimit")
	return o
}

// New builds the limiter selected by cfg. A nil client selects the local strategy
// regardless of cfg.Strategy.
func New(cfg config.RateLimitingConfig, client redis.UniversalClient, keyPrefix string, logger *slog.Logger) (Limiter, error) {
	opts := Options{
		KeyPrefix: keyPrefix,
		Window:    cfg.Window,
		FailOpen:  cfg.FailOpen,
		Logger:    logger,
	}
	if client == nil {
		return NewLocal(opts, cfg.CleanupInterval), nil
	}
	switch cfg.Strategy {
	case StrategySlidingWindow, "":
		return NewSlidingWindow(client, opts), nil
	case StrategyGCRA:
		return NewGCRA(client, opts), nil
	default:
		return nil, fmt.Errorf("unknown rate limiting strategy %q", cfg.Strategy)
	}
}

func limitFor(tier auth.Tier) (int, error) {
	p, err := auth.LimitsFor(tier)
	if err != nil {
		return 0, err
	}
	return p.PerMinute, nil
}

func storeKey(prefix string, tier auth.Tier, identity string) string {
	return prefix + ":" + string(tier) + ":" + identity
}

// storeFailure applies the fail-open or fail-closed policy to a shared-store error.
func storeFailure(o Options, strategy string, identity string, limit int, now time.Time, err error) (Result, error) {
	if o.FailOpen {
		telemetry.RateLimitStoreErrorsTotal.WithLabelValues(strategy, "fail_open").Inc()
		o.Logger.Warn("rate limit store failed, admitting request",
			"strategy", strategy, "identity", identity, "error", err)
		res := Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetIn:   o.Window,
			ResetAt:   now.Add(o.Window),
		}
		observe(strategy, res)
		return res, nil
	}

	telemetry.RateLimitStoreErrorsTotal.WithLabelValues(strategy, "fail_closed").Inc()
	o.Logger.Error("rate limit store failed, rejecting request",
		"strategy", strategy, "identity", identity, "error", err)
	return Result{Limit: limit}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func observe(strategy string, res Result) {
	telemetry.RateLimitChecksTotal.WithLabelValues(strategy, strconv.FormatBool(res.Allowed)).Inc()
}
