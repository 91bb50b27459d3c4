package ratelimit

import (
	"context"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/toolgate/toolgate/internal/auth"
)

// GCRA spaces requests evenly across the window with a burst equal to the tier limit.
type GCRA struct {
	limiter *redis_rate.Limiter
	opts    Options
}

// NewGCRA returns a GCRA limiter backed by client.
func NewGCRA(client redis.UniversalClient, opts Options) *GCRA {
	return &GCRA{
		limiter: redis_rate.NewLimiter(client),
		opts:    opts.withDefaults(),
	}
}

func (g *GCRA) Strategy() string { return StrategyGCRA }

// Check counts one request for identity.
func (g *GCRA) Check(ctx context.Context, identity string, tier auth.Tier) (Result, error) {
	limit, err := limitFor(tier)
	if err != nil {
		return Result{}, err
	}

	now := g.opts.Now()
	rl := redis_rate.Limit{Rate: limit, Burst: limit, Period: g.opts.Window}
	out, err := g.limiter.Allow(ctx, storeKey(g.opts.KeyPrefix, tier, identity), rl)
	if err != nil {
		return storeFailure(g.opts, StrategyGCRA, identity, limit, now, err)
	}

	res := Result{
		Allowed:   out.Allowed > 0,
		Limit:     limit,
		Current:   limit - out.Remaining,
		Remaining: out.Remaining,
		ResetIn:   out.ResetAfter,
	}
	if !res.Allowed {
		res.ResetIn = out.RetryAfter
	}
	res.ResetAt = now.Add(res.ResetIn)
	observe(StrategyGCRA, res)
	return res, nil
}
