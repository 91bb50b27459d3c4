package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/toolgate/toolgate/internal/auth"
)

// slidingWindowScript keeps one sorted-set member per admitted request, scored by its
// timestamp. Members at or before now-window fall out of the window. A denied request
// is not added.
//
// KEYS[1] identity key
// ARGV[1] limit, ARGV[2] now (ms), ARGV[3] window (ms), ARGV[4] member
//
// Returns {allowed (0|1), count, reset (ms)} where reset is when the oldest counted
// request leaves the window.
var slidingWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", KEYS[1], window)

local reset = now + window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// tierWindow holds the fixed parameters of one tier's limiter.
type tierWindow struct {
	limit  int
	prefix string
}

// SlidingWindow is the default shared-store strategy. It counts the requests admitted
// in the trailing window, so a client that waits until ResetAt is admitted again.
type SlidingWindow struct {
	client redis.Scripter
	opts   Options

	mu    sync.Mutex
	tiers map[auth.Tier]*tierWindow
}

// NewSlidingWindow returns a sliding window limiter backed by client.
func NewSlidingWindow(client redis.Scripter, opts Options) *SlidingWindow {
	return &SlidingWindow{
		client: client,
		opts:   opts.withDefaults(),
		tiers:  make(map[auth.Tier]*tierWindow),
	}
}

func (s *SlidingWindow) Strategy() string { return StrategySlidingWindow }

// forTier returns the cached limiter parameters for tier, creating them on first use.
func (s *SlidingWindow) forTier(tier auth.Tier) (*tierWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tw, ok := s.tiers[tier]; ok {
		return tw, nil
	}
	limit, err := limitFor(tier)
	if err != nil {
		return nil, err
	}
	tw := &tierWindow{limit: limit, prefix: storeKey(s.opts.KeyPrefix, tier, "")}
	s.tiers[tier] = tw
	return tw, nil
}

// Check counts one request for identity.
func (s *SlidingWindow) Check(ctx context.Context, identity string, tier auth.Tier) (Result, error) {
	tw, err := s.forTier(tier)
	if err != nil {
		return Result{}, err
	}

	now := s.opts.Now()
	nowMs := now.UnixMilli()
	// Members must be unique even when two requests share a millisecond.
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	keys := []string{tw.prefix + identity}
	vals, err := slidingWindowScript.Run(ctx, s.client, keys, tw.limit, nowMs, s.opts.Window.Milliseconds(), member).Int64Slice()
	if err == nil && len(vals) != 3 {
		err = errors.New("unexpected sliding window script reply")
	}
	if err != nil {
		return storeFailure(s.opts, StrategySlidingWindow, identity, tw.limit, now, err)
	}

	current := int(vals[1])
	resetAt := time.UnixMilli(vals[2])
	res := Result{
		Allowed:   vals[0] == 1,
		Limit:     tw.limit,
		Current:   current,
		Remaining: max(0, tw.limit-current),
		ResetIn:   resetAt.Sub(now),
		ResetAt:   resetAt,
	}
	observe(StrategySlidingWindow, res)
	return res, nil
}
