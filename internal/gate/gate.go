// Package gate decides whether a request may invoke a tool. Each request passes, in
// order, through key extraction, validation against the key store, tier authorization
// and the rate limiter. The first failing step ends evaluation with a Denial.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/keystore"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/telemetry"
)

// Mode controls how the gate treats requests without a usable key store or key.
type Mode string

const (
	// ModeDefault admits everyone when no key store is configured, and otherwise
	// requires a key.
	ModeDefault Mode = "default"
	// ModeRequired always requires a key. A missing key store is a configuration error.
	ModeRequired Mode = "required"
	// ModeOptional admits requests without a key as unauthenticated.
	ModeOptional Mode = "optional"
)

// ParseMode converts a configuration value to a Mode. Empty selects ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeRequired, ModeOptional:
		return m, nil
	}
	return "", fmt.Errorf("unknown auth mode %q", s)
}

// Validator resolves plaintext keys. *keystore.Service implements it.
type Validator interface {
	Validate(ctx context.Context, plaintext string) (*keystore.Validation, error)
}

// Request carries what the gate needs from an incoming call.
type Request struct {
	Header    http.Header
	Query     url.Values
	IPAddress string
	UserAgent string
	// ToolName is the tool being invoked, if any.
	ToolName string
	// AllowedTiers optionally restricts the operation to the listed tiers.
	AllowedTiers []auth.Tier
}

// RateLimits are the limits recorded on the key.
type RateLimits struct {
	PerMinute    int  `json:"per_minute"`
	PerDay       int  `json:"per_day"`
	MonthlyQuota *int `json:"monthly_quota"`
}

// UsageSnapshot is the key's usage as reported at validation time.
type UsageSnapshot struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// RequestInfo is the caller metadata kept for usage logging.
type RequestInfo struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// AuthContext describes the caller for the rest of the request. Unauthenticated
// contexts carry only Request.
type AuthContext struct {
	Authenticated bool              `json:"authenticated"`
	KeyID         string            `json:"key_id,omitempty"`
	Tier          auth.Tier         `json:"tier,omitempty"`
	KeySource     auth.KeySource    `json:"-"`
	RateLimits    *RateLimits       `json:"rate_limits,omitempty"`
	Usage         *UsageSnapshot    `json:"usage,omitempty"`
	Request       RequestInfo       `json:"request"`
	RateLimit     *ratelimit.Result `json:"-"`
}

// Options configure a Gate.
type Options struct {
	Mode    Mode
	Sources auth.CredentialSources
	Logger  *slog.Logger
}

// Gate evaluates requests. It holds no per-request state and is safe for concurrent use.
type Gate struct {
	keys    Validator
	limiter ratelimit.Limiter
	mode    Mode
	sources auth.CredentialSources
	logger  *slog.Logger
}

// New creates a Gate. A nil keys means no key store is configured; a nil limiter
// disables the rate check.
func New(keys Validator, limiter ratelimit.Limiter, opts Options) *Gate {
	if opts.Mode == "" {
		opts.Mode = ModeDefault
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gate{
		keys:    keys,
		limiter: limiter,
		mode:    opts.Mode,
		sources: opts.Sources,
		logger:  opts.Logger.With("component", "gate"),
	}
}

// Mode returns the configured mode.
func (g *Gate) Mode() Mode { return g.mode }

// Authenticate runs the request through the gate. It always returns a context; the
// Denial is nil when the request is admitted. On denial the context holds whatever
// was resolved before the failing step.
func (g *Gate) Authenticate(ctx context.Context, req Request) (*AuthContext, *Denial) {
	ac := &AuthContext{Request: RequestInfo{IPAddress: req.IPAddress, UserAgent: req.UserAgent}}

	if g.keys == nil {
		if g.mode == ModeRequired {
			g.logger.Error("authentication required but no key store is configured")
			return g.deny(ac, CodeInternalError, "Authentication is required but the key store is not configured")
		}
		return g.admitAnonymous(ac)
	}

	key, source := auth.ExtractAPIKey(req.Header, req.Query, g.sources)
	if key == "" {
		if g.mode == ModeOptional {
			return g.admitAnonymous(ac)
		}
		return g.deny(ac, CodeMissingAPIKey, "API key is required")
	}
	ac.KeySource = source

	v, err := g.keys.Validate(ctx, key)
	if err != nil {
		g.logger.Error("key validation failed", "source", source, "error", err)
		return g.deny(ac, CodeInternalError, "Authentication service error")
	}
	if !v.Valid {
		code := Classify(v)
		ac.KeyID = v.KeyID
		return g.deny(ac, code, messageFor(code, v.Message))
	}
	if !v.Tier.Valid() {
		g.logger.Error("key store returned an unknown tier", "key_id", v.KeyID, "tier", v.Tier)
		return g.deny(ac, CodeInternalError, "Authentication service error")
	}

	ac.Authenticated = true
	ac.KeyID = v.KeyID
	ac.Tier = v.Tier
	ac.RateLimits = &RateLimits{
		PerMinute:    v.PerMinuteLimit,
		PerDay:       v.PerDayLimit,
		MonthlyQuota: v.MonthlyQuota,
	}
	ac.Usage = &UsageSnapshot{Daily: v.DailyUsage, Monthly: v.MonthlyUsage}

	if req.ToolName != "" && knownTool(req.ToolName) && !auth.IsToolAllowed(ac.Tier, req.ToolName) {
		return g.deny(ac, CodeTierNotAllowed,
			fmt.Sprintf("Your tier (%s) does not have access to %s", ac.Tier, req.ToolName))
	}
	if len(req.AllowedTiers) > 0 && !slices.Contains(req.AllowedTiers, ac.Tier) {
		names := make([]string, len(req.AllowedTiers))
		for i, t := range req.AllowedTiers {
			names[i] = string(t)
		}
		return g.deny(ac, CodeTierNotAllowed,
			"This operation requires one of: "+strings.Join(names, ", "))
	}

	if g.limiter != nil {
		res, err := g.limiter.Check(ctx, ac.KeyID, ac.Tier)
		if err != nil {
			g.logger.Error("rate limit check failed", "key_id", ac.KeyID, "error", err)
			return g.deny(ac, CodeInternalError, "Rate limiting service error")
		}
		ac.RateLimit = &res
		if !res.Allowed {
			d := newDenial(CodeRateLimitExceeded, fmt.Sprintf(
				"Rate limit exceeded. You have made %d requests. Limit is %d per minute.",
				res.Current, res.Limit))
			d.RateLimit = &res
			return g.reject(ac, d)
		}
	}

	telemetry.GateDecisionsTotal.WithLabelValues("admitted", "NONE").Inc()
	g.logger.Debug("request admitted", "key_id", ac.KeyID, "tier", ac.Tier, "tool", req.ToolName)
	return ac, nil
}

func (g *Gate) admitAnonymous(ac *AuthContext) (*AuthContext, *Denial) {
	telemetry.GateDecisionsTotal.WithLabelValues("admitted_anonymous", "NONE").Inc()
	return ac, nil
}

func (g *Gate) deny(ac *AuthContext, code Code, message string) (*AuthContext, *Denial) {
	return g.reject(ac, newDenial(code, message))
}

func (g *Gate) reject(ac *AuthContext, d *Denial) (*AuthContext, *Denial) {
	telemetry.GateDecisionsTotal.WithLabelValues("denied", string(d.Code)).Inc()
	g.logger.Info("request denied", "code", d.Code, "key_id", ac.KeyID, "ip", ac.Request.IPAddress)
	return ac, d
}

func knownTool(name string) bool {
	return slices.Contains(auth.AllTools(), name)
}
