// Package auth - tiers.go defines the subscription tiers, their rate limits and quotas, and the
// tool allow-list of each tier. The table is static; a key's effective policy is always looked
// up from its current tier at check time.
package auth

import (
	"errors"
	"fmt"
)

// Tier is a subscription level
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tool names served behind the gateway
const (
	ToolParse      = "toolgate_parse"
	ToolValidate   = "toolgate_validate"
	ToolGrammar    = "toolgate_grammar"
	ToolRenderHTML = "toolgate_render_html"
	ToolRenderSVG  = "toolgate_render_svg"
	ToolRender     = "toolgate_render"
)

// ErrUnknownTier is returned for a tier value outside AllTiers.
var ErrUnknownTier = errors.New("unknown tier")

// TierPolicy holds the limits and tool access of one tier
type TierPolicy struct {
	Tier         Tier     `json:"tier"`
	PerMinute    int      `json:"per_minute"`
	PerDay       int      `json:"per_day"`
	MonthlyQuota *int     `json:"monthly_quota"` // nil = unlimited
	Tools        []string `json:"tools"`
}

func quota(n int) *int { return &n }

var (
	freeTools  = []string{ToolParse, ToolValidate, ToolGrammar}
	basicTools = append(append([]string{}, freeTools...), ToolRenderHTML, ToolRenderSVG)
	proTools   = append(append([]string{}, basicTools...), ToolRender)
)

var tierPolicies = map[Tier]TierPolicy{
	TierFree:       {Tier: TierFree, PerMinute: 10, PerDay: 100, MonthlyQuota: quota(1000), Tools: freeTools},
	TierBasic:      {Tier: TierBasic, PerMinute: 30, PerDay: 500, MonthlyQuota: quota(10000), Tools: basicTools},
	TierPro:        {Tier: TierPro, PerMinute: 100, PerDay: 2000, MonthlyQuota: quota(50000), Tools: proTools},
	TierEnterprise: {Tier: TierEnterprise, PerMinute: 500, PerDay: 10000, MonthlyQuota: nil, Tools: proTools},
}

// AllTiers returns every tier from lowest to highest
func AllTiers() []Tier {
	return []Tier{TierFree, TierBasic, TierPro, TierEnterprise}
}

// AllTools returns every tool name known to the policy
func AllTools() []string {
	return append([]string{}, proTools...)
}

// Valid reports whether t is one of AllTiers
func (t Tier) Valid() bool {
	_, ok := tierPolicies[t]
	return ok
}

// ParseTier converts user input to a Tier
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// LimitsFor returns a copy of the tier's policy
func LimitsFor(t Tier) (TierPolicy, error) {
	p, ok := tierPolicies[t]
	if !ok {
		return TierPolicy{}, fmt.Errorf("%w: %q", ErrUnknownTier, string(t))
	}
	p.Tools = append([]string{}, p.Tools...)
	if p.MonthlyQuota != nil {
		p.MonthlyQuota = quota(*p.MonthlyQuota)
	}
	return p, nil
}

// MustLimitsFor is LimitsFor for callers holding a tier that came from a validated key.
// It panics on an unknown tier.
func MustLimitsFor(t Tier) TierPolicy {
	p, err := LimitsFor(t)
	if err != nil {
		panic(err)
	}
	return p
}

// IsToolAllowed reports whether tool is in the tier's allow-list. It panics on an unknown tier.
func IsToolAllowed(t Tier, tool string) bool {
	p, ok := tierPolicies[t]
	if !ok {
		panic(fmt.Errorf("%w: %q", ErrUnknownTier, string(t)))
	}
	for _, allowed := range p.Tools {
		if allowed == tool {
			return true
		}
	}
	return false
}
