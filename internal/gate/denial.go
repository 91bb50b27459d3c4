package gate

import (
	"strings"

	"github.com/toolgate/toolgate/internal/keystore"
	"github.com/toolgate/toolgate/internal/ratelimit"
)

// Code is a machine-readable denial reason.
type Code string

const (
	CodeMissingAPIKey        Code = "MISSING_API_KEY"
	CodeInvalidAPIKey        Code = "INVALID_API_KEY"
	CodeExpiredAPIKey        Code = "EXPIRED_API_KEY"
	CodeRevokedAPIKey        Code = "REVOKED_API_KEY"
	CodeDailyLimitExceeded   Code = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyQuotaExceeded Code = "MONTHLY_QUOTA_EXCEEDED"
	CodeTierNotAllowed       Code = "TIER_NOT_ALLOWED"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternalError        Code = "INTERNAL_ERROR"
)

// Denial is a terminal gate failure. RateLimit is set for RATE_LIMIT_EXCEEDED.
type Denial struct {
	Code      Code
	Message   string
	RateLimit *ratelimit.Result
}

func newDenial(code Code, message string) *Denial {
	return &Denial{Code: code, Message: message}
}

var reasonCodes = map[keystore.Reason]Code{
	keystore.ReasonInvalid:      CodeInvalidAPIKey,
	keystore.ReasonExpired:      CodeExpiredAPIKey,
	keystore.ReasonRevoked:      CodeRevokedAPIKey,
	keystore.ReasonDailyLimit:   CodeDailyLimitExceeded,
	keystore.ReasonMonthlyQuota: CodeMonthlyQuotaExceeded,
}

// Classify maps an invalid validation to a denial code. The store's structured reason
// wins; without one the message text is classified by ClassifyMessage.
func Classify(v *keystore.Validation) Code {
	if v == nil {
		return CodeInvalidAPIKey
	}
	if code, ok := reasonCodes[v.Reason]; ok {
		return code
	}
	return ClassifyMessage(v.Message)
}

// ClassifyMessage maps free-form store error text to a code by substring. Matching is
// case-sensitive and checked in a fixed order; anything unrecognised is
// INVALID_API_KEY.
func ClassifyMessage(msg string) Code {
	switch {
	case msg == "":
		return CodeInvalidAPIKey
	case strings.Contains(msg, "expired"):
		return CodeExpiredAPIKey
	case strings.Contains(msg, "revoked"):
		return CodeRevokedAPIKey
	case strings.Contains(msg, "rate limit"):
		return CodeRateLimitExceeded
	case strings.Contains(msg, "Daily"):
		return CodeDailyLimitExceeded
	case strings.Contains(msg, "Monthly"), strings.Contains(msg, "quota"):
		return CodeMonthlyQuotaExceeded
	}
	return CodeInvalidAPIKey
}

var defaultMessages = map[Code]string{
	CodeInvalidAPIKey:        keystore.InvalidKeyMessage,
	CodeExpiredAPIKey:        "API key has expired",
	CodeRevokedAPIKey:        "API key has been revoked",
	CodeDailyLimitExceeded:   "Daily request limit exceeded",
	CodeMonthlyQuotaExceeded: "Monthly quota exceeded",
}

func messageFor(code Code, storeMessage string) string {
	if storeMessage != "" {
		return storeMessage
	}
	if m, ok := defaultMessages[code]; ok {
		return m
	}
	return keystore.InvalidKeyMessage
}
