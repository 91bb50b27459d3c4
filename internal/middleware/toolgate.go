package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/ratelimit"
)

// AuthContextKey is the gin.Context key holding the *gate.AuthContext of an admitted request.
const AuthContextKey = "auth_context"

var denialStatus = map[gate.Code]int{
	gate.CodeMissingAPIKey:        http.StatusUnauthorized,
	gate.CodeInvalidAPIKey:        http.StatusUnauthorized,
	gate.CodeExpiredAPIKey:        http.StatusUnauthorized,
	gate.CodeRevokedAPIKey:        http.StatusUnauthorized,
	gate.CodeDailyLimitExceeded:   http.StatusPaymentRequired,
	gate.CodeMonthlyQuotaExceeded: http.StatusPaymentRequired,
	gate.CodeTierNotAllowed:       http.StatusForbidden,
	gate.CodeRateLimitExceeded:    http.StatusTooManyRequests,
	gate.CodeInternalError:        http.StatusInternalServerError,
}

// DenialStatus returns the HTTP status for a denial code.
func DenialStatus(code gate.Code) int {
	if status, ok := denialStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ToolGateMiddleware runs every request through g before the tool handler. The tool
// name is read from the route parameter toolParam. Admitted requests carry their
// *gate.AuthContext under AuthContextKey.
func ToolGateMiddleware(g *gate.Gate, toolParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac, denial := g.Authenticate(c.Request.Context(), gate.Request{
			Header:    c.Request.Header,
			Query:     c.Request.URL.Query(),
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			ToolName:  c.Param(toolParam),
		})

		if denial != nil {
			body := gin.H{
				"error": denial.Message,
				"code":  denial.Code,
			}
			if rl := denial.RateLimit; rl != nil {
				setRateLimitHeaders(c, rl)
				retryAfter := retryAfterSeconds(rl.ResetIn)
				c.Header("Retry-After", strconv.Itoa(retryAfter))
				body["limit"] = rl.Limit
				body["current"] = rl.Current
				body["remaining"] = rl.Remaining
				body["reset_at"] = rl.ResetAt.UTC().Format(time.RFC3339)
				body["retry_after"] = retryAfter
			}
			c.AbortWithStatusJSON(DenialStatus(denial.Code), body)
			return
		}

		if ac.RateLimit != nil {
			setRateLimitHeaders(c, ac.RateLimit)
		}
		c.Set(AuthContextKey, ac)
		c.Next()
	}
}

// GetAuthContext returns the context stored by ToolGateMiddleware, or nil.
func GetAuthContext(c *gin.Context) *gate.AuthContext {
	v, ok := c.Get(AuthContextKey)
	if !ok {
		return nil
	}
	ac, _ := v.(*gate.AuthContext)
	return ac
}

func setRateLimitHeaders(c *gin.Context, rl *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
