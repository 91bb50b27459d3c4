package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/keystore"
	"github.com/toolgate/toolgate/internal/keystore/keystoretest"
	"github.com/toolgate/toolgate/internal/ratelimit"
)

var gateNow = time.Date(2026, 5, 1, 12, 0, 30, 0, time.UTC)

type gateFixture struct {
	router *gin.Engine
	keys   *keystore.Service
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	mem := keystoretest.NewMemory()
	mem.Now = func() time.Time { return gateNow }
	keys := keystore.New(mem, mem, "tg_", nil)
	limiter := ratelimit.NewLocal(ratelimit.Options{Window: time.Minute, Now: func() time.Time { return gateNow }}, 0)
	t.Cleanup(limiter.Stop)

	g := gate.New(keys, limiter, gate.Options{
		Sources: auth.CredentialSources{
			Header:    "X-API-Key",
			LookupEnv: func(string) (string, bool) { return "", false },
		},
	})

	r := gin.New()
	r.POST("/v1/tools/:name", ToolGateMiddleware(g, "name"), func(c *gin.Context) {
		ac := GetAuthContext(c)
		if ac == nil {
			c.Status(http.StatusTeapot)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key_id": ac.KeyID, "tier": ac.Tier})
	})
	return &gateFixture{router: r, keys: keys}
}

func (f *gateFixture) issue(t *testing.T, tier auth.Tier) string {
	t.Helper()
	created, err := f.keys.Create(context.Background(), keystore.CreateParams{Name: "mw", Tier: tier})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created.PlaintextKey
}

func (f *gateFixture) call(key, tool string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/"+tool, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestDenialStatus(t *testing.T) {
	tests := map[gate.Code]int{
		gate.CodeMissingAPIKey:        http.StatusUnauthorized,
		gate.CodeInvalidAPIKey:        http.StatusUnauthorized,
		gate.CodeExpiredAPIKey:        http.StatusUnauthorized,
		gate.CodeRevokedAPIKey:        http.StatusUnauthorized,
		gate.CodeDailyLimitExceeded:   http.StatusPaymentRequired,
		gate.CodeMonthlyQuotaExceeded: http.StatusPaymentRequired,
		gate.CodeTierNotAllowed:       http.StatusForbidden,
		gate.CodeRateLimitExceeded:    http.StatusTooManyRequests,
		gate.CodeInternalError:        http.StatusInternalServerError,
		gate.Code("SOMETHING_NEW"):    http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := DenialStatus(code); got != want {
			t.Errorf("DenialStatus(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestToolGateMiddleware_MissingKey(t *testing.T) {
	f := newGateFixture(t)

	w := f.call("", auth.ToolParse)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != string(gate.CodeMissingAPIKey) {
		t.Errorf("code = %v, want MISSING_API_KEY", body["code"])
	}
	if body["error"] != "API key is required" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestToolGateMiddleware_AdmitsAndSetsHeaders(t *testing.T) {
	f := newGateFixture(t)
	key := f.issue(t, auth.TierFree)

	w := f.call(key, auth.ToolParse)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Error("X-RateLimit-Reset missing")
	}
	if body := decodeBody(t, w); body["tier"] != "free" {
		t.Errorf("tier = %v, want free", body["tier"])
	}
}

func TestToolGateMiddleware_TierNotAllowed(t *testing.T) {
	f := newGateFixture(t)
	key := f.issue(t, auth.TierFree)

	w := f.call(key, auth.ToolRender)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != string(gate.CodeTierNotAllowed) {
		t.Errorf("code = %v", body["code"])
	}
}

func TestToolGateMiddleware_RateLimited(t *testing.T) {
	f := newGateFixture(t)
	key := f.issue(t, auth.TierFree)

	for i := 0; i < 10; i++ {
		if w := f.call(key, auth.ToolParse); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := f.call(key, auth.ToolParse)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	// The local window started at 12:00:30 and resets a minute later.
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	body := decodeBody(t, w)
	if body["code"] != string(gate.CodeRateLimitExceeded) {
		t.Errorf("code = %v", body["code"])
	}
	if body["limit"] != float64(10) || body["current"] != float64(10) {
		t.Errorf("limit/current = %v/%v, want 10/10", body["limit"], body["current"])
	}
	if body["error"] != "Rate limit exceeded. You have made 10 requests. Limit is 10 per minute." {
		t.Errorf("error = %v", body["error"])
	}
}

func TestGetAuthContext_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if GetAuthContext(c) != nil {
		t.Error("GetAuthContext() without middleware should be nil")
	}
}
