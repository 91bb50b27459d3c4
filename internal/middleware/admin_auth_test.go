package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/auth"
)

func newAdminRouter(t *testing.T, hash string) *gin.Engine {
	t.Helper()
	r := gin.New()
	r.Use(AdminAuthMiddleware(hash))
	r.GET("/api/v1/keys", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAdminAuthMiddleware(t *testing.T) {
	hash, err := auth.HashAdminToken("operator-secret")
	if err != nil {
		t.Fatalf("HashAdminToken: %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		headers  map[string]string
		wantCode int
	}{
		{"not configured", "", map[string]string{"Authorization": "Bearer operator-secret"}, http.StatusServiceUnavailable},
		{"missing token", hash, nil, http.StatusUnauthorized},
		{"wrong bearer token", hash, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"basic scheme ignored", hash, map[string]string{"Authorization": "Basic b3BlcmF0b3I="}, http.StatusUnauthorized},
		{"bearer token", hash, map[string]string{"Authorization": "Bearer operator-secret"}, http.StatusOK},
		{"admin token header", hash, map[string]string{AdminTokenHeader: "operator-secret"}, http.StatusOK},
		{"bearer wins over header", hash, map[string]string{
			"Authorization":  "Bearer nope",
			AdminTokenHeader: "operator-secret",
		}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAdminRouter(t, tt.hash)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}
