package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig controls the response headers added to every gateway reply.
type SecurityHeadersConfig struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds. Zero omits the header.
	HSTSMaxAge int
	// NoStore adds Cache-Control: no-store so key material is never cached.
	NoStore bool
}

// DefaultSecurityHeadersConfig returns the gateway defaults.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		HSTSMaxAge: 31536000,
		NoStore:    true,
	}
}

// SecurityHeadersMiddleware adds headers appropriate for a JSON-only API.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.HSTSMaxAge > 0 {
			c.Header("Strict-Transport-Security", "max-age="+strconv.Itoa(cfg.HSTSMaxAge)+"; includeSubDomains")
		}
		if cfg.NoStore {
			c.Header("Cache-Control", "no-store")
		}
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		c.Next()
	}
}
