package middleware

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware allows browser callers from origins. A "*" entry allows any
// origin and disables credentialed requests.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := gincors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-API-Key",
			AdminTokenHeader,
			RequestIDHeader,
		},
		ExposeHeaders: []string{
			"Content-Length",
			"Retry-After",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			RequestIDHeader,
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			break
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}

	return gincors.New(cfg)
}
