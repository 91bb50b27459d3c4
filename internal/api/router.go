// Package api wires together all HTTP routes for the gateway.
//
// Route groups:
//   - /v1/tools/:name and /v1/me pass through the tool gate (key validation, tier
//     authorization and the per-minute rate limit) before reaching a handler.
//   - /api/v1/keys is the key administration surface. It requires the admin token
//     and is throttled per client IP.
//   - /v1/tools, /api/v1/tiers, /health, /ready and /version are public.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/toolgate/toolgate/internal/api/admin"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/db/repositories"
	"github.com/toolgate/toolgate/internal/executor"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/jobs"
	"github.com/toolgate/toolgate/internal/keystore"
	"github.com/toolgate/toolgate/internal/middleware"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/usage"
)

// Version is reported by /version. cmd/server overrides it at build time.
var Version = "0.1.0"

// Services are the components the routes are built on. A nil Keys means no key
// store is configured; a nil Redis selects the in-process limiter.
type Services struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Keys     *keystore.Service
	Limiter  ratelimit.Limiter
	Gate     *gate.Gate
	Executor executor.Executor
	Recorder *usage.Recorder
	Sweeper  *jobs.KeyExpirySweeper
}

// NewServices builds the gateway components from configuration. database and rdb
// may be nil when the key store or the shared limiter store is disabled.
func NewServices(cfg *config.Config, database *sql.DB, rdb redis.UniversalClient) (*Services, error) {
	logger := slog.Default()
	svc := &Services{DB: database, Redis: rdb}

	// Interface values stay untyped nil when the store is disabled.
	var validator gate.Validator
	var usageStore usage.Store
	if database != nil {
		keyRepo := repositories.NewAPIKeyRepository(database)
		usageRepo := repositories.NewUsageRepository(db.Wrap(database))
		svc.Keys = keystore.New(keyRepo, usageRepo, cfg.Auth.KeyPrefix, logger)
		svc.Sweeper = jobs.NewKeyExpirySweeper(keyRepo, cfg.Jobs.ExpirySweepInterval, logger)
		validator = svc.Keys
		usageStore = usageRepo
	}

	limiter, err := ratelimit.New(cfg.RateLimiting, rdb, cfg.Redis.KeyPrefix, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	svc.Limiter = limiter

	mode, err := gate.ParseMode(cfg.Auth.Mode)
	if err != nil {
		return nil, err
	}
	svc.Gate = gate.New(validator, limiter, gate.Options{
		Mode: mode,
		Sources: auth.CredentialSources{
			Header:      cfg.Auth.Header,
			QueryParam:  cfg.Auth.QueryParam,
			FallbackEnv: cfg.Auth.FallbackEnv,
		},
		Logger: logger,
	})

	if err := executor.ValidateBaseURL(cfg.Upstream.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream.base_url: %w", err)
	}
	svc.Executor = executor.NewHTTPExecutor(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout)
	svc.Recorder = usage.NewRecorder(usageStore, cfg.Usage.RecordTimeout, logger)

	return svc, nil
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	sweeper       *jobs.KeyExpirySweeper
	adminThrottle *middleware.AdminThrottle
	limiter       ratelimit.Limiter
	recorder      *usage.Recorder
}

// Shutdown stops all background goroutines and waits for pending usage writes. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.adminThrottle != nil {
		bg.adminThrottle.Stop()
	}
	if s, ok := bg.limiter.(interface{ Stop() }); ok {
		s.Stop()
	}
	bg.recorder.Wait()
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and starts the background jobs.
func NewRouter(cfg *config.Config, svc *Services) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	if svc.Sweeper != nil {
		go svc.Sweeper.Start(context.Background())
	}

	adminThrottle := middleware.NewAdminThrottle(middleware.AdminThrottleConfig{
		RequestsPerSecond: cfg.Admin.RequestsPerSecond,
		Burst:             cfg.Admin.Burst,
		CleanupInterval:   5 * time.Minute,
	})

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(middleware.CORSMiddleware(cfg.Server.CORSAllowedOrigins))
	}
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(svc.DB))
	router.GET("/ready", readinessHandler(svc.DB, svc.Redis))
	router.GET("/version", versionHandler())

	toolHandlers := NewToolHandlers(svc.Executor, svc.Recorder, nil)
	toolGate := middleware.ToolGateMiddleware(svc.Gate, "name")

	v1 := router.Group("/v1")
	{
		v1.GET("/tools", toolHandlers.ListToolsHandler())
		v1.POST("/tools/:name", toolGate, toolHandlers.CallToolHandler())
		v1.GET("/me", toolGate, whoAmIHandler())
	}

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/tiers", listTiersHandler())
		apiV1.GET("/tiers/:tier", getTierHandler())

		keysGroup := apiV1.Group("/keys")
		keysGroup.Use(middleware.AdminThrottleMiddleware(adminThrottle))
		if svc.Keys == nil {
			keysGroup.Any("", admin.StoreNotConfiguredHandler)
			keysGroup.Any("/:id", admin.StoreNotConfiguredHandler)
		} else {
			keyHandlers := admin.NewKeyHandlers(svc.Keys, svc.Recorder, nil)
			keysGroup.Use(middleware.AdminAuthMiddleware(cfg.Auth.AdminTokenHash))
			keysGroup.POST("", keyHandlers.CreateKeyHandler())
			keysGroup.GET("", keyHandlers.ListKeysHandler())
			keysGroup.GET("/:id", keyHandlers.GetKeyHandler())
			keysGroup.DELETE("/:id", keyHandlers.RevokeKeyHandler())
		}
	}

	bg := &BackgroundServices{
		sweeper:       svc.Sweeper,
		adminThrottle: adminThrottle,
		limiter:       svc.Limiter,
		recorder:      svc.Recorder,
	}

	return router, bg
}

// healthCheckHandler returns the liveness status of the service. Without a key
// store the database check is reported as disabled.
func healthCheckHandler(database *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if database != nil {
			if err := database.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  "database connection failed",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns whether the service is ready to accept traffic. Each
// configured store must answer a ping. The shared limiter store fails open, so an
// unreachable redis is reported as degraded rather than not ready.
func readinessHandler(database *sql.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{"database": "disabled", "redis": "disabled"}

		if database != nil {
			if err := database.PingContext(c.Request.Context()); err != nil {
				checks["database"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "database not ready",
				})
				return
			}
			checks["database"] = "healthy"
		}

		if rdb != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "degraded"
			} else {
				checks["redis"] = "healthy"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. Admitted tool calls also
// carry the key id; plaintext keys never reach the log.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.GetRequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if ac := middleware.GetAuthContext(c); ac != nil && ac.KeyID != "" {
			attrs = append(attrs, slog.String("key_id", ac.KeyID))
		}
		slog.LogAttrs(c.Request.Context(), slog.LevelInfo, "http request", attrs...)
	}
}
