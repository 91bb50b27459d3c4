// Package main is the entry point for the toolgate server binary.
// It dispatches its subcommands (serve, migrate, keys and version) with a simple
// switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command applies pending migrations on startup when the key store is
// enabled.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/toolgate/toolgate/internal/api"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/db/repositories"
	"github.com/toolgate/toolgate/internal/keystore"
	"github.com/toolgate/toolgate/internal/telemetry"
)

const usage = `usage: toolgate <command>

Commands:
  serve                               run the gateway (default)
  migrate up|down                     apply or roll back the store schema
  migrate force <version>             clear a dirty schema version
  keys create <name> [tier] [owner]   issue an API key
  keys list <owner>                   list an owner's keys
  keys revoke <id>                    revoke an API key
  version                             print the version`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	if command == "version" {
		fmt.Printf("toolgate v%s\n", api.Version)
		return nil
	}
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Println(usage)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, telemetry.LogOutput{
		Path:       cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		return runMigrations(cfg, args)
	case "keys":
		return runKeys(cfg, args)
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var database *sql.DB
	if cfg.Database.Enabled {
		var err error
		database, err = connectStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.RunMigrations(database, "up"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if version, dirty, err := db.GetMigrationVersion(database); err != nil {
			slog.Warn("failed to get migration version", "error", err)
		} else {
			slog.Info("key store ready", "schema_version", version, "dirty", dirty)
		}
		telemetry.StartDBStatsCollector(ctx, database)
	} else {
		slog.Warn("key store disabled, API keys are not checked", "auth_mode", cfg.Auth.Mode)
	}

	// Keep the interface nil when redis is disabled so the local limiter is chosen.
	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := db.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			if !cfg.RateLimiting.FailOpen {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			// The client reconnects on its own; the limiter fails open meanwhile.
			slog.Warn("redis unreachable at startup, continuing", "addr", cfg.Redis.Address, "error", err)
			client = db.NewRedisClient(cfg.Redis)
		}
		defer client.Close()
		rdb = client
	}

	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(cfg.Telemetry.Metrics.PrometheusPort)
	}

	svc, err := api.NewServices(cfg, database, rdb)
	if err != nil {
		return err
	}
	router, bgServices := api.NewRouter(cfg, svc)

	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", server.Addr,
			"auth_mode", svc.Gate.Mode(),
			"rate_limit_strategy", svc.Limiter.Strategy(),
			"upstream", cfg.Upstream.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()
	slog.Info("server stopped gracefully")
	return nil
}

// serveMetrics exposes Prometheus metrics on a dedicated port so the scrape path
// stays off the public listener.
func serveMetrics(port int) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	slog.Info("starting Prometheus metrics server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

func connectStore(cfg *config.Config) (*sql.DB, error) {
	if !cfg.Database.Enabled {
		return nil, errors.New("the key store is disabled (set database.enabled)")
	}
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)
	return database, nil
}

func runMigrations(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: toolgate migrate <up|down|force <version>>")
	}
	database, err := connectStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: toolgate migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := db.ForceMigrationVersion(database, version); err != nil {
			return err
		}
	default:
		slog.Info("running migrations", "direction", args[0])
		if err := db.RunMigrations(database, args[0]); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return err
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

func runKeys(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: toolgate keys <create|list|revoke> ...")
	}
	database, err := connectStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	keys := keystore.New(
		repositories.NewAPIKeyRepository(database),
		repositories.NewUsageRepository(db.Wrap(database)),
		cfg.Auth.KeyPrefix,
		slog.Default(),
	)
	ctx := context.Background()

	switch args[0] {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: toolgate keys create <name> [tier] [owner]")
		}
		params := keystore.CreateParams{Name: args[1], Tier: auth.TierFree}
		if len(args) > 2 {
			tier, err := auth.ParseTier(args[2])
			if err != nil {
				return err
			}
			params.Tier = tier
		}
		if len(args) > 3 {
			params.OwnerID = &args[3]
		}
		created, err := keys.Create(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("id:   %s\ntier: %s\nkey:  %s\n", created.Key.ID, created.Key.Tier, created.PlaintextKey)
		fmt.Println("Store this key securely. It will not be shown again.")
		return nil

	case "list":
		if len(args) < 2 {
			return fmt.Errorf("usage: toolgate keys list <owner>")
		}
		list, err := keys.ListByOwner(ctx, args[1])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)

	case "revoke":
		if len(args) < 2 {
			return fmt.Errorf("usage: toolgate keys revoke <id>")
		}
		noop, err := keys.Revoke(ctx, args[1])
		if err != nil {
			return err
		}
		if noop {
			fmt.Printf("key %s was already revoked\n", args[1])
		} else {
			fmt.Printf("key %s revoked\n", args[1])
		}
		return nil
	}
	return fmt.Errorf("unknown keys command: %s", args[0])
}
