// gradekeep serves the school platform's authorization engine: the
// permission check API and the role, permission, and assignment management
// API, backed by a SQL policy store and a pluggable decision cache.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/gradekeep/gradekeep/pkg/api"
	"github.com/gradekeep/gradekeep/pkg/audit"
	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/config"
	"github.com/gradekeep/gradekeep/pkg/observability"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gradekeep: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting gradekeep authorization engine")

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := rbac.RunMigrations(ctx, db, cfg.Database.Driver); err != nil {
		return err
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		statsCtx, stopStats := context.WithCancel(ctx)
		defer stopStats()
		go observability.CollectDBStats(statsCtx, db, metrics, 15*time.Second)
	}

	cache, redisClient, err := buildCache(cfg, db)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store := rbac.NewSQLStore(db)
	principals := auth.NewSQLPrincipalStore(db)

	if cfg.Policy.SeedPath != "" {
		seed, err := rbac.LoadSeedFile(cfg.Policy.SeedPath)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, store, logger); err != nil {
			return fmt.Errorf("failed to apply policy seed: %w", err)
		}
		logger.WithField("path", cfg.Policy.SeedPath).Info("Policy seed applied")
	}

	auditLog := audit.NewDBRecorder(db)
	recorder := audit.NewAsyncRecorder(auditLog, logger, metrics, cfg.Audit.WriteTimeout)

	resolver := rbac.NewResolver(rbac.ResolverConfig{
		Store:      store,
		Cache:      cache,
		Principals: principals,
		Recorder:   recorder,
		Logger:     logger,
		Metrics:    metrics,
	})
	manager := rbac.NewManager(store, cache, logger, metrics)

	server := api.NewServer(api.ServerConfig{
		Resolver:   resolver,
		Manager:    manager,
		Principals: principals,
		AuditLog:   auditLog,
		Logger:     logger,
		Metrics:    metrics,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API listener started")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health listener started")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func buildCache(cfg *config.Config, db *sql.DB) (rbac.DecisionCache, *redis.Client, error) {
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisURL,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return rbac.NewRedisDecisionCache(client, cfg.Cache.TTL), client, nil

	case "memory":
		return rbac.NewMemoryDecisionCache(cfg.Cache.MemorySize, cfg.Cache.TTL), nil, nil

	default:
		return rbac.NewStoreDecisionCache(db, cfg.Cache.TTL), nil, nil
	}
}
