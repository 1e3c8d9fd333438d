// gradekeep-sweeper runs the engine's periodic maintenance: deactivating
// expired role assignments (and invalidating the affected cache entries),
// purging expired decision cache rows, and pruning old audit records. When
// a policy seed file is configured it also watches it and reapplies on
// change, so policy edits roll out without a restart.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"

	"github.com/gradekeep/gradekeep/pkg/audit"
	"github.com/gradekeep/gradekeep/pkg/config"
	"github.com/gradekeep/gradekeep/pkg/observability"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gradekeep-sweeper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting gradekeep sweeper")

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store := rbac.NewSQLStore(db)
	storeCache := rbac.NewStoreDecisionCache(db, cfg.Cache.TTL)
	auditLog := audit.NewDBRecorder(db)

	cache, redisClient, err := buildCache(cfg, db)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sweeper := &sweeper{
		cfg:        cfg,
		store:      store,
		cache:      cache,
		storeCache: storeCache,
		auditLog:   auditLog,
		logger:     logger,
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(getEnv("GRADEKEEP_SWEEP_SCHEDULE", "*/5 * * * *"), sweeper.sweepAssignments); err != nil {
		return fmt.Errorf("failed to schedule assignment sweep: %w", err)
	}
	if _, err := scheduler.AddFunc(getEnv("GRADEKEEP_CACHE_PURGE_SCHEDULE", "17 * * * *"), sweeper.purgeCache); err != nil {
		return fmt.Errorf("failed to schedule cache purge: %w", err)
	}
	if _, err := scheduler.AddFunc(getEnv("GRADEKEEP_AUDIT_PRUNE_SCHEDULE", "41 3 * * *"), sweeper.pruneAudit); err != nil {
		return fmt.Errorf("failed to schedule audit prune: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// run the assignment sweep once at startup so a long-stopped sweeper
	// catches up immediately
	sweeper.sweepAssignments()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Policy.SeedPath != "" {
		watcher, err := watchSeed(cfg.Policy.SeedPath, store, logger)
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	<-stop
	logger.Info("Sweeper shutting down")
	return nil
}

type sweeper struct {
	cfg        *config.Config
	store      *rbac.SQLStore
	cache      rbac.DecisionCache
	storeCache *rbac.StoreDecisionCache
	auditLog   *audit.DBRecorder
	logger     *observability.Logger
}

// sweepAssignments deactivates expired assignments and invalidates the
// affected principals' cached permission sets.
func (s *sweeper) sweepAssignments() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	principals, err := s.store.DeactivateExpiredAssignments(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).Error("Assignment sweep failed")
		return
	}
	if len(principals) == 0 {
		return
	}

	for _, id := range principals {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.WithError(err).WithField("principal_id", id).Error("Cache invalidation failed")
		}
	}

	s.logger.WithField("principals", len(principals)).Info("Expired assignments deactivated")
}

// purgeCache removes expired decision cache rows from the store backend
func (s *sweeper) purgeCache() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := s.storeCache.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).Error("Cache purge failed")
		return
	}
	if purged > 0 {
		s.logger.WithField("rows", purged).Info("Expired cache entries purged")
	}
}

// pruneAudit deletes audit records past the configured retention
func (s *sweeper) pruneAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.cfg.Audit.Retention)
	pruned, err := s.auditLog.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Audit prune failed")
		return
	}
	if pruned > 0 {
		s.logger.WithField("rows", pruned).Info("Audit records pruned")
	}
}

// watchSeed reapplies the policy seed whenever the file changes
func watchSeed(path string, store rbac.Store, logger *observability.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create seed watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch seed file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				applySeed(path, store, logger)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Seed watcher error")
			}
		}
	}()

	logger.WithField("path", path).Info("Watching policy seed")
	return watcher, nil
}

func applySeed(path string, store rbac.Store, logger *observability.Logger) {
	seed, err := rbac.LoadSeedFile(path)
	if err != nil {
		logger.WithError(err).Warn("Seed reload skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := seed.Apply(ctx, store, logger); err != nil {
		logger.WithError(err).Error("Seed reapply failed")
		return
	}
	logger.WithField("path", path).Info("Policy seed reapplied")
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
		// a memory cache is per-process; the server's entries expire on
		// their own, so the sweeper only touches the shared store rows
		return rbac.NewStoreDecisionCache(db, cfg.Cache.TTL), nil, nil

	default:
		return rbac.NewStoreDecisionCache(db, cfg.Cache.TTL), nil, nil
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
