package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DecisionCache stores resolved permission sets keyed by principal. A cache
// failure on read degrades to a miss; a failure on Invalidate is surfaced,
// because a mutation must not complete while a stale entry may survive.
type DecisionCache interface {
	// Get returns the cached permission set and whether it was present
	Get(ctx context.Context, principalID int64) ([]EffectivePermission, bool, error)
	// Put stores the permission set for the configured TTL
	Put(ctx context.Context, principalID int64, perms []EffectivePermission) error
	// Invalidate removes the principal's entry
	Invalidate(ctx context.Context, principalID int64) error
}

// cachePayload is the serialized form shared by the store and redis backends.
// An empty permission set is cached too, so principals with no grants do not
// hit the database on every check.
type cachePayload struct {
	Permissions []EffectivePermission `json:"permissions"`
}

// StoreDecisionCache keeps entries in the permission_cache table. It is the
// default backend: no extra infrastructure, survives restarts, shared by
// every instance pointed at the same database.
type StoreDecisionCache struct {
	db  *sql.DB
	ttl time.Duration
}

// NewStoreDecisionCache creates a database-backed cache with the given TTL
func NewStoreDecisionCache(db *sql.DB, ttl time.Duration) *StoreDecisionCache {
	return &StoreDecisionCache{db: db, ttl: ttl}
}

// Get returns the cached permission set and whether it was present
func (c *StoreDecisionCache) Get(ctx context.Context, principalID int64) ([]EffectivePermission, bool, error) {
	query := `
		SELECT payload FROM permission_cache
		WHERE principal_id = $1 AND expires_at > $2
	`

	var payload string
	err := c.db.QueryRowContext(ctx, query, principalID, time.Now().UTC()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read permission cache: %w", err)
	}

	var entry cachePayload
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		// Unreadable entries are treated as absent and overwritten on the
		// next Put.
		return nil, false, nil
	}

	return entry.Permissions, true, nil
}

// Put stores the permission set for the configured TTL
func (c *StoreDecisionCache) Put(ctx context.Context, principalID int64, perms []EffectivePermission) error {
	payload, err := json.Marshal(cachePayload{Permissions: perms})
	if err != nil {
		return fmt.Errorf("failed to encode permission cache entry: %w", err)
	}

	expiresAt := time.Now().UTC().Add(c.ttl)

	res, err := c.db.ExecContext(ctx,
		"UPDATE permission_cache SET payload = $1, expires_at = $2 WHERE principal_id = $3",
		string(payload), expiresAt, principalID)
	if err != nil {
		return fmt.Errorf("failed to write permission cache: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = c.db.ExecContext(ctx,
			"INSERT INTO permission_cache (principal_id, payload, expires_at) VALUES ($1, $2, $3)",
			principalID, string(payload), expiresAt)
		if err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("failed to write permission cache: %w", err)
		}
	}

	return nil
}

// Invalidate removes the principal's entry
func (c *StoreDecisionCache) Invalidate(ctx context.Context, principalID int64) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM permission_cache WHERE principal_id = $1", principalID)
	if err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed
func (c *StoreDecisionCache) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM permission_cache WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge permission cache: %w", err)
	}
	return res.RowsAffected()
}

// RedisDecisionCache keeps entries in redis under authz:perms:<principal>.
type RedisDecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDecisionCache creates a redis-backed cache with the given TTL
func NewRedisDecisionCache(client *redis.Client, ttl time.Duration) *RedisDecisionCache {
	return &RedisDecisionCache{client: client, ttl: ttl}
}

func redisKey(principalID int64) string {
	return fmt.Sprintf("authz:perms:%d", principalID)
}

// Get returns the cached permission set and whether it was present
func (c *RedisDecisionCache) Get(ctx context.Context, principalID int64) ([]EffectivePermission, bool, error) {
	payload, err := c.client.Get(ctx, redisKey(principalID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read permission cache: %w", err)
	}

	var entry cachePayload
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, false, nil
	}

	return entry.Permissions, true, nil
}

// Put stores the permission set for the configured TTL
func (c *RedisDecisionCache) Put(ctx context.Context, principalID int64, perms []EffectivePermission) error {
	payload, err := json.Marshal(cachePayload{Permissions: perms})
	if err != nil {
		return fmt.Errorf("failed to encode permission cache entry: %w", err)
	}

	if err := c.client.Set(ctx, redisKey(principalID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write permission cache: %w", err)
	}
	return nil
}

// Invalidate removes the principal's entry
func (c *RedisDecisionCache) Invalidate(ctx context.Context, principalID int64) error {
	if err := c.client.Del(ctx, redisKey(principalID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}

// MemoryDecisionCache keeps entries in an in-process expirable LRU. Suitable
// for single-instance deployments only: other instances never see its
// invalidations.
type MemoryDecisionCache struct {
	lru *lru.LRU[int64, []EffectivePermission]
}

// NewMemoryDecisionCache creates an in-process cache holding up to size
// entries for the given TTL.
func NewMemoryDecisionCache(size int, ttl time.Duration) *MemoryDecisionCache {
	if size <= 0 {
		size = 10000
	}
	return &MemoryDecisionCache{lru: lru.NewLRU[int64, []EffectivePermission](size, nil, ttl)}
}

// Get returns the cached permission set and whether it was present
func (c *MemoryDecisionCache) Get(ctx context.Context, principalID int64) ([]EffectivePermission, bool, error) {
	perms, ok := c.lru.Get(principalID)
	return perms, ok, nil
}

// Put stores the permission set for the configured TTL
func (c *MemoryDecisionCache) Put(ctx context.Context, principalID int64, perms []EffectivePermission) error {
	c.lru.Add(principalID, perms)
	return nil
}

// Invalidate removes the principal's entry
func (c *MemoryDecisionCache) Invalidate(ctx context.Context, principalID int64) error {
	c.lru.Remove(principalID)
	return nil
}
