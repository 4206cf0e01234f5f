package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"atum-server/internal/log"
	"atum-server/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "atum:snapshot:"

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			metrics.RedisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			metrics.RedisErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// NewRedisClient connects to addr, which may be a redis:// URL or a bare host:port.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	client.AddHook(metricsHook{})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// SnapshotCache is a cache-aside store for per-user collection snapshots.
// A nil *SnapshotCache is valid and never hits.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a SnapshotCache over client with entries expiring after ttl.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(userID string) string {
	return snapshotKeyPrefix + userID
}

// Get decodes the cached snapshot for userID into dest. Reports false on a miss.
// Cache failures are logged and reported as misses.
func (c *SnapshotCache) Get(ctx context.Context, userID string, dest interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}

	data, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn(ctx, "Snapshot cache read failed",
				"error", err,
				"user_id", userID,
				"operation", "snapshot_cache_get",
			)
		}
		metrics.SnapshotCacheLookups.WithLabelValues("miss").Inc()
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		log.Warn(ctx, "Discarding undecodable snapshot cache entry",
			"error", err,
			"user_id", userID,
		)
		c.Invalidate(ctx, userID)
		metrics.SnapshotCacheLookups.WithLabelValues("miss").Inc()
		return false
	}

	metrics.SnapshotCacheLookups.WithLabelValues("hit").Inc()
	return true
}

// Set stores value as the snapshot for userID.
func (c *SnapshotCache) Set(ctx context.Context, userID string, value interface{}) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		log.Warn(ctx, "Failed to encode snapshot for cache", "error", err, "user_id", userID)
		return
	}
	if err := c.client.Set(ctx, snapshotKey(userID), data, c.ttl).Err(); err != nil {
		log.Warn(ctx, "Snapshot cache write failed",
			"error", err,
			"user_id", userID,
			"operation", "snapshot_cache_set",
		)
	}
}

// Invalidate drops the snapshots of the given users.
func (c *SnapshotCache) Invalidate(ctx context.Context, userIDs ...string) {
	if c == nil || c.client == nil || len(userIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, snapshotKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warn(ctx, "Snapshot cache invalidation failed",
			"error", err,
			"user_ids", userIDs,
			"operation", "snapshot_cache_invalidate",
		)
	}
}
