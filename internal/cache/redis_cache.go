package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
)

const (
	defaultKeyPrefix  = "phenosim:"
	invalidateRetries = 5
	scanBatch         = 200
)

// RedisPairCache is a Store shared between server instances. Each result is
// a string key and each patient owns a set naming the result keys that
// reference it. Both are written in one MULTI/EXEC transaction.
type RedisPairCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	retries int
	logger  *logrus.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisPairCache connects to the configured Redis server
func NewRedisPairCache(cfg domain.CacheConfig, logger *logrus.Logger) (*RedisPairCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPairCacheFromClient(client, cfg.KeyPrefix, cfg.DefaultTTL, logger), nil
}

// NewRedisPairCacheFromClient wraps an existing client
func NewRedisPairCacheFromClient(client *redis.Client, prefix string, ttl time.Duration, logger *logrus.Logger) *RedisPairCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisPairCache{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		retries: invalidateRetries,
		logger:  logger,
	}
}

func (c *RedisPairCache) resultKey(k string) string {
	return c.prefix + "result:" + k
}

func (c *RedisPairCache) patientKey(id string) string {
	return c.prefix + "patient:" + id
}

// Get implements Store
func (c *RedisPairCache) Get(ctx context.Context, key domain.SimilarityKey) (*domain.SimilarityResult, bool) {
	rk := c.resultKey(key.String())
	val, err := c.client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.misses.Add(1)
		c.logger.WithFields(logrus.Fields{"key": rk, "error": err}).Warn("Redis cache read failed")
		return nil, false
	}

	var result domain.SimilarityResult
	if err := json.Unmarshal(val, &result); err != nil {
		// remove corrupted entry
		c.client.Del(ctx, rk)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &result, true
}

// Put implements Store
func (c *RedisPairCache) Put(ctx context.Context, key domain.SimilarityKey, result *domain.SimilarityResult) {
	if result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal similarity result for cache")
		return
	}

	k := key.String()
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.resultKey(k), data, c.ttl)
		for _, id := range []string{key.MatchID, key.ReferenceID} {
			pk := c.patientKey(id)
			pipe.SAdd(ctx, pk, k)
			if c.ttl > 0 {
				pipe.Expire(ctx, pk, c.ttl)
			}
		}
		return nil
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{"key": k, "error": err}).Warn("Redis cache write failed")
	}
}

// Invalidate implements Store. The patient's set is watched so that a
// concurrent Put for the same patient forces a retry instead of leaving an
// unindexed result behind.
func (c *RedisPairCache) Invalidate(ctx context.Context, patientID string) {
	pk := c.patientKey(patientID)

	txf := func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, pk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range members {
				pipe.Del(ctx, c.resultKey(m))
				key, perr := parseKey(m)
				if perr != nil {
					continue
				}
				for _, other := range []string{key.MatchID, key.ReferenceID} {
					if other != patientID {
						pipe.SRem(ctx, c.patientKey(other), m)
					}
				}
			}
			pipe.Del(ctx, pk)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < c.retries; attempt++ {
		err := c.client.Watch(ctx, txf, pk)
		if err == nil {
			return
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		c.logger.WithFields(logrus.Fields{"patient_id": patientID, "error": err}).Warn("Redis cache invalidation failed")
		return
	}
	c.logger.WithField("patient_id", patientID).Warn("Redis cache invalidation gave up after concurrent updates")
}

// Clear implements Store by deleting every key under the prefix
func (c *RedisPairCache) Clear(ctx context.Context) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", scanBatch).Result()
		if err != nil {
			c.logger.WithError(err).Warn("Redis cache scan failed")
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.WithError(err).Warn("Redis cache delete failed")
				return
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.WithField("deleted", deleted).Info("Redis similarity cache cleared")
}

// Stats implements Store. Entries are not tracked for the shared tier.
func (c *RedisPairCache) Stats(_ context.Context) Stats {
	return Stats{
		Backend: BackendRedis,
		Entries: -1,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Ping checks connectivity
func (c *RedisPairCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (c *RedisPairCache) Close() error {
	return c.client.Close()
}
