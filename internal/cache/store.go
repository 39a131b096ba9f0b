// Package cache stores computed similarity results keyed by patient pair and
// access level, with an index from each patient to the keys that reference it.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
)

// Store is a similarity result cache. Implementations never fail the
// caller: backend errors are logged and reported as misses or no-ops.
type Store interface {
	Get(ctx context.Context, key domain.SimilarityKey) (*domain.SimilarityResult, bool)
	Put(ctx context.Context, key domain.SimilarityKey, result *domain.SimilarityResult)
	Invalidate(ctx context.Context, patientID string)
	Clear(ctx context.Context)
	Stats(ctx context.Context) Stats
}

// Stats represents cache statistics
type Stats struct {
	Backend   string `json:"backend"`
	Entries   int    `json:"entries"`
	Patients  int    `json:"patients"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
}

// HitRatio returns hits / lookups, zero before the first lookup
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Backends
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendTiered = "tiered"
)

const defaultMaxEntries = 10000

// New builds the store selected by the configuration. A nil store is
// returned when caching is disabled or the backend could not be set up, in
// which case every similarity is recomputed.
func New(cfg domain.CacheConfig, logger *logrus.Logger) Store {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendNone:
		logger.Info("Similarity cache disabled")
		return nil

	case BackendRedis:
		remote, err := NewRedisPairCache(cfg, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis similarity cache unavailable; caching disabled")
			return nil
		}
		return remote

	case BackendTiered:
		local, err := NewPairCache(maxEntries, logger)
		if err != nil {
			logger.WithError(err).Warn("Memory similarity cache unavailable; caching disabled")
			return nil
		}
		remote, err := NewRedisPairCache(cfg, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis similarity cache unavailable; using memory tier only")
			return local
		}
		return NewTiered(local, remote)

	case BackendMemory, "":
		local, err := NewPairCache(maxEntries, logger)
		if err != nil {
			logger.WithError(err).Warn("Memory similarity cache unavailable; caching disabled")
			return nil
		}
		return local

	default:
		logger.WithField("backend", cfg.Backend).Warn("Unknown cache backend; caching disabled")
		return nil
	}
}

func parseKey(s string) (domain.SimilarityKey, error) {
	parts := strings.Split(s, domain.KeySeparator)
	if len(parts) != 3 {
		return domain.SimilarityKey{}, fmt.Errorf("cache key %q: %w", s, domain.ErrMalformedRecord)
	}
	for i, part := range parts {
		unescaped, err := url.PathUnescape(part)
		if err != nil {
			return domain.SimilarityKey{}, fmt.Errorf("cache key %q: %w: %v", s, domain.ErrMalformedRecord, err)
		}
		parts[i] = unescaped
	}
	return domain.SimilarityKey{MatchID: parts[0], ReferenceID: parts[1], AccessLevel: parts[2]}, nil
}
