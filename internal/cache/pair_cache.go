package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
)

type pairEntry struct {
	key    domain.SimilarityKey
	result *domain.SimilarityResult
}

// PairCache is a bounded in-process Store. The LRU map and the patient
// association index are only touched under mu, so they always agree.
type PairCache struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, pairEntry]
	byPatient map[string]map[string]struct{}
	removing  bool

	hits      int64
	misses    int64
	evictions int64

	logger *logrus.Logger
}

// NewPairCache creates a memory cache holding at most maxEntries results
func NewPairCache(maxEntries int, logger *logrus.Logger) (*PairCache, error) {
	c := &PairCache{
		byPatient: make(map[string]map[string]struct{}),
		logger:    logger,
	}
	entries, err := lru.NewWithEvict[string, pairEntry](maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// onEvict runs inside entries' mutating calls, all of which happen under c.mu
func (c *PairCache) onEvict(k string, e pairEntry) {
	c.unlink(e.key.MatchID, k)
	c.unlink(e.key.ReferenceID, k)
	if !c.removing {
		c.evictions++
	}
}

func (c *PairCache) link(patientID, k string) {
	keys, ok := c.byPatient[patientID]
	if !ok {
		keys = make(map[string]struct{})
		c.byPatient[patientID] = keys
	}
	keys[k] = struct{}{}
}

func (c *PairCache) unlink(patientID, k string) {
	keys, ok := c.byPatient[patientID]
	if !ok {
		return
	}
	delete(keys, k)
	if len(keys) == 0 {
		delete(c.byPatient, patientID)
	}
}

// Get implements Store
func (c *PairCache) Get(_ context.Context, key domain.SimilarityKey) (*domain.SimilarityResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key.String())
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.result, true
}

// Put implements Store
func (c *PairCache) Put(_ context.Context, key domain.SimilarityKey, result *domain.SimilarityResult) {
	if result == nil {
		return
	}
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(k, pairEntry{key: key, result: result})
	c.link(key.MatchID, k)
	c.link(key.ReferenceID, k)
}

// Invalidate implements Store
func (c *PairCache) Invalidate(_ context.Context, patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byPatient[patientID]
	if len(keys) == 0 {
		return
	}

	// copy first: removal unlinks from the set being ranged over
	doomed := make([]string, 0, len(keys))
	for k := range keys {
		doomed = append(doomed, k)
	}

	c.removing = true
	for _, k := range doomed {
		c.entries.Remove(k)
	}
	c.removing = false
	delete(c.byPatient, patientID)

	c.logger.WithFields(logrus.Fields{
		"patient_id": patientID,
		"removed":    len(doomed),
	}).Debug("Invalidated cached similarities")
}

// Clear implements Store
func (c *PairCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removing = true
	c.entries.Purge()
	c.removing = false
	c.byPatient = make(map[string]map[string]struct{})
}

// Stats implements Store
func (c *PairCache) Stats(_ context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Backend:   BackendMemory,
		Entries:   c.entries.Len(),
		Patients:  len(c.byPatient),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// associations reports the keys indexed under a patient
func (c *PairCache) associations(patientID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.byPatient[patientID]))
	for k := range c.byPatient[patientID] {
		out = append(out, k)
	}
	return out
}
