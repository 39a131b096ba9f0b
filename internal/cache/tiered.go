package cache

import (
	"context"
	"errors"
	"io"

	"github.com/phenotype-similarity-server/internal/domain"
)

// Tiered reads through a local store into a shared one and writes to both
type Tiered struct {
	local  Store
	remote Store
}

// NewTiered combines a local and a remote store
func NewTiered(local, remote Store) *Tiered {
	return &Tiered{local: local, remote: remote}
}

// Get implements Store. A remote hit is copied into the local tier.
func (t *Tiered) Get(ctx context.Context, key domain.SimilarityKey) (*domain.SimilarityResult, bool) {
	if r, ok := t.local.Get(ctx, key); ok {
		return r, true
	}
	r, ok := t.remote.Get(ctx, key)
	if ok {
		t.local.Put(ctx, key, r)
	}
	return r, ok
}

// Put implements Store
func (t *Tiered) Put(ctx context.Context, key domain.SimilarityKey, result *domain.SimilarityResult) {
	t.local.Put(ctx, key, result)
	t.remote.Put(ctx, key, result)
}

// Invalidate implements Store
func (t *Tiered) Invalidate(ctx context.Context, patientID string) {
	t.remote.Invalidate(ctx, patientID)
	t.local.Invalidate(ctx, patientID)
}

// Clear implements Store
func (t *Tiered) Clear(ctx context.Context) {
	t.remote.Clear(ctx)
	t.local.Clear(ctx)
}

// Stats implements Store, reporting the local tier's counters
func (t *Tiered) Stats(ctx context.Context) Stats {
	s := t.local.Stats(ctx)
	s.Backend = BackendTiered
	return s
}

// Close closes whichever tiers hold connections
func (t *Tiered) Close() error {
	var errs []error
	for _, s := range []Store{t.local, t.remote} {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
