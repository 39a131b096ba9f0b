package infocontent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/phenotype-similarity-server/internal/domain"
)

const buildKey = "model"

// ModelBuilder produces a fresh model
type ModelBuilder interface {
	Build(ctx context.Context) (*Model, error)
}

// SnapshotStore persists built models for warm starts
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
}

// BuildObserver is notified of every build attempt
type BuildObserver interface {
	ObserveModelBuild(status string, duration time.Duration, terms int)
}

// Provider owns the process-wide model. The first Initialize builds it,
// concurrent callers share that build, and Reload replaces it atomically.
type Provider struct {
	builder   ModelBuilder
	snapshots SnapshotStore
	observer  BuildObserver
	logger    *logrus.Logger

	current atomic.Pointer[Model]
	group   singleflight.Group
}

// ProviderOption configures a Provider
type ProviderOption func(*Provider)

// WithSnapshotStore persists every successful build and restores the latest
// snapshot when the first build cannot reach its sources
func WithSnapshotStore(store SnapshotStore) ProviderOption {
	return func(p *Provider) { p.snapshots = store }
}

// WithBuildObserver reports build outcomes
func WithBuildObserver(observer BuildObserver) ProviderOption {
	return func(p *Provider) { p.observer = observer }
}

// NewProvider creates a provider around a builder
func NewProvider(builder ModelBuilder, logger *logrus.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{builder: builder, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Current returns the published model or ErrModelNotReady
func (p *Provider) Current() (*Model, error) {
	if m := p.current.Load(); m != nil {
		return m, nil
	}
	return nil, domain.ErrModelNotReady
}

// Ready reports whether a model has been published
func (p *Provider) Ready() bool {
	return p.current.Load() != nil
}

// Initialize returns the published model, building it first if needed
func (p *Provider) Initialize(ctx context.Context) (*Model, error) {
	if m := p.current.Load(); m != nil {
		return m, nil
	}
	return p.build(ctx, false)
}

// Reload rebuilds the model. On failure the previous model stays in service.
func (p *Provider) Reload(ctx context.Context) (*Model, error) {
	return p.build(ctx, true)
}

// Publish installs a model directly
func (p *Provider) Publish(m *Model) {
	p.current.Store(m)
}

func (p *Provider) build(ctx context.Context, force bool) (*Model, error) {
	// the flight outlives any single caller's cancellation
	flightCtx := context.WithoutCancel(ctx)

	v, err, shared := p.group.Do(buildKey, func() (any, error) {
		if m := p.current.Load(); m != nil && !force {
			return m, nil
		}
		start := time.Now()
		m, err := p.builder.Build(flightCtx)
		if err != nil {
			p.observe("failure", time.Since(start), 0)
			return p.fallback(flightCtx, err)
		}

		previous := p.current.Swap(m)
		p.observe("success", time.Since(start), m.Size())
		p.persist(flightCtx, m)

		fields := logrus.Fields{"model_id": m.ID(), "ic_terms": m.Size()}
		if previous != nil {
			fields["previous_model_id"] = previous.ID()
		}
		p.logger.WithFields(fields).Info("Information content model published")
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.logger.Debug("Joined in-flight model build")
	}
	return v.(*Model), nil
}

func (p *Provider) fallback(ctx context.Context, buildErr error) (*Model, error) {
	if previous := p.current.Load(); previous != nil {
		p.logger.WithFields(logrus.Fields{
			"model_id": previous.ID(),
			"error":    buildErr,
		}).Error("Model rebuild failed; keeping previous model")
		return nil, fmt.Errorf("rebuilding model: %w", buildErr)
	}

	if p.snapshots == nil || !errors.Is(buildErr, domain.ErrSourceUnavailable) {
		p.logger.WithError(buildErr).Error("Model build failed")
		return nil, fmt.Errorf("building model: %w", buildErr)
	}

	snap, err := p.snapshots.LatestSnapshot(ctx)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"build_error":    buildErr,
			"snapshot_error": err,
		}).Error("Model build failed and no snapshot could be restored")
		return nil, fmt.Errorf("building model: %w", buildErr)
	}
	m, err := FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("building model: %w (snapshot restore: %v)", buildErr, err)
	}

	p.current.Store(m)
	p.observe("restored", 0, m.Size())
	p.logger.WithFields(logrus.Fields{
		"model_id": m.ID(),
		"built_at": m.BuiltAt(),
		"error":    buildErr,
	}).Warn("Sources unavailable; restored model from snapshot")
	return m, nil
}

func (p *Provider) persist(ctx context.Context, m *Model) {
	if p.snapshots == nil {
		return
	}
	if err := p.snapshots.SaveSnapshot(ctx, m.Snapshot()); err != nil {
		p.logger.WithFields(logrus.Fields{
			"model_id": m.ID(),
			"error":    err,
		}).Warn("Failed to persist model snapshot")
	}
}

func (p *Provider) observe(status string, d time.Duration, terms int) {
	if p.observer != nil {
		p.observer.ObserveModelBuild(status, d, terms)
	}
}
