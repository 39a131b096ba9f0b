package similarity

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/cache"
	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
)

// ModelSource hands out the current information content model
type ModelSource interface {
	Current() (*infocontent.Model, error)
}

// Recorder receives factory measurements
type Recorder interface {
	RecordCacheLookup(hit bool)
	ObserveComputation(exposure string, d time.Duration)
}

// DefaultMaxGenes bounds the shared gene list of an open result
const DefaultMaxGenes = 5

// Factory produces similarity results, serving them from the cache when possible
type Factory struct {
	models   ModelSource
	store    cache.Store
	patients domain.PatientDataSource
	scorer   *Scorer
	view     domain.AccessLevel
	match    domain.AccessLevel
	maxGenes int
	recorder Recorder
	logger   *logrus.Logger
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithStore sets the result cache. A nil store disables caching.
func WithStore(store cache.Store) FactoryOption {
	return func(f *Factory) { f.store = store }
}

// WithPatients sets the patient source used to re-derive results
func WithPatients(patients domain.PatientDataSource) FactoryOption {
	return func(f *Factory) { f.patients = patients }
}

// WithAccessThresholds sets the levels granting open and limited exposure
func WithAccessThresholds(view, match domain.AccessLevel) FactoryOption {
	return func(f *Factory) {
		f.view = view
		f.match = match
	}
}

// WithMaxGenes bounds the shared gene list
func WithMaxGenes(n int) FactoryOption {
	return func(f *Factory) { f.maxGenes = n }
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) FactoryOption {
	return func(f *Factory) { f.recorder = r }
}

// NewFactory creates a similarity factory over a model source
func NewFactory(models ModelSource, logger *logrus.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		models:   models,
		scorer:   NewScorer(logger),
		view:     domain.AccessView,
		match:    domain.AccessMatch,
		maxGenes: DefaultMaxGenes,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Store returns the cache in use, nil when caching is disabled
func (f *Factory) Store() cache.Store {
	return f.store
}

// Compute compares match against reference as seen through access. Results
// are cached per (match, reference, access level); a cached result computed
// with the current model is returned without recomputation.
func (f *Factory) Compute(ctx context.Context, match, reference *domain.Patient, access domain.AccessDecision) (*domain.SimilarityResult, error) {
	if match == nil || reference == nil {
		return nil, fmt.Errorf("computing similarity: %w: both patients are required", domain.ErrInvalidArgument)
	}
	if access == nil {
		return nil, fmt.Errorf("computing similarity: %w: access decision is required", domain.ErrInvalidArgument)
	}

	model, err := f.models.Current()
	if err != nil {
		return nil, err
	}

	key := domain.NewSimilarityKey(match.ID, reference.ID, access)
	if f.store != nil {
		cached, ok := f.store.Get(ctx, key)
		if ok && cached.ModelID == model.ID() {
			f.recordLookup(true)
			f.logger.WithField("key", key.String()).Debug("Similarity cache hit")
			return cached, nil
		}
		if ok {
			f.logger.WithFields(logrus.Fields{
				"key":      key.String(),
				"cached":   cached.ModelID,
				"model_id": model.ID(),
			}).Debug("Ignoring similarity computed with a previous model")
		}
		f.recordLookup(false)
	}

	start := time.Now()
	accessType := NewAccessType(access, f.view, f.match)
	full := f.compute(model, match, reference, access.LevelName())
	result := Restrict(full, accessType.Exposure())
	if f.recorder != nil {
		f.recorder.ObserveComputation(string(result.Exposure), time.Since(start))
	}

	// a reload may have published a new model and cleared the cache meanwhile
	if f.store != nil && f.isCurrent(model) {
		f.store.Put(ctx, key, result)
	}

	f.logger.WithFields(logrus.Fields{
		"match_id":     match.ID,
		"reference_id": reference.ID,
		"access":       access.LevelName(),
		"score":        result.Score,
	}).Debug("Similarity computed")

	return result, nil
}

// Convert re-derives a result for access from an existing one, resolving
// both patients again and going through the same cache or compute path
func (f *Factory) Convert(ctx context.Context, view *domain.SimilarityResult, access domain.AccessDecision) (*domain.SimilarityResult, error) {
	if view == nil {
		return nil, fmt.Errorf("converting similarity: %w: result is required", domain.ErrInvalidArgument)
	}
	if view.MatchID == "" || view.ReferenceID == "" {
		return nil, fmt.Errorf("converting similarity: %w: result does not identify both patients", domain.ErrInvalidArgument)
	}
	if f.patients == nil {
		return nil, fmt.Errorf("converting similarity: %w: no patient source configured", domain.ErrInvalidArgument)
	}
	if access == nil {
		level, err := domain.ParseAccessLevel(view.AccessLevel)
		if err != nil {
			return nil, fmt.Errorf("converting similarity: %w", err)
		}
		access = level
	}

	match, err := f.patients.GetPatient(ctx, view.MatchID)
	if err != nil {
		return nil, fmt.Errorf("resolving match patient %s: %w", view.MatchID, err)
	}
	reference, err := f.patients.GetPatient(ctx, view.ReferenceID)
	if err != nil {
		return nil, fmt.Errorf("resolving reference patient %s: %w", view.ReferenceID, err)
	}
	return f.Compute(ctx, match, reference, access)
}

func (f *Factory) compute(model *infocontent.Model, match, reference *domain.Patient, level string) *domain.SimilarityResult {
	phenotypes := f.scorer.Compare(model, match.ObservedPhenotypes(), reference.ObservedPhenotypes())
	return &domain.SimilarityResult{
		MatchID:     match.ID,
		ReferenceID: reference.ID,
		AccessLevel: level,
		Exposure:    domain.ExposureOpen,
		Score:       phenotypes.Score,
		TermMatches: phenotypes.Matches,
		Disorders:   CompareDisorders(match.Disorders, reference.Disorders),
		Genes:       SharedGenes(match.Genotype, reference.Genotype, f.maxGenes),
		ModelID:     model.ID(),
		ComputedAt:  time.Now().UTC(),
	}
}

func (f *Factory) isCurrent(model *infocontent.Model) bool {
	current, err := f.models.Current()
	return err == nil && current.ID() == model.ID()
}

func (f *Factory) recordLookup(hit bool) {
	if f.recorder != nil {
		f.recorder.RecordCacheLookup(hit)
	}
}
