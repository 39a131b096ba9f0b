package infocontent

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/ontology"
)

// Options configures a model build
type Options struct {
	RootID            string
	SymptomField      string
	Epsilon           float64
	RootMassTolerance float64
	Weight            WeightFunc
}

// DefaultOptions returns the HPO/OMIM defaults
func DefaultOptions() Options {
	return Options{
		RootID:            domain.DefaultRootID,
		SymptomField:      domain.SymptomField,
		Epsilon:           domain.Epsilon,
		RootMassTolerance: 1e-6,
		Weight:            UnitWeight,
	}
}

// Builder loads the phenotype ontology and the disease knowledge base and
// derives a Model from them
type Builder struct {
	phenotypes    domain.OntologySource
	knowledgeBase domain.OntologySource
	opts          Options
	logger        *logrus.Logger
}

// NewBuilder creates a model builder over the two sources
func NewBuilder(phenotypes, knowledgeBase domain.OntologySource, opts Options, logger *logrus.Logger) *Builder {
	defaults := DefaultOptions()
	if opts.RootID == "" {
		opts.RootID = defaults.RootID
	}
	if opts.SymptomField == "" {
		opts.SymptomField = defaults.SymptomField
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = defaults.Epsilon
	}
	if opts.RootMassTolerance <= 0 {
		opts.RootMassTolerance = defaults.RootMassTolerance
	}
	if opts.Weight == nil {
		opts.Weight = defaults.Weight
	}
	return &Builder{
		phenotypes:    phenotypes,
		knowledgeBase: knowledgeBase,
		opts:          opts,
		logger:        logger,
	}
}

// Build runs the full pipeline: index both sources, compute the descendant
// closure under the root, aggregate symptom frequencies over that closure and
// score every term.
func (b *Builder) Build(ctx context.Context) (*Model, error) {
	start := time.Now()

	var phenotypeIdx, diseaseIdx *ontology.Index
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		idx, err := ontology.LoadAll(gctx, b.phenotypes, b.logger)
		phenotypeIdx = idx
		return err
	})
	g.Go(func() error {
		idx, err := ontology.LoadAll(gctx, b.knowledgeBase, b.logger)
		diseaseIdx = idx
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}

	descendants, err := ontology.BuildDescendants(b.opts.RootID, phenotypeIdx)
	if err != nil {
		return nil, fmt.Errorf("building descendant closure: %w", err)
	}

	aggregator := NewAggregator(b.opts.SymptomField, b.opts.Epsilon, b.opts.Weight, b.logger)
	freq, stats, err := aggregator.Aggregate(diseaseIdx.Terms(), phenotypeIdx, descendants.Universe())
	if err != nil {
		return nil, err
	}

	ic, rootMass := ComputeIC(freq, descendants, b.opts.RootID, b.opts.Epsilon, b.logger)
	if math.Abs(rootMass-1) > b.opts.RootMassTolerance {
		b.logger.WithFields(logrus.Fields{
			"root":      b.opts.RootID,
			"root_mass": rootMass,
			"tolerance": b.opts.RootMassTolerance,
		}).Warn("Root probability mass deviates from 1")
	}

	model := newModel(b.opts.RootID, ic, rootMass, descendants, phenotypeIdx, stats)

	b.logger.WithFields(logrus.Fields{
		"model_id":      model.ID(),
		"closure_terms": len(descendants),
		"ic_terms":      model.Size(),
		"diseases":      stats.Diseases,
		"ignored":       stats.Ignored(),
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Information content model built")

	return model, nil
}
