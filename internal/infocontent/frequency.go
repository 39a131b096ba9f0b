// Package infocontent derives term frequencies from a disease knowledge base
// and turns them into an information content table over an ontology.
package infocontent

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/ontology"
)

// WeightFunc weighs one occurrence of a symptom on a disease record.
// Non-positive weights drop the occurrence.
type WeightFunc func(disease *domain.Term, symptomID string) float64

// UnitWeight counts every occurrence once
func UnitWeight(*domain.Term, string) float64 {
	return 1
}

// FrequencyStats summarizes one aggregation run
type FrequencyStats struct {
	Diseases         int     `json:"diseases"`
	WithoutSymptoms  int     `json:"without_symptoms"`
	References       int     `json:"references"`
	Counted          int     `json:"counted"`
	Unresolved       int     `json:"unresolved"`
	OutsideUniverse  int     `json:"outside_universe"`
	DistinctSymptoms int     `json:"distinct_symptoms"`
	TotalWeight      float64 `json:"total_weight"`
}

// Ignored returns the number of references that did not contribute
func (s FrequencyStats) Ignored() int {
	return s.Unresolved + s.OutsideUniverse
}

// Aggregator turns disease symptom annotations into a probability distribution over terms
type Aggregator struct {
	field   string
	epsilon float64
	weight  WeightFunc
	logger  *logrus.Logger
}

// NewAggregator creates an aggregator reading symptoms from field
func NewAggregator(field string, epsilon float64, weight WeightFunc, logger *logrus.Logger) *Aggregator {
	if field == "" {
		field = domain.SymptomField
	}
	if epsilon <= 0 {
		epsilon = domain.Epsilon
	}
	if weight == nil {
		weight = UnitWeight
	}
	return &Aggregator{field: field, epsilon: epsilon, weight: weight, logger: logger}
}

// Aggregate resolves every symptom reference through the phenotype index,
// keeps those inside allowed and normalizes the accumulated weights. Each
// resulting probability is clamped into (epsilon, 1-epsilon).
func (a *Aggregator) Aggregate(diseases []*domain.Term, phenotypes *ontology.Index, allowed ontology.TermSet) (map[string]float64, FrequencyStats, error) {
	stats := FrequencyStats{Diseases: len(diseases)}
	weights := make(map[string]float64)

	for _, disease := range diseases {
		symptoms, present, err := disease.StringList(a.field)
		if err != nil {
			return nil, stats, fmt.Errorf("aggregating symptom frequencies: %w", err)
		}
		if !present || len(symptoms) == 0 {
			stats.WithoutSymptoms++
			continue
		}

		for _, ref := range symptoms {
			stats.References++
			term, ok := phenotypes.Resolve(ref)
			if !ok {
				stats.Unresolved++
				a.logger.WithFields(logrus.Fields{
					"disease": disease.ID,
					"symptom": ref,
				}).Debug("Ignoring unresolved symptom reference")
				continue
			}
			if !allowed.Contains(term.ID) {
				stats.OutsideUniverse++
				a.logger.WithFields(logrus.Fields{
					"disease": disease.ID,
					"symptom": term.ID,
				}).Debug("Ignoring symptom outside the root closure")
				continue
			}
			w := a.weight(disease, term.ID)
			if w <= 0 {
				continue
			}
			weights[term.ID] += w
			stats.TotalWeight += w
			stats.Counted++
		}
	}

	if stats.Ignored() > 0 {
		a.logger.WithFields(logrus.Fields{
			"unresolved":       stats.Unresolved,
			"outside_universe": stats.OutsideUniverse,
			"references":       stats.References,
		}).Warn("Some symptom references were ignored")
	}

	if stats.TotalWeight <= 0 {
		return nil, stats, fmt.Errorf("no usable symptom references in %d diseases: %w", len(diseases), domain.ErrEmptyCorpus)
	}

	freq := make(map[string]float64, len(weights))
	for id, w := range weights {
		freq[id] = clamp(w/stats.TotalWeight, a.epsilon)
	}
	stats.DistinctSymptoms = len(freq)

	return freq, stats, nil
}

func clamp(p, epsilon float64) float64 {
	if p < epsilon {
		return epsilon
	}
	if p > 1-epsilon {
		return 1 - epsilon
	}
	return p
}
