// Package similarity scores pairs of patients against an information content
// model and restricts the results to what a viewer may see.
package similarity

import (
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
)

// TermSimilarity is the Resnik similarity of two terms: the highest
// information content among their common ancestors. The second return value
// names that ancestor and is empty when nothing carrying an IC is shared.
func TermSimilarity(model *infocontent.Model, a, b string) (float64, string) {
	ancA, okA := model.Ancestors(a)
	ancB, okB := model.Ancestors(b)
	if !okA || !okB {
		return 0, ""
	}

	inA := make(map[string]struct{}, len(ancA))
	for _, id := range ancA {
		inA[id] = struct{}{}
	}

	var best float64
	var bestID string
	for _, id := range ancB {
		if _, common := inA[id]; !common {
			continue
		}
		ic, _ := model.IC(id)
		if bestID == "" || ic > best {
			best, bestID = ic, id
		}
	}
	return best, bestID
}

// SetScore is the outcome of comparing two term sets
type SetScore struct {
	Score   float64
	Matches []domain.TermMatch
}

// Scorer compares phenotype term sets
type Scorer struct {
	logger *logrus.Logger
}

// NewScorer creates a scorer
func NewScorer(logger *logrus.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// Compare aggregates pairwise term similarity with a symmetric best-match
// average, normalized by the mean self-information of both sets. Identical
// sets score 1 and sets sharing nothing but uninformative ancestors score 0.
// Terms unknown to the model are left out.
func (s *Scorer) Compare(model *infocontent.Model, match, reference []string) SetScore {
	a := s.known(model, match)
	b := s.known(model, reference)
	if len(a) == 0 || len(b) == 0 {
		return SetScore{}
	}

	matches := make([]domain.TermMatch, 0, len(a))
	var sumA float64
	for _, t := range a {
		m := bestMatch(model, t, b)
		sumA += m.Score
		matches = append(matches, m)
	}
	var sumB float64
	for _, t := range b {
		sumB += bestMatch(model, t, a).Score
	}

	norm := 0.5 * (selfInformation(model, a) + selfInformation(model, b))
	if norm <= 0 {
		return SetScore{Matches: matches}
	}

	bma := 0.5 * (sumA/float64(len(a)) + sumB/float64(len(b)))
	score := bma / norm
	if score > 1 {
		score = 1
	}
	return SetScore{Score: score, Matches: matches}
}

func (s *Scorer) known(model *infocontent.Model, terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !model.Known(t) {
			s.logger.WithFields(logrus.Fields{
				"term":     t,
				"model_id": model.ID(),
				"error":    domain.ErrInconsistentIndex,
			}).Debug("Skipping term outside the information content model")
			continue
		}
		out = append(out, model.Canonical(t))
	}
	return out
}

func bestMatch(model *infocontent.Model, term string, candidates []string) domain.TermMatch {
	best := domain.TermMatch{MatchTermID: term}
	for _, c := range candidates {
		score, ancestor := TermSimilarity(model, term, c)
		if best.ReferenceTermID == "" || score > best.Score {
			best.ReferenceTermID = c
			best.AncestorID = ancestor
			best.Score = score
		}
	}
	return best
}

func selfInformation(model *infocontent.Model, terms []string) float64 {
	var sum float64
	for _, t := range terms {
		score, _ := TermSimilarity(model, t, t)
		sum += score
	}
	return sum / float64(len(terms))
}
