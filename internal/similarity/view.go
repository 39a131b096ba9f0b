package similarity

import (
	"github.com/phenotype-similarity-server/internal/domain"
)

// Restrict returns a copy of result holding only what the exposure allows.
// Open exposure keeps everything. Limited exposure hides match-side term
// identifiers, unpaired match disorders and genes. Private exposure keeps the
// overall score only.
func Restrict(result *domain.SimilarityResult, exposure domain.Exposure) *domain.SimilarityResult {
	out := &domain.SimilarityResult{
		MatchID:     result.MatchID,
		ReferenceID: result.ReferenceID,
		AccessLevel: result.AccessLevel,
		Exposure:    exposure,
		Score:       result.Score,
		ModelID:     result.ModelID,
		ComputedAt:  result.ComputedAt,
	}

	switch exposure {
	case domain.ExposureOpen:
		out.TermMatches = append([]domain.TermMatch(nil), result.TermMatches...)
		out.Disorders = append([]domain.DisorderSimilarity(nil), result.Disorders...)
		out.Genes = append([]domain.GeneMatch(nil), result.Genes...)

	case domain.ExposureLimited:
		for _, m := range result.TermMatches {
			m.MatchTermID = ""
			out.TermMatches = append(out.TermMatches, m)
		}
		for _, d := range result.Disorders {
			if d.Match != nil && !d.IsMatchingPair() {
				continue
			}
			out.Disorders = append(out.Disorders, d)
		}

	default:
		out.Exposure = domain.ExposurePrivate
		out.MatchID = ""
	}

	return out
}
