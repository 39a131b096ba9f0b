package similarity

import (
	"math"
	"sort"

	"github.com/phenotype-similarity-server/internal/domain"
)

// CompareDisorders pairs every match disorder with a reference disorder of
// the same ID. Paired disorders score 1. Match disorders without a counterpart
// and reference disorders left over are reported unpaired with a NaN score.
// Repeated IDs pair one to one.
func CompareDisorders(match, reference []domain.Disorder) []domain.DisorderSimilarity {
	pending := make(map[string][]int, len(reference))
	for i, r := range reference {
		pending[r.ID] = append(pending[r.ID], i)
	}

	used := make([]bool, len(reference))
	out := make([]domain.DisorderSimilarity, 0, len(match)+len(reference))
	for i := range match {
		m := match[i]
		if queue := pending[m.ID]; len(queue) > 0 {
			j := queue[0]
			pending[m.ID] = queue[1:]
			used[j] = true
			r := reference[j]
			out = append(out, domain.DisorderSimilarity{Match: &m, Reference: &r, Score: 1})
			continue
		}
		out = append(out, domain.DisorderSimilarity{Match: &m, Score: math.NaN()})
	}

	for j := range reference {
		if used[j] {
			continue
		}
		r := reference[j]
		out = append(out, domain.DisorderSimilarity{Reference: &r, Score: math.NaN()})
	}

	return out
}

// SharedGenes lists the candidate genes present in both genotypes, strongest
// combined gene score first, at most limit entries
func SharedGenes(match, reference domain.Genotype, limit int) []domain.GeneMatch {
	if match == nil || reference == nil || limit <= 0 {
		return nil
	}

	var shared []domain.GeneMatch
	for _, gene := range match.Genes() {
		ms, ok := match.GeneScore(gene)
		if !ok {
			continue
		}
		rs, ok := reference.GeneScore(gene)
		if !ok {
			continue
		}
		shared = append(shared, domain.GeneMatch{Gene: gene, MatchScore: ms, ReferenceScore: rs})
	}

	sort.SliceStable(shared, func(i, j int) bool {
		si := shared[i].MatchScore + shared[i].ReferenceScore
		sj := shared[j].MatchScore + shared[j].ReferenceScore
		if si != sj {
			return si > sj
		}
		return shared[i].Gene < shared[j].Gene
	})
	if len(shared) > limit {
		shared = shared[:limit]
	}
	return shared
}
