package infocontent

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/ontology"
)

// Model is an immutable information content table together with the
// ancestor closure needed to score term pairs. Safe for concurrent reads.
type Model struct {
	id        string
	rootID    string
	builtAt   time.Time
	rootMass  float64
	ic        map[string]float64
	ancestors map[string][]string
	aliases   map[string]string
	stats     FrequencyStats
}

// Snapshot is the serializable form of a Model
type Snapshot struct {
	ID        string              `json:"id"`
	RootID    string              `json:"root_id"`
	BuiltAt   time.Time           `json:"built_at"`
	RootMass  float64             `json:"root_mass"`
	IC        map[string]float64  `json:"ic"`
	Ancestors map[string][]string `json:"ancestors"`
	Aliases   map[string]string   `json:"aliases,omitempty"`
}

// ComputeIC assigns -ln(mass) to every term with a frequency, where mass is
// the summed frequency of the term's descendants. Terms whose mass does not
// exceed epsilon get no entry. The returned root mass is computed over the
// root's closure independently of whether the root carries a frequency.
func ComputeIC(freq map[string]float64, descendants ontology.DescendantMap, rootID string, epsilon float64, logger *logrus.Logger) (map[string]float64, float64) {
	ic := make(map[string]float64, len(freq))
	excluded := 0

	for id := range freq {
		set, ok := descendants.Descendants(id)
		if !ok {
			logger.WithFields(logrus.Fields{
				"term":  id,
				"error": domain.ErrInconsistentIndex,
			}).Warn("Term has a frequency but no descendant closure")
			continue
		}
		mass := descendantMass(freq, set)
		if mass <= epsilon {
			excluded++
			continue
		}
		ic[id] = -math.Log(clamp(mass, epsilon))
	}

	var rootMass float64
	if set, ok := descendants.Descendants(rootID); ok {
		rootMass = descendantMass(freq, set)
	}

	if excluded > 0 {
		logger.WithField("excluded", excluded).Debug("Terms without enough mass were excluded from the IC table")
	}

	return ic, rootMass
}

func descendantMass(freq map[string]float64, set ontology.TermSet) float64 {
	var mass float64
	for d := range set {
		mass += freq[d]
	}
	return mass
}

// newModel assembles a model. Each term's ancestor list keeps only the
// ancestors that carry an information content.
func newModel(rootID string, ic map[string]float64, rootMass float64, descendants ontology.DescendantMap, idx *ontology.Index, stats FrequencyStats) *Model {
	ancestors := make(map[string][]string, len(descendants))
	for id, set := range descendants.Ancestors() {
		list := make([]string, 0, len(set))
		for a := range set {
			if _, ok := ic[a]; ok {
				list = append(list, a)
			}
		}
		sort.Strings(list)
		ancestors[id] = list
	}

	aliases := make(map[string]string)
	for _, term := range idx.Terms() {
		if _, ok := descendants[term.ID]; !ok {
			continue
		}
		for _, alt := range term.AltIDs {
			if !idx.Contains(alt) {
				aliases[alt] = term.ID
			}
		}
	}

	return &Model{
		id:        uuid.New().String(),
		rootID:    rootID,
		builtAt:   time.Now().UTC(),
		rootMass:  rootMass,
		ic:        ic,
		ancestors: ancestors,
		aliases:   aliases,
		stats:     stats,
	}
}

// FromSnapshot restores a model from its serialized form
func FromSnapshot(s *Snapshot) (*Model, error) {
	if s == nil || s.ID == "" {
		return nil, fmt.Errorf("restoring model: %w: snapshot has no ID", domain.ErrInvalidArgument)
	}
	if len(s.IC) == 0 {
		return nil, fmt.Errorf("restoring model %s: %w", s.ID, domain.ErrEmptyCorpus)
	}
	aliases := s.Aliases
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &Model{
		id:        s.ID,
		rootID:    s.RootID,
		builtAt:   s.BuiltAt,
		rootMass:  s.RootMass,
		ic:        s.IC,
		ancestors: s.Ancestors,
		aliases:   aliases,
	}, nil
}

// Snapshot exports the model. The returned maps are shared with the model
// and must not be modified.
func (m *Model) Snapshot() *Snapshot {
	return &Snapshot{
		ID:        m.id,
		RootID:    m.rootID,
		BuiltAt:   m.builtAt,
		RootMass:  m.rootMass,
		IC:        m.ic,
		Ancestors: m.ancestors,
		Aliases:   m.aliases,
	}
}

// ID returns the unique identifier of this build
func (m *Model) ID() string { return m.id }

// RootID returns the root the model was built from
func (m *Model) RootID() string { return m.rootID }

// BuiltAt returns the build time
func (m *Model) BuiltAt() time.Time { return m.builtAt }

// RootMass returns the summed frequency under the root, expected to be close to 1
func (m *Model) RootMass() float64 { return m.rootMass }

// Stats returns the aggregation statistics of the build, zero for restored models
func (m *Model) Stats() FrequencyStats { return m.stats }

// Size returns the number of terms with an information content
func (m *Model) Size() int { return len(m.ic) }

// Canonical maps an alternate ID onto its primary term ID
func (m *Model) Canonical(id string) string {
	if primary, ok := m.aliases[id]; ok {
		return primary
	}
	return id
}

// IC returns the information content of a term
func (m *Model) IC(id string) (float64, bool) {
	v, ok := m.ic[m.Canonical(id)]
	return v, ok
}

// Ancestors returns the IC-carrying ancestors of a term, itself included when
// it carries an IC. The boolean is false for terms outside the root closure.
func (m *Model) Ancestors(id string) ([]string, bool) {
	list, ok := m.ancestors[m.Canonical(id)]
	return list, ok
}

// Known reports whether the term lies within the root closure
func (m *Model) Known(id string) bool {
	_, ok := m.ancestors[m.Canonical(id)]
	return ok
}
