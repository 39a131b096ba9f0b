package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// SimilarityKey identifies one cached similarity computation
type SimilarityKey struct {
	MatchID     string `json:"match_id"`
	ReferenceID string `json:"reference_id"`
	AccessLevel string `json:"access_level"`
}

// NewSimilarityKey builds the key for a match/reference pair seen through an access decision
func NewSimilarityKey(matchID, referenceID string, access AccessDecision) SimilarityKey {
	return SimilarityKey{MatchID: matchID, ReferenceID: referenceID, AccessLevel: access.LevelName()}
}

// KeySeparator joins the fields of a serialized SimilarityKey
const KeySeparator = "|"

var keyEscaper = strings.NewReplacer("%", "%25", KeySeparator, "%7C")

// String serializes the key. Fields are escaped, so IDs containing the
// separator cannot collide with another pair.
func (k SimilarityKey) String() string {
	return keyEscaper.Replace(k.MatchID) + KeySeparator +
		keyEscaper.Replace(k.ReferenceID) + KeySeparator +
		keyEscaper.Replace(k.AccessLevel)
}

// Involves reports whether the key references the patient on either side
func (k SimilarityKey) Involves(patientID string) bool {
	return k.MatchID == patientID || k.ReferenceID == patientID
}

// Exposure is how much of a result a viewer is allowed to see
type Exposure string

const (
	ExposureOpen    Exposure = "open"
	ExposureLimited Exposure = "limited"
	ExposurePrivate Exposure = "private"
)

// TermMatch is one best-match pairing between a match term and a reference term
type TermMatch struct {
	MatchTermID     string  `json:"match_term_id,omitempty"`
	ReferenceTermID string  `json:"reference_term_id,omitempty"`
	AncestorID      string  `json:"ancestor_id,omitempty"`
	Score           float64 `json:"score"`
}

// GeneMatch is a candidate gene shared by both patients
type GeneMatch struct {
	Gene           string  `json:"gene"`
	MatchScore     float64 `json:"match_score"`
	ReferenceScore float64 `json:"reference_score"`
}

// SimilarityResult is the outcome of comparing a match patient against a reference patient
type SimilarityResult struct {
	MatchID     string               `json:"match_id,omitempty"`
	ReferenceID string               `json:"reference_id"`
	AccessLevel string               `json:"access_level"`
	Exposure    Exposure             `json:"exposure"`
	Score       float64              `json:"score"`
	TermMatches []TermMatch          `json:"term_matches,omitempty"`
	Disorders   []DisorderSimilarity `json:"disorders,omitempty"`
	Genes       []GeneMatch          `json:"genes,omitempty"`
	ModelID     string               `json:"model_id"`
	ComputedAt  time.Time            `json:"computed_at"`
}

// DisorderSimilarity compares one disorder against its counterpart on the other patient.
// Score is NaN when there is no counterpart.
type DisorderSimilarity struct {
	Match     *Disorder
	Reference *Disorder
	Score     float64
}

// IsMatchingPair reports whether both sides carry a disorder
func (d DisorderSimilarity) IsMatchingPair() bool {
	return d.Match != nil && d.Reference != nil
}

type disorderSimilarityJSON struct {
	Match        *Disorder `json:"match,omitempty"`
	Reference    *Disorder `json:"reference,omitempty"`
	Score        *float64  `json:"score"`
	MatchingPair bool      `json:"matching_pair"`
}

// MarshalJSON encodes a NaN score as null
func (d DisorderSimilarity) MarshalJSON() ([]byte, error) {
	out := disorderSimilarityJSON{
		Match:        d.Match,
		Reference:    d.Reference,
		MatchingPair: d.IsMatchingPair(),
	}
	if !math.IsNaN(d.Score) {
		score := d.Score
		out.Score = &score
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null score as NaN
func (d *DisorderSimilarity) UnmarshalJSON(data []byte) error {
	var in disorderSimilarityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.Match = in.Match
	d.Reference = in.Reference
	d.Score = math.NaN()
	if in.Score != nil {
		d.Score = *in.Score
	}
	return nil
}
