package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known identifiers and numeric constants of the information content model
const (
	// DefaultRootID is the "Phenotypic abnormality" branch of HPO
	DefaultRootID = "HP:0000118"

	// SymptomField is the knowledge base annotation listing a disorder's symptoms
	SymptomField = "actual_symptom"

	// Epsilon bounds every probability into the open interval (Epsilon, 1-Epsilon)
	Epsilon = 1e-9
)

// Sentinel errors shared across packages
var (
	ErrNotFound          = errors.New("not found")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrEmptyCorpus       = errors.New("empty corpus")
	ErrCyclicGraph       = errors.New("cyclic graph")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInconsistentIndex = errors.New("inconsistent index")
	ErrModelNotReady     = errors.New("information content model not ready")
)

// Term is a concept in an ontology, or a record in a knowledge base that
// shares the ontology record shape
type Term struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	ParentIDs   []string       `json:"parent_ids,omitempty"`
	AltIDs      []string       `json:"alt_ids,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Validate checks the identifier and the shape of every annotation value.
// Annotation values must be scalars or collections of scalars.
func (t *Term) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("term validation: %w: ID is required", ErrMalformedRecord)
	}
	for field, value := range t.Annotations {
		if !isScalar(value) && !isScalarCollection(value) {
			return fmt.Errorf("term %s annotation %q has unsupported type %T: %w", t.ID, field, value, ErrMalformedRecord)
		}
	}
	return nil
}

// StringList returns the annotation as a list of strings. The boolean reports
// whether the annotation is present. A present annotation that is not a
// collection yields ErrMalformedRecord.
func (t *Term) StringList(field string) ([]string, bool, error) {
	value, ok := t.Annotations[field]
	if !ok || value == nil {
		return nil, false, nil
	}

	switch v := value.(type) {
	case []string:
		return v, true, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := scalarString(item)
			if err != nil {
				return nil, true, fmt.Errorf("term %s annotation %q: %w", t.ID, field, err)
			}
			out = append(out, s)
		}
		return out, true, nil
	default:
		return nil, true, fmt.Errorf("term %s annotation %q is %T, expected a collection: %w", t.ID, field, value, ErrMalformedRecord)
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return true
	}
	return false
}

func isScalarCollection(v any) bool {
	switch c := v.(type) {
	case []string, []int, []int64, []float64, []bool:
		return true
	case []any:
		for _, item := range c {
			if !isScalar(item) {
				return false
			}
		}
		return true
	}
	return false
}

func scalarString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return "", fmt.Errorf("unsupported collection item %T: %w", v, ErrMalformedRecord)
	}
}
