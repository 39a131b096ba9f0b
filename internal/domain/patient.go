package domain

import (
	"fmt"
	"strings"
	"time"
)

// Visibility is the sharing setting a patient record carries
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityMatchable Visibility = "matchable"
	VisibilityPrivate   Visibility = "private"
)

// IsValid checks if the visibility is a known value
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityMatchable, VisibilityPrivate:
		return true
	}
	return false
}

// Feature types recorded for a patient
const (
	FeatureTypePhenotype         = "phenotype"
	FeatureTypePrenatalPhenotype = "prenatal_phenotype"
)

// Feature is a phenotype observation on a patient
type Feature struct {
	ID       string `json:"id"`
	Name     string `json:"label,omitempty"`
	Type     string `json:"type"`
	Observed bool   `json:"observed"`
}

// Disorder is a diagnosis recorded on a patient
type Disorder struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Genotype exposes ranked candidate genes for a patient
type Genotype interface {
	Genes() []string
	GeneScore(gene string) (float64, bool)
}

// Patient holds the phenotype and genotype data a similarity computation reads
type Patient struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id,omitempty"`
	Visibility Visibility `json:"visibility"`
	Features   []Feature  `json:"features"`
	Disorders  []Disorder `json:"disorders"`
	Genotype   Genotype   `json:"-"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

// Validate validates the patient record
func (p *Patient) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("patient validation: %w: ID is required", ErrInvalidArgument)
	}
	if p.Visibility != "" && !p.Visibility.IsValid() {
		return fmt.Errorf("patient validation: %w: unknown visibility %q", ErrInvalidArgument, p.Visibility)
	}
	for i, f := range p.Features {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("patient validation: %w: feature %d has no ID", ErrInvalidArgument, i)
		}
	}
	return nil
}

// ObservedPhenotypes returns the IDs of observed phenotype features, prenatal
// ones included, deduplicated in first-seen order
func (p *Patient) ObservedPhenotypes() []string {
	seen := make(map[string]struct{}, len(p.Features))
	ids := make([]string, 0, len(p.Features))
	for _, f := range p.Features {
		if !f.Observed {
			continue
		}
		if f.Type != FeatureTypePhenotype && f.Type != FeatureTypePrenatalPhenotype {
			continue
		}
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		ids = append(ids, f.ID)
	}
	return ids
}
