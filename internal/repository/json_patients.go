package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/pkg/exomiser"
)

const (
	patientSuffix  = ".json"
	variantsSuffix = ".variants.tsv"
)

// phenoTipsFeature mirrors one entry of a PhenoTips features list
type phenoTipsFeature struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Observed string `json:"observed"`
}

type phenoTipsPatient struct {
	ID         string             `json:"id"`
	ExternalID string             `json:"external_id"`
	Visibility string             `json:"visibility"`
	Features   []phenoTipsFeature `json:"features"`
	Prenatal   struct {
		Phenotype []phenoTipsFeature `json:"prenatal_phenotype"`
	} `json:"prenatal_perinatal_phenotype"`
	Disorders []domain.Disorder `json:"disorders"`
}

// FilePatientSource reads PhenoTips JSON exports from a directory. A patient
// P1 lives in P1.json; an optional P1.variants.tsv holds its Exomiser output.
type FilePatientSource struct {
	dir string
	log *logrus.Logger
}

var _ domain.PatientDataSource = (*FilePatientSource)(nil)

// NewFilePatientSource creates a source rooted at dir
func NewFilePatientSource(dir string, logger *logrus.Logger) *FilePatientSource {
	return &FilePatientSource{dir: dir, log: logger}
}

// GetPatient loads and converts a patient export
func (s *FilePatientSource) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("patient ID %q: %w", id, domain.ErrInvalidArgument)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+patientSuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("reading patient %s: %v: %w", id, err, domain.ErrSourceUnavailable)
	}

	var raw phenoTipsPatient
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("patient %s: %w: %v", id, domain.ErrMalformedRecord, err)
	}

	p := convertPhenoTips(id, &raw)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("patient %s: %w: %v", id, domain.ErrMalformedRecord, err)
	}

	if info, err := os.Stat(filepath.Join(s.dir, id+patientSuffix)); err == nil {
		p.UpdatedAt = info.ModTime().UTC()
	}

	variantsPath := filepath.Join(s.dir, id+variantsSuffix)
	g, err := exomiser.ParseFile(variantsPath)
	switch {
	case err == nil:
		logSkippedVariants(s.log, id, g)
		p.Genotype = g
	case errors.Is(err, fs.ErrNotExist):
	default:
		s.log.WithFields(logrus.Fields{
			"patient_id": id,
			"path":       variantsPath,
			"error":      err,
		}).Warn("Ignoring unreadable variant file")
	}

	return p, nil
}

// ListPatientIDs returns the IDs of every export in the directory
func (s *FilePatientSource) ListPatientIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %v: %w", err, domain.ErrSourceUnavailable)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, patientSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, patientSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func convertPhenoTips(id string, raw *phenoTipsPatient) *domain.Patient {
	p := &domain.Patient{
		ID:         raw.ID,
		ExternalID: raw.ExternalID,
		Visibility: domain.Visibility(strings.ToLower(raw.Visibility)),
		Disorders:  raw.Disorders,
	}
	if p.ID == "" {
		p.ID = id
	}

	for _, f := range raw.Features {
		p.Features = append(p.Features, convertFeature(f, false))
	}
	for _, f := range raw.Prenatal.Phenotype {
		p.Features = append(p.Features, convertFeature(f, true))
	}
	return p
}

func convertFeature(f phenoTipsFeature, prenatal bool) domain.Feature {
	featureType := f.Type
	if featureType == "" {
		featureType = domain.FeatureTypePhenotype
	}
	if prenatal && featureType == domain.FeatureTypePhenotype {
		featureType = domain.FeatureTypePrenatalPhenotype
	}
	return domain.Feature{
		ID:       f.ID,
		Name:     f.Label,
		Type:     featureType,
		Observed: strings.EqualFold(f.Observed, "yes"),
	}
}
