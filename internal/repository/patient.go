package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/pkg/exomiser"
)

// PatientRepository handles patient data persistence
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

var _ domain.PatientRepository = (*PatientRepository)(nil)

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// GetPatient loads a patient with its features, disorders and genotype
func (r *PatientRepository) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	query := `
		SELECT id, external_id, visibility, updated_at
		FROM patients
		WHERE id = $1`

	var p domain.Patient
	var visibility string
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.ExternalID, &visibility, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to get patient")
		return nil, fmt.Errorf("getting patient: %v: %w", err, domain.ErrSourceUnavailable)
	}
	p.Visibility = domain.Visibility(visibility)

	if p.Features, err = r.features(ctx, id); err != nil {
		return nil, err
	}
	if p.Disorders, err = r.disorders(ctx, id); err != nil {
		return nil, err
	}
	if err := r.attachGenotype(ctx, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

func (r *PatientRepository) features(ctx context.Context, patientID string) ([]domain.Feature, error) {
	rows, err := r.db.Query(ctx, `
		SELECT term_id, label, type, observed
		FROM patient_features
		WHERE patient_id = $1
		ORDER BY position`, patientID)
	if err != nil {
		return nil, fmt.Errorf("querying features: %w", err)
	}
	defer rows.Close()

	var features []domain.Feature
	for rows.Next() {
		var f domain.Feature
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Observed); err != nil {
			return nil, fmt.Errorf("scanning feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func (r *PatientRepository) disorders(ctx context.Context, patientID string) ([]domain.Disorder, error) {
	rows, err := r.db.Query(ctx, `
		SELECT disorder_id, label
		FROM patient_disorders
		WHERE patient_id = $1
		ORDER BY position`, patientID)
	if err != nil {
		return nil, fmt.Errorf("querying disorders: %w", err)
	}
	defer rows.Close()

	var disorders []domain.Disorder
	for rows.Next() {
		var d domain.Disorder
		if err := rows.Scan(&d.ID, &d.Label); err != nil {
			return nil, fmt.Errorf("scanning disorder: %w", err)
		}
		disorders = append(disorders, d)
	}
	return disorders, rows.Err()
}

func (r *PatientRepository) attachGenotype(ctx context.Context, p *domain.Patient) error {
	var content string
	err := r.db.QueryRow(ctx,
		`SELECT content FROM patient_genotypes WHERE patient_id = $1`, p.ID,
	).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("querying genotype: %w", err)
	}

	g, err := exomiser.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("genotype of patient %s: %w", p.ID, err)
	}
	logSkippedVariants(r.log, p.ID, g)
	p.Genotype = g
	return nil
}

func logSkippedVariants(log *logrus.Logger, patientID string, g *exomiser.Genotype) {
	skipped := g.Skipped()
	if len(skipped) == 0 {
		return
	}
	log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"skipped":    len(skipped),
		"first":      skipped[0].Error(),
	}).Warn("Skipped malformed variant lines")
}

// SavePatient replaces the stored record, features and disorders in one
// transaction. The stored genotype is left untouched.
func (r *PatientRepository) SavePatient(ctx context.Context, patient *domain.Patient) error {
	if err := patient.Validate(); err != nil {
		return err
	}
	visibility := patient.Visibility
	if visibility == "" {
		visibility = domain.VisibilityMatchable
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO patients (id, external_id, visibility, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			visibility = EXCLUDED.visibility,
			updated_at = NOW()`,
		patient.ID, patient.ExternalID, string(visibility))
	if err != nil {
		return fmt.Errorf("upserting patient: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM patient_features WHERE patient_id = $1`, patient.ID)
	batch.Queue(`DELETE FROM patient_disorders WHERE patient_id = $1`, patient.ID)
	for i, f := range patient.Features {
		featureType := f.Type
		if featureType == "" {
			featureType = domain.FeatureTypePhenotype
		}
		batch.Queue(`
			INSERT INTO patient_features (patient_id, position, term_id, label, type, observed)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			patient.ID, i, f.ID, f.Name, featureType, f.Observed)
	}
	for i, d := range patient.Disorders {
		batch.Queue(`
			INSERT INTO patient_disorders (patient_id, position, disorder_id, label)
			VALUES ($1, $2, $3, $4)`,
			patient.ID, i, d.ID, d.Label)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("writing patient details: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing patient: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": patient.ID,
		"features":   len(patient.Features),
		"disorders":  len(patient.Disorders),
	}).Info("Patient saved")

	return nil
}

// SaveGenotype stores an Exomiser variant file for an existing patient after
// checking that it parses
func (r *PatientRepository) SaveGenotype(ctx context.Context, patientID, content string) error {
	if _, err := exomiser.Parse(strings.NewReader(content)); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO patient_genotypes (patient_id, content, updated_at)
		SELECT id, $2, NOW() FROM patients WHERE id = $1
		ON CONFLICT (patient_id) DO UPDATE SET
			content = EXCLUDED.content,
			updated_at = NOW()`,
		patientID, content)
	if err != nil {
		return fmt.Errorf("saving genotype: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", patientID, domain.ErrNotFound)
	}
	return nil
}

// DeletePatient removes a patient and, through cascading keys, its details
func (r *PatientRepository) DeletePatient(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to delete patient")
		return fmt.Errorf("deleting patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("patient_id", id).Info("Patient deleted")
	return nil
}

// ListPatientIDs returns every stored patient ID in ascending order
func (r *PatientRepository) ListPatientIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM patients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting patient IDs: %w", err)
	}
	return ids, nil
}
