package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenotype-similarity-server/internal/domain"
)

const phenoTipsExport = `{
  "id": "P0000002",
  "external_id": "CASE-2",
  "visibility": "Public",
  "features": [
    {"id": "HP:0001250", "label": "Seizure", "type": "phenotype", "observed": "yes"},
    {"id": "HP:0000252", "label": "Microcephaly", "type": "phenotype", "observed": "no"}
  ],
  "prenatal_perinatal_phenotype": {
    "prenatal_phenotype": [
      {"id": "HP:0001511", "label": "IUGR", "type": "phenotype", "observed": "yes"}
    ]
  },
  "disorders": [{"id": "MIM:136140", "label": "Floating-Harbor syndrome"}]
}`

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestFilePatientSource_GetPatient(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "P0000002.json", phenoTipsExport)
	writeFixture(t, dir, "P0000002.variants.tsv", variantTSV)

	source := NewFilePatientSource(dir, logrus.New())
	p, err := source.GetPatient(context.Background(), "P0000002")
	require.NoError(t, err)

	assert.Equal(t, "CASE-2", p.ExternalID)
	assert.Equal(t, domain.VisibilityPublic, p.Visibility)
	require.Len(t, p.Features, 3)
	assert.Equal(t, domain.FeatureTypePrenatalPhenotype, p.Features[2].Type)
	assert.False(t, p.Features[1].Observed)
	assert.Equal(t, []string{"HP:0001250", "HP:0001511"}, p.ObservedPhenotypes())
	assert.Equal(t, []domain.Disorder{{ID: "MIM:136140", Label: "Floating-Harbor syndrome"}}, p.Disorders)

	require.NotNil(t, p.Genotype)
	score, ok := p.Genotype.GeneScore("NOTCH2")
	require.True(t, ok)
	assert.InDelta(t, 0.9609373, score, 1e-9)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestFilePatientSource_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "broken.json", "{not json")
	writeFixture(t, dir, "badvis.json", `{"id": "badvis", "visibility": "secret"}`)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	source := NewFilePatientSource(dir, logger)

	tests := []struct {
		name string
		id   string
		want error
	}{
		{"missing", "P9", domain.ErrNotFound},
		{"invalid json", "broken", domain.ErrMalformedRecord},
		{"invalid visibility", "badvis", domain.ErrMalformedRecord},
		{"path traversal", "../etc/passwd", domain.ErrInvalidArgument},
		{"empty", "", domain.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.GetPatient(context.Background(), tt.id)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFilePatientSource_BadVariantsIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "P1.json", `{"features": [{"id": "HP:0001250", "type": "phenotype", "observed": "yes"}]}`)
	writeFixture(t, dir, "P1.variants.tsv", "garbage\n")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	p, err := NewFilePatientSource(dir, logger).GetPatient(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", p.ID)
	assert.Nil(t, p.Genotype)
}

func TestFilePatientSource_MalformedVariantLineSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "P1.json", `{"features": [{"id": "HP:0001250", "type": "phenotype", "observed": "yes"}]}`)
	writeFixture(t, dir, "P1.variants.tsv", variantTSV+"chr2\tNA\tA\tG\n")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	p, err := NewFilePatientSource(dir, logger).GetPatient(context.Background(), "P1")
	require.NoError(t, err)
	require.NotNil(t, p.Genotype)
	_, ok := p.Genotype.GeneScore("NOTCH2")
	assert.True(t, ok)
}

func TestFilePatientSource_ListPatientIDs(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "P2.json", "{}")
	writeFixture(t, dir, "P1.json", "{}")
	writeFixture(t, dir, "P1.variants.tsv", variantTSV)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o700))

	ids, err := NewFilePatientSource(dir, logrus.New()).ListPatientIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, ids)

	_, err = NewFilePatientSource(filepath.Join(dir, "absent"), logrus.New()).ListPatientIDs(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}
