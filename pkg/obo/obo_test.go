package obo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenotype-similarity-server/internal/domain"
)

const testOBO = `format-version: 1.2
data-version: hp/releases/2024-01-01
ontology: hp

[Term]
id: HP:0000001
name: All

[Term]
id: HP:0000118
name: Phenotypic abnormality
def: "A phenotypic abnormality." [HPO:probinson]
is_a: HP:0000001 ! All

[Term]
id: HP:0000707
name: Abnormality of the nervous system
alt_id: HP:0001333
synonym: "Neurological abnormality" EXACT []
is_a: HP:0000118 ! Phenotypic abnormality

[Term]
id: HP:0000003
name: Obsolete thing
is_obsolete: true
is_a: HP:0000118

[Typedef]
id: part_of
name: part of
`

func TestParseTerms(t *testing.T) {
	terms, err := ParseTerms(strings.NewReader(testOBO))
	require.NoError(t, err)
	require.Len(t, terms, 3)

	assert.Equal(t, "HP:0000001", terms[0].ID)
	assert.Empty(t, terms[0].ParentIDs)

	root := terms[1]
	assert.Equal(t, "Phenotypic abnormality", root.Name)
	assert.Equal(t, []string{"HP:0000001"}, root.ParentIDs)
	assert.Equal(t, []any{`"A phenotypic abnormality." [HPO:probinson]`}, root.Annotations["def"])

	nervous := terms[2]
	assert.Equal(t, []string{"HP:0001333"}, nervous.AltIDs)
	assert.Equal(t, []string{"HP:0000118"}, nervous.ParentIDs)
	assert.NoError(t, nervous.Validate())
}

func TestParseTerms_Malformed(t *testing.T) {
	_, err := ParseTerms(strings.NewReader("[Term]\nid: HP:1\nthis line has no tag\n"))
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
}

func TestStripTrailingComment(t *testing.T) {
	assert.Equal(t, "HP:0000118", stripTrailingComment("HP:0000118 ! Phenotypic abnormality"))
	assert.Equal(t, `"wow! really" EXACT []`, stripTrailingComment(`"wow! really" EXACT []`))
	assert.Equal(t, "plain", stripTrailingComment("plain"))
}

const testHPOA = "#description: \"HPO annotations for rare diseases\"\n" +
	"#date: 2024-01-01\n" +
	"database_id\tdisease_name\tqualifier\thpo_id\treference\tevidence\tonset\tfrequency\tsex\tmodifier\taspect\tbiocuration\n" +
	"OMIM:100100\tPrune belly syndrome\t\tHP:0000707\tOMIM:100100\tIEA\t\t\t\t\tP\tHPO:iea\n" +
	"OMIM:100100\tPrune belly syndrome\tNOT\tHP:0000118\tOMIM:100100\tIEA\t\t\t\t\tP\tHPO:iea\n" +
	"OMIM:100100\tPrune belly syndrome\t\tHP:0000006\tOMIM:100100\tIEA\t\t\t\t\tI\tHPO:iea\n" +
	"ORPHA:1\tSomething rare\t\tHP:0000707\tORPHA:1\tTAS\t\t\t\t\tP\tHPO:iea\n" +
	"OMIM:200200\tOther\t\tHP:0001333\tOMIM:200200\tTAS\t\t\t\t\tP\tHPO:iea\n" +
	"OMIM:100100\tPrune belly syndrome\t\tHP:0001333\tOMIM:100100\tIEA\t\t\t\t\tP\tHPO:iea\n"

func TestParseAnnotations(t *testing.T) {
	diseases, err := ParseAnnotations(strings.NewReader(testHPOA), "", "OMIM")
	require.NoError(t, err)
	require.Len(t, diseases, 2)

	first := diseases[0]
	assert.Equal(t, "OMIM:100100", first.ID)
	assert.Equal(t, "Prune belly syndrome", first.Name)
	symptoms, ok, err := first.StringList(domain.SymptomField)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"HP:0000707", "HP:0001333"}, symptoms)

	all, err := ParseAnnotations(strings.NewReader(testHPOA), "symptoms")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Contains(t, all[0].Annotations, "symptoms")
}

func TestParseAnnotations_Malformed(t *testing.T) {
	_, err := ParseAnnotations(strings.NewReader("OMIM:1\tname\t\t\n"), "")
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
}

func TestParseFiles(t *testing.T) {
	dir := t.TempDir()
	oboPath := filepath.Join(dir, "hp.obo")
	hpoaPath := filepath.Join(dir, "phenotype.hpoa")
	require.NoError(t, os.WriteFile(oboPath, []byte(testOBO), 0o600))
	require.NoError(t, os.WriteFile(hpoaPath, []byte(testHPOA), 0o600))

	terms, err := ParseTermsFile(oboPath)
	require.NoError(t, err)
	assert.Len(t, terms, 3)

	diseases, err := ParseAnnotationsFile(hpoaPath, "", "OMIM")
	require.NoError(t, err)
	assert.Len(t, diseases, 2)
}
