package obo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/phenotype-similarity-server/internal/domain"
)

const (
	aspectPhenotype = "P"
	qualifierNot    = "NOT"
)

// default column order of phenotype.hpoa
var hpoaColumns = []string{
	"database_id", "disease_name", "qualifier", "hpo_id", "reference",
	"evidence", "onset", "frequency", "sex", "modifier", "aspect", "biocuration",
}

// ParseAnnotations groups a phenotype.hpoa file into one record per disease
// whose symptomField annotation lists the annotated HPO terms in file order.
// Negated annotations and non-phenotypic aspects are skipped. When databases
// is non-empty only diseases from those sources (e.g. "OMIM") are kept.
func ParseAnnotations(r io.Reader, symptomField string, databases ...string) ([]*domain.Term, error) {
	if symptomField == "" {
		symptomField = domain.SymptomField
	}
	allowed := make(map[string]bool, len(databases))
	for _, db := range databases {
		allowed[strings.ToUpper(db)] = true
	}

	index := columnIndex(hpoaColumns)
	byID := make(map[string]*domain.Term)
	var order []*domain.Term

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		first := strings.ToLower(strings.TrimPrefix(fields[0], "#"))
		if first == "database_id" || first == "databaseid" {
			index = columnIndex(normalizeColumns(fields))
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		diseaseID := field(fields, index, "database_id")
		hpoID := field(fields, index, "hpo_id")
		if diseaseID == "" || hpoID == "" {
			return nil, fmt.Errorf("hpoa line %d: %w: disease and HPO IDs are required", lineNo, domain.ErrMalformedRecord)
		}
		if strings.EqualFold(field(fields, index, "qualifier"), qualifierNot) {
			continue
		}
		if aspect := field(fields, index, "aspect"); aspect != "" && aspect != aspectPhenotype {
			continue
		}
		if len(allowed) > 0 {
			db, _, _ := strings.Cut(diseaseID, ":")
			if !allowed[strings.ToUpper(db)] {
				continue
			}
		}

		disease, ok := byID[diseaseID]
		if !ok {
			disease = &domain.Term{
				ID:          diseaseID,
				Name:        field(fields, index, "disease_name"),
				Annotations: map[string]any{symptomField: []any{}},
			}
			byID[diseaseID] = disease
			order = append(order, disease)
		}
		disease.Annotations[symptomField] = append(disease.Annotations[symptomField].([]any), hpoID)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading hpoa: %w", err)
	}

	return order, nil
}

// ParseAnnotationsFile reads a phenotype.hpoa file from disk
func ParseAnnotationsFile(path, symptomField string, databases ...string) ([]*domain.Term, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hpoa file: %w", err)
	}
	defer f.Close()
	return ParseAnnotations(f, symptomField, databases...)
}

func normalizeColumns(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "#"))
		switch f {
		case "databaseid":
			f = "database_id"
		case "diseasename":
			f = "disease_name"
		case "hpo_id", "hpoid":
			f = "hpo_id"
		}
		out[i] = f
	}
	return out
}

func columnIndex(columns []string) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return idx
}

func field(fields []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}
