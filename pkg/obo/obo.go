// Package obo reads ontology files in the OBO 1.2 flat format and HPO
// phenotype annotation (.hpoa) files.
package obo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/phenotype-similarity-server/internal/domain"
)

// ParseTerms reads every [Term] stanza. Obsolete terms are skipped; other
// stanza types such as [Typedef] are ignored. Recognized tags are id, name,
// alt_id, is_a, def, synonym and xref; the last three land in the annotations.
func ParseTerms(r io.Reader) ([]*domain.Term, error) {
	var (
		terms    []*domain.Term
		current  *domain.Term
		inTerm   bool
		obsolete bool
	)

	flush := func() {
		if inTerm && current != nil && current.ID != "" && !obsolete {
			terms = append(terms, current)
		}
		current, inTerm, obsolete = nil, false, false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			flush()
			if line == "[Term]" {
				inTerm = true
				current = &domain.Term{}
			}
			continue
		}
		if !inTerm {
			continue
		}

		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("obo line %d: %w: expected tag: value", lineNo, domain.ErrMalformedRecord)
		}
		value = stripTrailingComment(strings.TrimSpace(value))

		switch tag {
		case "id":
			current.ID = value
		case "name":
			current.Name = value
		case "alt_id":
			current.AltIDs = append(current.AltIDs, value)
		case "is_a":
			parent, _, _ := strings.Cut(value, " ")
			current.ParentIDs = append(current.ParentIDs, parent)
		case "is_obsolete":
			obsolete = value == "true"
		case "def", "synonym", "xref":
			appendAnnotation(current, tag, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading obo: %w", err)
	}
	flush()

	return terms, nil
}

// ParseTermsFile reads an OBO file from disk
func ParseTermsFile(path string) ([]*domain.Term, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening obo file: %w", err)
	}
	defer f.Close()
	return ParseTerms(f)
}

// stripTrailingComment drops a " ! comment" tail outside quoted text
func stripTrailingComment(value string) string {
	inQuote := false
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '\\':
			i++
		case '"':
			inQuote = !inQuote
		case '!':
			if !inQuote && i > 0 && value[i-1] == ' ' {
				return strings.TrimSpace(value[:i])
			}
		}
	}
	return value
}

func appendAnnotation(t *domain.Term, tag, value string) {
	if t.Annotations == nil {
		t.Annotations = make(map[string]any)
	}
	list, _ := t.Annotations[tag].([]any)
	t.Annotations[tag] = append(list, value)
}
