// Package ontology indexes an ontology's terms and parent/child edges and
// computes descendant closures over the resulting DAG.
package ontology

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
)

// Index is an immutable in-memory view of every term in one ontology together
// with the parent to children edges
type Index struct {
	name     string
	terms    map[string]*domain.Term
	altIDs   map[string]string
	parents  map[string][]string
	children map[string][]string
}

// LoadAll enumerates the whole source and builds the index. Parent IDs are
// resolved against the enumerated terms; the source is only asked for
// parents outside that set. Enumeration failures are reported as
// ErrSourceUnavailable and annotation values of an unsupported shape as
// ErrMalformedRecord.
func LoadAll(ctx context.Context, source domain.OntologySource, logger *logrus.Logger) (*Index, error) {
	expected, err := source.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("sizing ontology %s: %v: %w", source.Name(), err, domain.ErrSourceUnavailable)
	}

	terms, err := source.EnumerateAllTerms(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedRecord) {
			return nil, fmt.Errorf("enumerating ontology %s: %w", source.Name(), err)
		}
		return nil, fmt.Errorf("enumerating ontology %s: %v: %w", source.Name(), err, domain.ErrSourceUnavailable)
	}

	if len(terms) != expected {
		logger.WithFields(logrus.Fields{
			"ontology": source.Name(),
			"reported": expected,
			"returned": len(terms),
		}).Warn("Ontology enumeration size differs from reported size")
	}

	known := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		known[term.ID] = struct{}{}
		for _, alt := range term.AltIDs {
			known[alt] = struct{}{}
		}
	}

	linked := make([]*domain.Term, 0, len(terms))
	lookups := 0
	for _, term := range terms {
		if err := term.Validate(); err != nil {
			return nil, err
		}
		ids, missing := splitParents(term.ParentIDs, known)
		if len(missing) > 0 {
			lookups++
			query := *term
			query.ParentIDs = missing
			parents, err := source.GetParents(ctx, &query)
			if err != nil {
				return nil, fmt.Errorf("resolving parents of %s: %v: %w", term.ID, err, domain.ErrSourceUnavailable)
			}
			for _, p := range parents {
				ids = append(ids, p.ID)
			}
		}
		copied := *term
		copied.ParentIDs = ids
		linked = append(linked, &copied)
	}

	idx := NewIndex(source.Name(), linked)

	logger.WithFields(logrus.Fields{
		"ontology": source.Name(),
		"terms":    idx.Size(),
		"alt_ids":  len(idx.altIDs),
		"lookups":  lookups,
	}).Info("Ontology index loaded")

	return idx, nil
}

// splitParents separates parent IDs found among the enumerated terms from
// those the source has to resolve
func splitParents(parentIDs []string, known map[string]struct{}) (resolved, missing []string) {
	resolved = make([]string, 0, len(parentIDs))
	for _, id := range parentIDs {
		if _, ok := known[id]; ok {
			resolved = append(resolved, id)
		} else {
			missing = append(missing, id)
		}
	}
	return resolved, missing
}

// NewIndex builds an index from already enumerated terms, using each term's
// ParentIDs as its edges. A later term with the same ID replaces an earlier one.
func NewIndex(name string, terms []*domain.Term) *Index {
	idx := &Index{
		name:     name,
		terms:    make(map[string]*domain.Term, len(terms)),
		altIDs:   make(map[string]string),
		parents:  make(map[string][]string, len(terms)),
		children: make(map[string][]string, len(terms)),
	}

	for _, term := range terms {
		idx.terms[term.ID] = term
		for _, alt := range term.AltIDs {
			idx.altIDs[alt] = term.ID
		}
	}

	for id, term := range idx.terms {
		seen := make(map[string]struct{}, len(term.ParentIDs))
		for _, parentID := range term.ParentIDs {
			parentID = idx.primaryID(parentID)
			if _, dup := seen[parentID]; dup || parentID == id {
				continue
			}
			seen[parentID] = struct{}{}
			idx.parents[id] = append(idx.parents[id], parentID)
			idx.children[parentID] = append(idx.children[parentID], id)
		}
	}

	// map iteration above is unordered; keep children deterministic
	for id := range idx.children {
		sort.Strings(idx.children[id])
	}

	return idx
}

func (i *Index) primaryID(id string) string {
	if primary, ok := i.altIDs[id]; ok {
		if _, isTerm := i.terms[id]; !isTerm {
			return primary
		}
	}
	return id
}

// Name returns the ontology name
func (i *Index) Name() string {
	return i.name
}

// Size returns the number of indexed terms
func (i *Index) Size() int {
	return len(i.terms)
}

// Resolve looks a term up by its primary or an alternate ID
func (i *Index) Resolve(id string) (*domain.Term, bool) {
	term, ok := i.terms[i.primaryID(id)]
	return term, ok
}

// Contains reports whether id is a primary term ID of the index
func (i *Index) Contains(id string) bool {
	_, ok := i.terms[id]
	return ok
}

// Children returns the IDs of the terms declaring id as a parent
func (i *Index) Children(id string) []string {
	return i.children[id]
}

// Parents returns the parent IDs of a term
func (i *Index) Parents(id string) []string {
	return i.parents[id]
}

// Terms returns all indexed terms sorted by ID
func (i *Index) Terms() []*domain.Term {
	out := make([]*domain.Term, 0, len(i.terms))
	for _, t := range i.terms {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
