package ontology

import (
	"context"
	"fmt"
	"sync"

	"github.com/phenotype-similarity-server/internal/domain"
)

// MemorySource is an OntologySource over a fixed slice of terms. It backs the
// file based loaders and tests.
type MemorySource struct {
	name  string
	mu    sync.RWMutex
	terms []*domain.Term
	byID  map[string]*domain.Term
	err   error
}

// NewMemorySource creates a source serving the given terms
func NewMemorySource(name string, terms []*domain.Term) *MemorySource {
	s := &MemorySource{name: name}
	s.Replace(terms)
	return s
}

// Replace swaps the served terms
func (s *MemorySource) Replace(terms []*domain.Term) {
	byID := make(map[string]*domain.Term, len(terms))
	for _, t := range terms {
		byID[t.ID] = t
		for _, alt := range t.AltIDs {
			if _, taken := byID[alt]; !taken {
				byID[alt] = t
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms = terms
	s.byID = byID
}

// SetError makes every subsequent call fail with err; nil restores service
func (s *MemorySource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Name implements domain.OntologySource
func (s *MemorySource) Name() string {
	return s.name
}

// Size implements domain.OntologySource
func (s *MemorySource) Size(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return 0, s.err
	}
	return len(s.terms), nil
}

// EnumerateAllTerms implements domain.OntologySource
func (s *MemorySource) EnumerateAllTerms(_ context.Context) ([]*domain.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*domain.Term, len(s.terms))
	copy(out, s.terms)
	return out, nil
}

// GetTerm implements domain.OntologySource
func (s *MemorySource) GetTerm(_ context.Context, id string) (*domain.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("term %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// GetParents implements domain.OntologySource. Parent IDs that do not
// resolve are skipped.
func (s *MemorySource) GetParents(_ context.Context, term *domain.Term) ([]*domain.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	parents := make([]*domain.Term, 0, len(term.ParentIDs))
	for _, id := range term.ParentIDs {
		if p, ok := s.byID[id]; ok {
			parents = append(parents, p)
		}
	}
	return parents, nil
}
