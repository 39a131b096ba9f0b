package ontology

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/pkg/obo"
)

// ParseFunc decodes a vocabulary file into terms
type ParseFunc func(r io.Reader) ([]*domain.Term, error)

// FileSource serves a vocabulary file. Every enumeration re-reads the file,
// so a model reload picks up a replaced file. Lookups are answered from the
// last successful read.
type FileSource struct {
	path   string
	parse  ParseFunc
	logger *logrus.Logger

	mu     sync.Mutex
	loaded bool
	mem    *MemorySource
}

var _ domain.OntologySource = (*FileSource)(nil)

// NewFileSource creates a source reading path with parse
func NewFileSource(name, path string, parse ParseFunc, logger *logrus.Logger) *FileSource {
	return &FileSource{
		path:   path,
		parse:  parse,
		logger: logger,
		mem:    NewMemorySource(name, nil),
	}
}

// NewOBOFileSource serves an ontology in OBO format
func NewOBOFileSource(name, path string, logger *logrus.Logger) *FileSource {
	return NewFileSource(name, path, obo.ParseTerms, logger)
}

// NewAnnotationFileSource serves the diseases of a phenotype.hpoa file, keeping
// only the named databases when any are given
func NewAnnotationFileSource(name, path, symptomField string, logger *logrus.Logger, databases ...string) *FileSource {
	parse := func(r io.Reader) ([]*domain.Term, error) {
		return obo.ParseAnnotations(r, symptomField, databases...)
	}
	return NewFileSource(name, path, parse, logger)
}

// Name implements domain.OntologySource
func (s *FileSource) Name() string {
	return s.mem.Name()
}

// Path returns the file being served
func (s *FileSource) Path() string {
	return s.path
}

// Size implements domain.OntologySource
func (s *FileSource) Size(ctx context.Context) (int, error) {
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return s.mem.Size(ctx)
}

// EnumerateAllTerms implements domain.OntologySource
func (s *FileSource) EnumerateAllTerms(ctx context.Context) ([]*domain.Term, error) {
	s.mu.Lock()
	err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.mem.EnumerateAllTerms(ctx)
}

// GetTerm implements domain.OntologySource
func (s *FileSource) GetTerm(ctx context.Context, id string) (*domain.Term, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.mem.GetTerm(ctx, id)
}

// GetParents implements domain.OntologySource
func (s *FileSource) GetParents(ctx context.Context, term *domain.Term) ([]*domain.Term, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.mem.GetParents(ctx, term)
}

func (s *FileSource) ensureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	return s.load()
}

// load must be called with mu held
func (s *FileSource) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", s.mem.Name(), domain.ErrSourceUnavailable, err)
	}
	defer f.Close()

	terms, err := s.parse(f)
	if err != nil {
		return fmt.Errorf("%s: parsing %s: %w", s.mem.Name(), s.path, err)
	}
	s.mem.Replace(terms)
	s.loaded = true

	s.logger.WithFields(logrus.Fields{
		"source": s.mem.Name(),
		"path":   s.path,
		"terms":  len(terms),
	}).Info("Loaded vocabulary file")
	return nil
}
