package ontology

import (
	"fmt"
	"sort"

	"github.com/phenotype-similarity-server/internal/domain"
)

// TermSet is a set of term IDs
type TermSet map[string]struct{}

// Contains reports set membership
func (s TermSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order
func (s TermSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DescendantMap maps every term reachable from a root to its descendants,
// the term itself included
type DescendantMap map[string]TermSet

// Descendants returns the descendant set of id. The boolean is false when id
// was not reachable from the root the map was built from.
func (d DescendantMap) Descendants(id string) (TermSet, bool) {
	set, ok := d[id]
	return set, ok
}

// Universe returns the set of every term present in the map
func (d DescendantMap) Universe() TermSet {
	out := make(TermSet, len(d))
	for id := range d {
		out[id] = struct{}{}
	}
	return out
}

// Ancestors inverts the map: every term gets the set of terms whose
// descendants contain it, itself included
func (d DescendantMap) Ancestors() map[string]TermSet {
	out := make(map[string]TermSet, len(d))
	for ancestor, descendants := range d {
		for id := range descendants {
			set, ok := out[id]
			if !ok {
				set = make(TermSet)
				out[id] = set
			}
			set[ancestor] = struct{}{}
		}
	}
	return out
}

type visitState uint8

const (
	unvisited visitState = iota
	inProgress
	done
)

// BuildDescendants computes the descendant closure of every term reachable
// from rootID by a memoized depth-first post-order walk over the children
// edges. A cycle yields ErrCyclicGraph and a root missing from the index
// yields ErrInconsistentIndex.
func BuildDescendants(rootID string, idx *Index) (DescendantMap, error) {
	if !idx.Contains(rootID) {
		return nil, fmt.Errorf("root %s not in ontology %s: %w", rootID, idx.Name(), domain.ErrInconsistentIndex)
	}

	b := &closureBuilder{
		idx:   idx,
		state: make(map[string]visitState, idx.Size()),
		memo:  make(DescendantMap, idx.Size()),
	}
	if err := b.visit(rootID, nil); err != nil {
		return nil, err
	}
	return b.memo, nil
}

type closureBuilder struct {
	idx   *Index
	state map[string]visitState
	memo  DescendantMap
}

func (b *closureBuilder) visit(id string, path []string) error {
	switch b.state[id] {
	case done:
		return nil
	case inProgress:
		return fmt.Errorf("term %s reached again via %v: %w", id, path, domain.ErrCyclicGraph)
	}

	b.state[id] = inProgress
	set := TermSet{id: {}}
	for _, child := range b.idx.Children(id) {
		if err := b.visit(child, append(path, id)); err != nil {
			return err
		}
		for d := range b.memo[child] {
			set[d] = struct{}{}
		}
	}
	b.memo[id] = set
	b.state[id] = done
	return nil
}
