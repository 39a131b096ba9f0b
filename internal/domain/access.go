package domain

import (
	"fmt"
	"strings"
)

// AccessLevel is a named, ranked permission a viewer holds on a patient
type AccessLevel struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// Known access levels, ordered by rank
var (
	AccessNone  = AccessLevel{Name: "none", Rank: 0}
	AccessMatch = AccessLevel{Name: "match", Rank: 10}
	AccessView  = AccessLevel{Name: "view", Rank: 20}
	AccessEdit  = AccessLevel{Name: "edit", Rank: 30}
	AccessOwner = AccessLevel{Name: "owner", Rank: 100}
)

var accessLevels = map[string]AccessLevel{
	AccessNone.Name:  AccessNone,
	AccessMatch.Name: AccessMatch,
	AccessView.Name:  AccessView,
	AccessEdit.Name:  AccessEdit,
	AccessOwner.Name: AccessOwner,
}

// AccessDecision is the opaque result of an access-policy check
type AccessDecision interface {
	LevelName() string
	HasAccess(level AccessLevel) bool
}

// ParseAccessLevel resolves an access level by name
func ParseAccessLevel(name string) (AccessLevel, error) {
	level, ok := accessLevels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return AccessLevel{}, fmt.Errorf("unknown access level %q: %w", name, ErrInvalidArgument)
	}
	return level, nil
}

// LevelName implements AccessDecision
func (l AccessLevel) LevelName() string {
	return l.Name
}

// HasAccess implements AccessDecision
func (l AccessLevel) HasAccess(other AccessLevel) bool {
	return l.Rank >= other.Rank
}

func (l AccessLevel) String() string {
	return l.Name
}
