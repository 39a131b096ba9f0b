package similarity

import (
	"context"
	"fmt"

	"github.com/phenotype-similarity-server/internal/domain"
)

// AccessType classifies a viewer's access decision against the configured
// view and match thresholds
type AccessType struct {
	decision domain.AccessDecision
	view     domain.AccessLevel
	match    domain.AccessLevel
}

// NewAccessType creates an access type for a decision
func NewAccessType(decision domain.AccessDecision, view, match domain.AccessLevel) AccessType {
	return AccessType{decision: decision, view: view, match: match}
}

// LevelName returns the decision's level name
func (a AccessType) LevelName() string {
	return a.decision.LevelName()
}

// IsOpenAccess reports whether the viewer may see everything
func (a AccessType) IsOpenAccess() bool {
	return a.decision.HasAccess(a.view)
}

// IsLimitedAccess reports whether the viewer may see scores and shared data only
func (a AccessType) IsLimitedAccess() bool {
	return !a.IsOpenAccess() && a.decision.HasAccess(a.match)
}

// IsPrivateAccess reports whether the viewer may see the overall score only
func (a AccessType) IsPrivateAccess() bool {
	return !a.decision.HasAccess(a.match)
}

// Exposure maps the access type onto an exposure
func (a AccessType) Exposure() domain.Exposure {
	switch {
	case a.IsOpenAccess():
		return domain.ExposureOpen
	case a.IsLimitedAccess():
		return domain.ExposureLimited
	default:
		return domain.ExposurePrivate
	}
}

// VisibilityPolicy grants access according to the visibility a patient
// record carries: public records are viewable, matchable records can be
// matched and private ones grant nothing
type VisibilityPolicy struct {
	Public    domain.AccessLevel
	Matchable domain.AccessLevel
	Private   domain.AccessLevel
}

// DefaultVisibilityPolicy maps public to view, matchable to match and private to none
func DefaultVisibilityPolicy() *VisibilityPolicy {
	return &VisibilityPolicy{
		Public:    domain.AccessView,
		Matchable: domain.AccessMatch,
		Private:   domain.AccessNone,
	}
}

// PatientAccess implements domain.AccessPolicy
func (p *VisibilityPolicy) PatientAccess(_ context.Context, patient *domain.Patient) (domain.AccessDecision, error) {
	if patient == nil {
		return nil, fmt.Errorf("access check: %w: patient is required", domain.ErrInvalidArgument)
	}
	switch patient.Visibility {
	case domain.VisibilityPublic:
		return p.Public, nil
	case domain.VisibilityMatchable, "":
		return p.Matchable, nil
	case domain.VisibilityPrivate:
		return p.Private, nil
	default:
		return nil, fmt.Errorf("access check: %w: unknown visibility %q", domain.ErrInvalidArgument, patient.Visibility)
	}
}
