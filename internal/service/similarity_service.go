package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/cache"
	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/events"
	"github.com/phenotype-similarity-server/internal/infocontent"
	"github.com/phenotype-similarity-server/internal/similarity"
)

// ModelProvider owns the information content model lifecycle
type ModelProvider interface {
	Current() (*infocontent.Model, error)
	Ready() bool
	Initialize(ctx context.Context) (*infocontent.Model, error)
	Reload(ctx context.Context) (*infocontent.Model, error)
}

// EventPublisher broadcasts invalidations to the other replicas
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// SimilarityService is the entry point used by the HTTP and MCP surfaces
type SimilarityService struct {
	models    ModelProvider
	factory   *similarity.Factory
	patients  domain.PatientDataSource
	policy    domain.AccessPolicy
	publisher EventPublisher
	logger    *logrus.Logger
}

var _ events.Target = (*SimilarityService)(nil)

// ModelStatus describes the published model and the cache in front of it
type ModelStatus struct {
	Ready     bool                        `json:"ready"`
	ModelID   string                      `json:"model_id,omitempty"`
	RootID    string                      `json:"root_id,omitempty"`
	BuiltAt   *time.Time                  `json:"built_at,omitempty"`
	RootMass  float64                     `json:"root_mass,omitempty"`
	ICTerms   int                         `json:"ic_terms"`
	Frequency *infocontent.FrequencyStats `json:"frequency,omitempty"`
	Cache     cache.Stats                 `json:"cache"`
}

// AncestorInfo is an IC-carrying ancestor of a term
type AncestorInfo struct {
	ID string  `json:"id"`
	IC float64 `json:"ic"`
}

// TermInfo reports what the model knows about one phenotype term
type TermInfo struct {
	ID        string         `json:"id"`
	Canonical string         `json:"canonical_id"`
	IC        *float64       `json:"ic"`
	Ancestors []AncestorInfo `json:"ancestors"`
	ModelID   string         `json:"model_id"`
}

// NewSimilarityService wires the service. A nil publisher keeps invalidations local.
func NewSimilarityService(
	logger *logrus.Logger,
	models ModelProvider,
	factory *similarity.Factory,
	patients domain.PatientDataSource,
	policy domain.AccessPolicy,
	publisher EventPublisher,
) *SimilarityService {
	if policy == nil {
		policy = similarity.DefaultVisibilityPolicy()
	}
	return &SimilarityService{
		models:    models,
		factory:   factory,
		patients:  patients,
		policy:    policy,
		publisher: publisher,
		logger:    logger,
	}
}

// InitializeModel builds the model if no model is published yet. Concurrent
// callers wait for the same build.
func (s *SimilarityService) InitializeModel(ctx context.Context) error {
	startTime := time.Now()
	model, err := s.models.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initializing model: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"model_id": model.ID(),
		"ic_terms": model.Size(),
		"duration": time.Since(startTime),
	}).Info("Similarity model ready")
	return nil
}

// ComputeSimilarity compares the match patient against the reference patient
// with the access the policy grants on the match patient, whose data is what
// the result discloses
func (s *SimilarityService) ComputeSimilarity(ctx context.Context, matchID, referenceID string) (*domain.SimilarityResult, error) {
	if err := validatePatientID("match_id", matchID); err != nil {
		return nil, err
	}
	if err := validatePatientID("reference_id", referenceID); err != nil {
		return nil, err
	}

	match, reference, err := s.resolvePair(ctx, matchID, referenceID)
	if err != nil {
		return nil, err
	}

	access, err := s.policy.PatientAccess(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("resolving access to %s: %w", matchID, err)
	}

	result, err := s.factory.Compute(ctx, match, reference, access)
	if err != nil {
		return nil, fmt.Errorf("computing similarity %s/%s: %w", matchID, referenceID, err)
	}
	return result, nil
}

// RederiveView recomputes an existing result for another access level. The
// requested level is capped at what the policy grants on the match patient;
// an empty level uses the granted access.
func (s *SimilarityService) RederiveView(ctx context.Context, view *domain.SimilarityResult, accessLevel string) (*domain.SimilarityResult, error) {
	if view == nil || view.MatchID == "" {
		return nil, domain.NewValidationError("match_id", "result does not identify the match patient", "")
	}
	var requested *domain.AccessLevel
	if strings.TrimSpace(accessLevel) != "" {
		level, err := domain.ParseAccessLevel(accessLevel)
		if err != nil {
			return nil, domain.NewValidationError("access_level", "unknown access level", accessLevel)
		}
		requested = &level
	}
	if s.patients == nil {
		return nil, fmt.Errorf("resolving patients: %w: no patient source configured", domain.ErrSourceUnavailable)
	}

	match, err := s.patients.GetPatient(ctx, view.MatchID)
	if err != nil {
		return nil, fmt.Errorf("resolving match patient %s: %w", view.MatchID, err)
	}
	granted, err := s.policy.PatientAccess(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("resolving access to %s: %w", view.MatchID, err)
	}

	access := granted
	if requested != nil && granted.HasAccess(*requested) {
		access = *requested
	}
	if requested != nil && access.LevelName() != requested.Name {
		s.logger.WithFields(logrus.Fields{
			"match_id":  view.MatchID,
			"requested": requested.Name,
			"granted":   granted.LevelName(),
		}).Debug("Requested access capped by policy")
	}

	result, err := s.factory.Convert(ctx, view, access)
	if err != nil {
		return nil, fmt.Errorf("rederiving similarity: %w", err)
	}
	return result, nil
}

// InvalidatePatient drops every cached result involving the patient
func (s *SimilarityService) InvalidatePatient(ctx context.Context, patientID string) error {
	if err := validatePatientID("patient_id", patientID); err != nil {
		return err
	}
	if store := s.factory.Store(); store != nil {
		store.Invalidate(ctx, patientID)
	}
	s.logger.WithField("patient_id", patientID).Info("Invalidated cached similarities")
	return nil
}

// ClearAll empties the result cache
func (s *SimilarityService) ClearAll(ctx context.Context) error {
	if store := s.factory.Store(); store != nil {
		store.Clear(ctx)
	}
	s.logger.Info("Cleared similarity cache")
	return nil
}

// ReloadModel rebuilds the model and, once the new model is published,
// clears the results computed with the old one
func (s *SimilarityService) ReloadModel(ctx context.Context) error {
	model, err := s.models.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reloading model: %w", err)
	}
	if err := s.ClearAll(ctx); err != nil {
		return err
	}
	s.logger.WithField("model_id", model.ID()).Info("Similarity model reloaded")
	return nil
}

// PatientChanged invalidates the patient locally and broadcasts the change
func (s *SimilarityService) PatientChanged(ctx context.Context, patientID string, deleted bool) error {
	if err := s.InvalidatePatient(ctx, patientID); err != nil {
		return err
	}
	eventType := events.PatientUpdated
	if deleted {
		eventType = events.PatientDeleted
	}
	s.broadcast(ctx, events.Event{Type: eventType, PatientID: patientID})
	return nil
}

// ClearAllReplicas clears the local cache and asks the other replicas to do the same
func (s *SimilarityService) ClearAllReplicas(ctx context.Context) error {
	if err := s.ClearAll(ctx); err != nil {
		return err
	}
	s.broadcast(ctx, events.Event{Type: events.CacheCleared})
	return nil
}

// ModelStatus reports the published model, if any, and cache statistics
func (s *SimilarityService) ModelStatus(ctx context.Context) ModelStatus {
	status := ModelStatus{Cache: cache.Stats{Backend: cache.BackendNone}}
	if store := s.factory.Store(); store != nil {
		status.Cache = store.Stats(ctx)
	}

	model, err := s.models.Current()
	if err != nil {
		return status
	}
	builtAt := model.BuiltAt()
	stats := model.Stats()
	status.Ready = true
	status.ModelID = model.ID()
	status.RootID = model.RootID()
	status.BuiltAt = &builtAt
	status.RootMass = model.RootMass()
	status.ICTerms = model.Size()
	status.Frequency = &stats
	return status
}

// TermInfo returns the information content and IC-carrying ancestors of a term
func (s *SimilarityService) TermInfo(_ context.Context, termID string) (*TermInfo, error) {
	termID = strings.TrimSpace(termID)
	if termID == "" {
		return nil, domain.NewValidationError("term_id", "term ID is required", termID)
	}
	model, err := s.models.Current()
	if err != nil {
		return nil, err
	}
	if !model.Known(termID) {
		return nil, fmt.Errorf("term %s: %w", termID, domain.ErrNotFound)
	}

	info := &TermInfo{
		ID:        termID,
		Canonical: model.Canonical(termID),
		Ancestors: []AncestorInfo{},
		ModelID:   model.ID(),
	}
	if ic, ok := model.IC(termID); ok {
		info.IC = &ic
	}
	ancestors, _ := model.Ancestors(termID)
	for _, id := range ancestors {
		ic, _ := model.IC(id)
		info.Ancestors = append(info.Ancestors, AncestorInfo{ID: id, IC: ic})
	}
	return info, nil
}

func (s *SimilarityService) resolvePair(ctx context.Context, matchID, referenceID string) (*domain.Patient, *domain.Patient, error) {
	if s.patients == nil {
		return nil, nil, fmt.Errorf("resolving patients: %w: no patient source configured", domain.ErrSourceUnavailable)
	}
	match, err := s.patients.GetPatient(ctx, matchID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving match patient %s: %w", matchID, err)
	}
	reference, err := s.patients.GetPatient(ctx, referenceID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving reference patient %s: %w", referenceID, err)
	}
	return match, reference, nil
}

func (s *SimilarityService) broadcast(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"type":       event.Type,
			"patient_id": event.PatientID,
			"error":      err,
		}).Warn("Failed to broadcast invalidation; other replicas keep stale results")
	}
}

func validatePatientID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError(field, "patient ID is required", id)
	}
	return nil
}
