// Package events carries patient and ontology change notifications over
// Kafka so that every replica drops the cached similarities they affect.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
)

// Type names the kind of change an event reports
type Type string

const (
	PatientUpdated  Type = "patient_updated"
	PatientDeleted  Type = "patient_deleted"
	CacheCleared    Type = "cache_cleared"
	OntologyUpdated Type = "ontology_updated"
)

// Event is the JSON message published on the invalidation topic
type Event struct {
	Type       Type      `json:"type"`
	PatientID  string    `json:"patient_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Key returns the partitioning key. Events about one patient share a
// partition and therefore keep their order.
func (e Event) Key() string {
	if e.PatientID != "" {
		return e.PatientID
	}
	return string(e.Type)
}

// Validate checks the event is actionable
func (e Event) Validate() error {
	switch e.Type {
	case PatientUpdated, PatientDeleted:
		if e.PatientID == "" {
			return fmt.Errorf("event %s: %w: patient_id is required", e.Type, domain.ErrMalformedRecord)
		}
	case CacheCleared, OntologyUpdated:
	default:
		return fmt.Errorf("event type %q: %w", e.Type, domain.ErrMalformedRecord)
	}
	return nil
}

// Target applies the effects of an event
type Target interface {
	InvalidatePatient(ctx context.Context, patientID string) error
	ClearAll(ctx context.Context) error
	ReloadModel(ctx context.Context) error
}

// Recorder counts applied events
type Recorder interface {
	RecordEvent(eventType string, err error)
}

// Dispatcher decodes messages and applies them to a Target
type Dispatcher struct {
	target   Target
	recorder Recorder
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(target Target, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{target: target, logger: logger}
}

// WithRecorder reports every applied event to r
func (d *Dispatcher) WithRecorder(r Recorder) *Dispatcher {
	d.recorder = r
	return d
}

// Handle processes one message value. Undecodable or unknown events are
// reported with ErrMalformedRecord.
func (d *Dispatcher) Handle(ctx context.Context, key, value []byte) error {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("decoding event: %w: %v", domain.ErrMalformedRecord, err)
	}
	if err := event.Validate(); err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"type":       event.Type,
		"patient_id": event.PatientID,
		"key":        string(key),
		"source":     event.Source,
	}).Debug("Applying event")

	var err error
	switch event.Type {
	case PatientUpdated, PatientDeleted:
		err = d.target.InvalidatePatient(ctx, event.PatientID)
	case CacheCleared:
		err = d.target.ClearAll(ctx)
	case OntologyUpdated:
		err = d.target.ReloadModel(ctx)
	}
	if d.recorder != nil {
		d.recorder.RecordEvent(string(event.Type), err)
	}
	if err != nil {
		return fmt.Errorf("applying %s event: %w", event.Type, err)
	}
	return nil
}

// IsPoison reports whether retrying a failed message can never succeed
func IsPoison(err error) bool {
	return errors.Is(err, domain.ErrMalformedRecord)
}
