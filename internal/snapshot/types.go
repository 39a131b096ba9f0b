// Package snapshot persists information content models so that a restarted
// server can answer queries before its ontology sources are reachable.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
)

// ExportVersion is written into every export document
const ExportVersion = "1.0"

// Store defines the interface for snapshot storage operations.
type Store interface {
	infocontent.SnapshotStore

	// List returns snapshot summaries, newest first.
	List(ctx context.Context, limit int) ([]Info, error)

	// Prune keeps the newest keep snapshots and returns how many were removed.
	Prune(ctx context.Context, keep int) (int, error)

	// ExportJSON writes every snapshot to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON loads snapshots from reader. Snapshots whose ID is already
	// stored are skipped.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Info summarizes a stored snapshot without its tables
type Info struct {
	ID       string    `json:"id"`
	RootID   string    `json:"root_id"`
	RootMass float64   `json:"root_mass"`
	Terms    int       `json:"terms"`
	BuiltAt  time.Time `json:"built_at"`
}

// Export represents the JSON export format.
type Export struct {
	Version    string                  `json:"version"`
	ExportedAt time.Time               `json:"exported_at"`
	Count      int                     `json:"count"`
	Snapshots  []*infocontent.Snapshot `json:"snapshots"`
}

// Option configures a store
type Option func(*settings)

type settings struct {
	retain int
}

// WithRetention prunes down to n snapshots after every save. Zero keeps all.
func WithRetention(n int) Option {
	return func(s *settings) { s.retain = n }
}

func applyOptions(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func validate(s *infocontent.Snapshot) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("snapshot: %w: ID is required", domain.ErrInvalidArgument)
	}
	if s.RootID == "" {
		return fmt.Errorf("snapshot %s: %w: root ID is required", s.ID, domain.ErrInvalidArgument)
	}
	return nil
}

func encode(s *infocontent.Snapshot) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot %s: %w", s.ID, err)
	}
	return string(payload), nil
}

func decode(payload []byte) (*infocontent.Snapshot, error) {
	var s infocontent.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w: %v", domain.ErrMalformedRecord, err)
	}
	return &s, nil
}

// loader is the subset of a store used by export and import
type loader interface {
	infocontent.SnapshotStore
	all(ctx context.Context) ([]*infocontent.Snapshot, error)
	exists(ctx context.Context, id string) (bool, error)
}

func exportJSON(ctx context.Context, l loader, writer io.Writer) error {
	snapshots, err := l.all(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	export := &Export{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(snapshots),
		Snapshots:  snapshots,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, l loader, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w: %v", domain.ErrMalformedRecord, err)
	}

	for _, s := range export.Snapshots {
		if err := validate(s); err != nil {
			return imported, skipped, err
		}
		found, err := l.exists(ctx, s.ID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if found {
			skipped++
			continue
		}
		if err := l.SaveSnapshot(ctx, s); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
