package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
)

// PostgresStore keeps snapshots in the ic_snapshots table created by the
// migrations
type PostgresStore struct {
	db     *sql.DB
	retain int
	log    *logrus.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open connection
func NewPostgresStore(db *sql.DB, logger *logrus.Logger, opts ...Option) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required: %w", domain.ErrInvalidArgument)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v: %w", err, domain.ErrSourceUnavailable)
	}
	return &PostgresStore{db: db, retain: applyOptions(opts).retain, log: logger}, nil
}

// NewPostgresStoreFromURL opens a connection and wraps it
func NewPostgresStoreFromURL(databaseURL string, logger *logrus.Logger, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db, logger, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// SaveSnapshot upserts a snapshot
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *infocontent.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	payload, err := encode(snap)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ic_snapshots (id, root_id, root_mass, terms, built_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			root_id = EXCLUDED.root_id,
			root_mass = EXCLUDED.root_mass,
			terms = EXCLUDED.terms,
			built_at = EXCLUDED.built_at,
			payload = EXCLUDED.payload
	`
	if _, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.RootID, snap.RootMass, len(snap.IC), snap.BuiltAt, payload,
	); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if s.retain > 0 {
		if _, err := s.Prune(ctx, s.retain); err != nil {
			s.log.WithError(err).Warn("Failed to prune snapshots")
		}
	}
	return nil
}

// LatestSnapshot returns the most recently built snapshot or ErrNotFound
func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*infocontent.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM ic_snapshots ORDER BY built_at DESC LIMIT 1",
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest snapshot: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return decode(payload)
}

// List returns snapshot summaries, newest first
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root_id, root_mass, terms, built_at
		FROM ic_snapshots
		ORDER BY built_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var result []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.RootID, &info.RootMass, &info.Terms, &info.BuiltAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

// Prune keeps the newest keep snapshots
func (s *PostgresStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM ic_snapshots
		WHERE id NOT IN (SELECT id FROM ic_snapshots ORDER BY built_at DESC LIMIT $1)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) all(ctx context.Context) ([]*infocontent.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM ic_snapshots ORDER BY built_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*infocontent.Snapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		snap, err := decode(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func (s *PostgresStore) exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM ic_snapshots WHERE id = $1)", id,
	).Scan(&found)
	return found, err
}

// ExportJSON writes every snapshot to writer
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON loads snapshots from reader
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
