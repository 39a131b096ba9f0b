package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
)

// SQLiteStore keeps snapshots in a local SQLite file
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	retain int
	log    *logrus.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the snapshot database at dbPath
func NewSQLiteStore(dbPath string, logger *logrus.Logger, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		retain: applyOptions(opts).retain,
		log:    logger,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ic_snapshots (
		id TEXT PRIMARY KEY,
		root_id TEXT NOT NULL,
		root_mass REAL NOT NULL,
		terms INTEGER NOT NULL,
		built_at INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ic_snapshots_built_at ON ic_snapshots(built_at);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveSnapshot stores a snapshot, replacing one with the same ID
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *infocontent.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	payload, err := encode(snap)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ic_snapshots (id, root_id, root_mass, terms, built_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			root_id = excluded.root_id,
			root_mass = excluded.root_mass,
			terms = excluded.terms,
			built_at = excluded.built_at,
			payload = excluded.payload
	`, snap.ID, snap.RootID, snap.RootMass, len(snap.IC), snap.BuiltAt.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"snapshot_id": snap.ID,
		"terms":       len(snap.IC),
		"path":        s.dbPath,
	}).Debug("Snapshot saved")

	if s.retain > 0 {
		if _, err := s.Prune(ctx, s.retain); err != nil {
			s.log.WithError(err).Warn("Failed to prune snapshots")
		}
	}
	return nil
}

// LatestSnapshot returns the most recently built snapshot or ErrNotFound
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*infocontent.Snapshot, error) {
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
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root_id, root_mass, terms, built_at
		FROM ic_snapshots
		ORDER BY built_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []Info
	for rows.Next() {
		var info Info
		var builtAt int64
		if err := rows.Scan(&info.ID, &info.RootID, &info.RootMass, &info.Terms, &builtAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		info.BuiltAt = time.Unix(0, builtAt).UTC()
		result = append(result, info)
	}
	return result, rows.Err()
}

// Prune keeps the newest keep snapshots
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM ic_snapshots
		WHERE id NOT IN (SELECT id FROM ic_snapshots ORDER BY built_at DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) all(ctx context.Context) ([]*infocontent.Snapshot, error) {
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

func (s *SQLiteStore) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ic_snapshots WHERE id = ?", id).Scan(&n)
	return n > 0, err
}

// ExportJSON writes every snapshot to writer
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON loads snapshots from reader
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
