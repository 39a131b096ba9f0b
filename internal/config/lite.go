// Package config provides configuration management for the similarity servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/phenotype-similarity-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and reads the ontology, annotations and
// patients from local files.
type LiteConfig struct {
	// Data storage
	DataDir         string // Base directory for data files
	OntologyFile    string // HPO .obo file
	AnnotationsFile string // phenotype.hpoa annotation file
	PatientsDir     string // PhenoTips JSON exports

	RootID string

	// Cache settings
	CacheMaxItems int // Maximum items in memory cache

	// Access levels granting open and limited results
	ViewLevel  string
	MatchLevel string

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".phenosim")

	return &LiteConfig{
		DataDir:       dataDir,
		RootID:        domain.DefaultRootID,
		CacheMaxItems: 1000,
		ViewLevel:     domain.AccessView.Name,
		MatchLevel:    domain.AccessMatch.Name,
		Transport:     "stdio",
		HTTPPort:      8080,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PHENOSIM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.OntologyFile = os.Getenv("PHENOSIM_HPO_FILE")
	cfg.AnnotationsFile = os.Getenv("PHENOSIM_ANNOTATIONS_FILE")
	cfg.PatientsDir = os.Getenv("PHENOSIM_PATIENTS_DIR")
	if v := os.Getenv("PHENOSIM_ROOT_ID"); v != "" {
		cfg.RootID = v
	}

	if v := os.Getenv("PHENOSIM_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}

	if v := os.Getenv("PHENOSIM_VIEW_LEVEL"); v != "" {
		cfg.ViewLevel = v
	}
	if v := os.Getenv("PHENOSIM_MATCH_LEVEL"); v != "" {
		cfg.MatchLevel = v
	}

	// Transport
	if v := os.Getenv("PHENOSIM_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("PHENOSIM_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("PHENOSIM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PHENOSIM_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// OntologyPath returns the HPO ontology file, defaulting to hp.obo in the data directory.
func (c *LiteConfig) OntologyPath() string {
	if c.OntologyFile != "" {
		return c.OntologyFile
	}
	return filepath.Join(c.DataDir, "hp.obo")
}

// AnnotationsPath returns the disease annotation file.
func (c *LiteConfig) AnnotationsPath() string {
	if c.AnnotationsFile != "" {
		return c.AnnotationsFile
	}
	return filepath.Join(c.DataDir, "phenotype.hpoa")
}

// PatientsPath returns the directory holding patient exports.
func (c *LiteConfig) PatientsPath() string {
	if c.PatientsDir != "" {
		return c.PatientsDir
	}
	return filepath.Join(c.DataDir, "patients")
}

// SnapshotDBPath returns the path to the model snapshot SQLite database.
func (c *LiteConfig) SnapshotDBPath() string {
	return filepath.Join(c.DataDir, "snapshots.db")
}

// Logging returns the logger settings.
func (c *LiteConfig) Logging() domain.LoggingConfig {
	// stdout carries the stdio transport
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.PatientsPath(), 0755)
}
