// Package main provides the lightweight entry point for the phenotype
// similarity MCP server. It needs no external services: vocabularies and
// patients are read from the data directory, results are cached in memory
// and model snapshots are kept in SQLite.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/cache"
	"github.com/phenotype-similarity-server/internal/config"
	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/infocontent"
	"github.com/phenotype-similarity-server/internal/mcp"
	"github.com/phenotype-similarity-server/internal/ontology"
	"github.com/phenotype-similarity-server/internal/repository"
	"github.com/phenotype-similarity-server/internal/service"
	"github.com/phenotype-similarity-server/internal/setup"
	"github.com/phenotype-similarity-server/internal/similarity"
	"github.com/phenotype-similarity-server/internal/snapshot"
)

var version = "1.0.0"

func main() {
	cfg := config.LoadLiteConfig()

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cmd := setup.NewCommand(cfg)
		cmd.SetArgs(os.Args[2:])
		if err := cmd.Execute(); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	logger, err := config.NewLogger(cfg.Logging())
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"transport": cfg.Transport,
		"data_dir":  cfg.DataDir,
		"version":   version,
	}).Info("Starting phenotype similarity MCP server (lite)")

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("MCP server failed")
	}
	logger.Info("MCP server stopped")
}

func run(ctx context.Context, cfg *config.LiteConfig, logger *logrus.Logger) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	phenotypes := ontology.NewOBOFileSource("hpo", cfg.OntologyPath(), logger)
	diseases := ontology.NewAnnotationFileSource("omim", cfg.AnnotationsPath(), domain.SymptomField, logger, "OMIM")
	builder := infocontent.NewBuilder(phenotypes, diseases, infocontent.Options{RootID: cfg.RootID}, logger)

	snapshots, err := snapshot.NewSQLiteStore(cfg.SnapshotDBPath(), logger, snapshot.WithRetention(5))
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer func() {
		if err := snapshots.Close(); err != nil {
			logger.WithError(err).Warn("Closing snapshot store failed")
		}
	}()
	provider := infocontent.NewProvider(builder, logger, infocontent.WithSnapshotStore(snapshots))

	store, err := cache.NewPairCache(cfg.CacheMaxItems, logger)
	if err != nil {
		return fmt.Errorf("creating result cache: %w", err)
	}

	view, err := domain.ParseAccessLevel(cfg.ViewLevel)
	if err != nil {
		return fmt.Errorf("PHENOSIM_VIEW_LEVEL: %w", err)
	}
	match, err := domain.ParseAccessLevel(cfg.MatchLevel)
	if err != nil {
		return fmt.Errorf("PHENOSIM_MATCH_LEVEL: %w", err)
	}

	patients := repository.NewFilePatientSource(cfg.PatientsPath(), logger)
	factory := similarity.NewFactory(provider, logger,
		similarity.WithStore(store),
		similarity.WithPatients(patients),
		similarity.WithAccessThresholds(view, match),
	)
	svc := service.NewSimilarityService(logger, provider, factory, patients, nil, nil)

	if err := svc.InitializeModel(ctx); err != nil {
		return fmt.Errorf("initializing model (run \"setup status\" to check the data directory): %w", err)
	}

	server := mcp.NewServer(domain.MCPConfig{
		ServerVersion:  version,
		RequestTimeout: 30 * time.Second,
	}, svc, logger)
	return server.Run(ctx, cfg.Transport, cfg.HTTPPort)
}
