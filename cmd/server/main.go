package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phenotype-similarity-server/internal/api"
	"github.com/phenotype-similarity-server/internal/cache"
	"github.com/phenotype-similarity-server/internal/config"
	"github.com/phenotype-similarity-server/internal/database"
	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/events"
	"github.com/phenotype-similarity-server/internal/infocontent"
	"github.com/phenotype-similarity-server/internal/monitoring"
	"github.com/phenotype-similarity-server/internal/ontology"
	"github.com/phenotype-similarity-server/internal/repository"
	"github.com/phenotype-similarity-server/internal/service"
	"github.com/phenotype-similarity-server/internal/similarity"
	"github.com/phenotype-similarity-server/internal/snapshot"
	"github.com/phenotype-similarity-server/pkg/external"
)

var version = "1.0.0"

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"config":  configManager.ConfigFileUsed(),
		"version": version,
	}).Info("Starting phenotype similarity server")

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) error {
	dbConfig := database.ConfigFrom(cfg.Database)
	if err := database.Migrate(ctx, dbConfig.URL(), cfg.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	patients := repository.NewPatientRepository(db.Pool, logger)

	phenotypes, err := newSource(cfg.Ontology, "", logger)
	if err != nil {
		return fmt.Errorf("ontology source: %w", err)
	}
	knowledgeBase, err := newSource(cfg.KnowledgeBase, cfg.Model.SymptomField, logger)
	if err != nil {
		return fmt.Errorf("knowledge base source: %w", err)
	}

	metrics := monitoring.NewMetrics()
	builder := infocontent.NewBuilder(phenotypes, knowledgeBase, infocontent.Options{
		RootID:            cfg.Model.RootID,
		SymptomField:      cfg.Model.SymptomField,
		Epsilon:           cfg.Model.Epsilon,
		RootMassTolerance: cfg.Model.RootMassTolerance,
	}, logger)

	providerOpts := []infocontent.ProviderOption{infocontent.WithBuildObserver(metrics)}
	if cfg.Model.SnapshotEnabled {
		snapshots, err := snapshot.NewPostgresStoreFromURL(dbConfig.URL(), logger, snapshot.WithRetention(10))
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		defer closeQuietly(snapshots, "snapshot store", logger)
		providerOpts = append(providerOpts, infocontent.WithSnapshotStore(snapshots))
	}
	provider := infocontent.NewProvider(builder, logger, providerOpts...)

	store := cache.New(cfg.Cache, logger)
	if closer, ok := store.(io.Closer); ok {
		defer closeQuietly(closer, "result cache", logger)
	}

	view, match, err := accessThresholds(cfg.Access)
	if err != nil {
		return err
	}
	factory := similarity.NewFactory(provider, logger,
		similarity.WithStore(store),
		similarity.WithPatients(patients),
		similarity.WithAccessThresholds(view, match),
		similarity.WithRecorder(metrics),
	)

	hostname, _ := os.Hostname()
	var publisher service.EventPublisher
	if cfg.Kafka.Enabled {
		p := events.NewPublisher(cfg.Kafka, hostname, logger)
		defer closeQuietly(p, "event publisher", logger)
		publisher = p
	}
	svc := service.NewSimilarityService(logger, provider, factory, patients, nil, publisher)

	if err := svc.InitializeModel(ctx); err != nil {
		return fmt.Errorf("initializing model: %w", err)
	}

	server := api.NewServer(cfg, svc, logger, api.WithMetrics(metrics), api.WithVersion(version))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Kafka.Enabled {
		// one consumer group per replica
		kafkaCfg := cfg.Kafka
		kafkaCfg.GroupID = fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, hostname)
		dispatcher := events.NewDispatcher(svc, logger).WithRecorder(metrics)
		consumer := events.NewConsumer(kafkaCfg, dispatcher.Handle, logger)
		defer closeQuietly(consumer, "event consumer", logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}

// newSource serves a vocabulary from its remote service when a base URL is
// configured and from a local file otherwise. A non-empty symptomField marks
// the source as a phenotype.hpoa knowledge base.
func newSource(cfg domain.SourceConfig, symptomField string, logger *logrus.Logger) (domain.OntologySource, error) {
	if cfg.BaseURL != "" {
		return external.NewOntologyClient(cfg, logger)
	}
	if symptomField == "" {
		return ontology.NewOBOFileSource(cfg.Name, cfg.File, logger), nil
	}
	var databases []string
	if cfg.Name != "" {
		databases = append(databases, cfg.Name)
	}
	return ontology.NewAnnotationFileSource(cfg.Name, cfg.File, symptomField, logger, databases...), nil
}

func accessThresholds(cfg domain.AccessConfig) (domain.AccessLevel, domain.AccessLevel, error) {
	view, err := domain.ParseAccessLevel(cfg.ViewLevel)
	if err != nil {
		return domain.AccessLevel{}, domain.AccessLevel{}, fmt.Errorf("access.view_level: %w", err)
	}
	match, err := domain.ParseAccessLevel(cfg.MatchLevel)
	if err != nil {
		return domain.AccessLevel{}, domain.AccessLevel{}, fmt.Errorf("access.match_level: %w", err)
	}
	return view, match, nil
}

func closeQuietly(c io.Closer, name string, logger *logrus.Logger) {
	if err := c.Close(); err != nil {
		logger.WithError(err).WithField("component", name).Warn("Close failed")
	}
}
