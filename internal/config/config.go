package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/phenotype-similarity-server/internal/cache"
	"github.com/phenotype-similarity-server/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. PHENOSIM_SERVER_PORT
const EnvPrefix = "PHENOSIM"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	file   string
	config *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager loads config.yaml from the working directory, ./config or
// /etc/phenosim, then applies environment overrides
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads an explicit configuration file. An empty path
// searches the default locations.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{file: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/phenosim/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_limit", "20s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "phenosim")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Cache defaults
	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.key_prefix", "phenosim:")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Vocabulary defaults
	v.SetDefault("ontology.name", "hpo")
	v.SetDefault("ontology.base_url", "")
	v.SetDefault("ontology.file", "")
	v.SetDefault("ontology.timeout", "30s")
	v.SetDefault("ontology.rate_limit", 10)
	v.SetDefault("ontology.retry_count", 3)
	v.SetDefault("knowledge_base.name", "omim")
	v.SetDefault("knowledge_base.base_url", "")
	v.SetDefault("knowledge_base.file", "")
	v.SetDefault("knowledge_base.timeout", "30s")
	v.SetDefault("knowledge_base.rate_limit", 10)
	v.SetDefault("knowledge_base.retry_count", 3)

	// Model defaults
	v.SetDefault("model.root_id", domain.DefaultRootID)
	v.SetDefault("model.symptom_field", domain.SymptomField)
	v.SetDefault("model.epsilon", domain.Epsilon)
	v.SetDefault("model.root_mass_tolerance", 1e-6)
	v.SetDefault("model.snapshot_enabled", true)
	v.SetDefault("model.snapshot_path", "data/snapshots.db")

	v.SetDefault("access.view_level", domain.AccessView.Name)
	v.SetDefault("access.match_level", domain.AccessMatch.Name)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "patient-changes")
	v.SetDefault("kafka.group_id", "phenosim")
	v.SetDefault("kafka.max_attempts", 5)
	v.SetDefault("kafka.retry_backoff", "200ms")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("mcp.server_name", "phenotype-similarity")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.request_timeout", "30s")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// ConfigFileUsed returns the file the configuration was read from, if any
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	switch config.Cache.Backend {
	case cache.BackendMemory, cache.BackendNone:
	case cache.BackendRedis, cache.BackendTiered:
		if _, err := url.Parse(config.Cache.RedisURL); err != nil || config.Cache.RedisURL == "" {
			return fmt.Errorf("a valid Redis URL is required for the %s cache", config.Cache.Backend)
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", config.Cache.Backend)
	}

	if config.Ontology.BaseURL == "" && config.Ontology.File == "" {
		return fmt.Errorf("ontology base URL or file is required")
	}
	if config.KnowledgeBase.BaseURL == "" && config.KnowledgeBase.File == "" {
		return fmt.Errorf("knowledge base URL or file is required")
	}

	if config.Model.RootID == "" {
		return fmt.Errorf("model root ID is required")
	}
	if config.Model.Epsilon <= 0 || config.Model.Epsilon >= 1 {
		return fmt.Errorf("model epsilon must be in (0, 1): %g", config.Model.Epsilon)
	}

	view, err := domain.ParseAccessLevel(config.Access.ViewLevel)
	if err != nil {
		return fmt.Errorf("access view level: %w", err)
	}
	match, err := domain.ParseAccessLevel(config.Access.MatchLevel)
	if err != nil {
		return fmt.Errorf("access match level: %w", err)
	}
	if match.Rank > view.Rank {
		return fmt.Errorf("access match level %s ranks above view level %s", match.Name, view.Name)
	}

	if config.Kafka.Enabled && (len(config.Kafka.Brokers) == 0 || config.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
