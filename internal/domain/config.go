package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment   string         `mapstructure:"environment"`
	Server        ServerConfig   `mapstructure:"server"`
	Database      DatabaseConfig `mapstructure:"database"`
	Cache         CacheConfig    `mapstructure:"cache"`
	Ontology      SourceConfig   `mapstructure:"ontology"`
	KnowledgeBase SourceConfig   `mapstructure:"knowledge_base"`
	Model         ModelConfig    `mapstructure:"model"`
	Access        AccessConfig   `mapstructure:"access"`
	Kafka         KafkaConfig    `mapstructure:"kafka"`
	Metrics       MetricsConfig  `mapstructure:"metrics"`
	Logging       LoggingConfig  `mapstructure:"logging"`
	MCP           MCPConfig      `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RequestLimit time.Duration `mapstructure:"request_limit"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents similarity result cache configuration
type CacheConfig struct {
	Backend     string        `mapstructure:"backend"` // "memory", "redis", "tiered", "none"
	MaxEntries  int           `mapstructure:"max_entries"`
	RedisURL    string        `mapstructure:"redis_url"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// SourceConfig configures a remote ontology or knowledge base vocabulary
type SourceConfig struct {
	Name       string        `mapstructure:"name"`
	BaseURL    string        `mapstructure:"base_url"`
	File       string        `mapstructure:"file"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RetryCount int           `mapstructure:"retry_count"`
}

// ModelConfig controls information content model construction
type ModelConfig struct {
	RootID            string  `mapstructure:"root_id"`
	SymptomField      string  `mapstructure:"symptom_field"`
	Epsilon           float64 `mapstructure:"epsilon"`
	RootMassTolerance float64 `mapstructure:"root_mass_tolerance"`
	SnapshotEnabled   bool    `mapstructure:"snapshot_enabled"`
	SnapshotPath      string  `mapstructure:"snapshot_path"`
}

// AccessConfig names the levels that grant open and limited exposure
type AccessConfig struct {
	ViewLevel  string `mapstructure:"view_level"`
	MatchLevel string `mapstructure:"match_level"`
}

// KafkaConfig configures the patient change event stream
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	GroupID      string        `mapstructure:"group_id"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}
