package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenotype-similarity-server/internal/domain"
)

const testConfigYAML = `
environment: production
server:
  port: 9000
database:
  host: db.internal
  password: secret
cache:
  backend: tiered
  redis_url: redis://cache.internal:6379/2
ontology:
  base_url: https://ontology.example.org/hp
knowledge_base:
  file: /data/phenotype.hpoa
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewManager_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	m, err := NewManager()
	require.NoError(t, err)
	cfg := m.GetConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.RequestLimit)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, domain.DefaultRootID, cfg.Model.RootID)
	assert.Equal(t, domain.SymptomField, cfg.Model.SymptomField)
	assert.Equal(t, 1e-9, cfg.Model.Epsilon)
	assert.Equal(t, "view", cfg.Access.ViewLevel)
	assert.Equal(t, "match", cfg.Access.MatchLevel)
	assert.Equal(t, "patient-changes", cfg.Kafka.Topic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, m.IsDevelopment())
	assert.Empty(t, m.ConfigFileUsed())

	// no vocabulary configured
	assert.Error(t, m.Validate())
}

func TestNewManagerFromFile(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 9000, m.GetServerConfig().Port)
	assert.Equal(t, "db.internal", m.GetDatabaseConfig().Host)
	assert.Equal(t, "tiered", cfg.Cache.Backend)
	assert.Equal(t, "redis://cache.internal:6379/2", m.GetRedisConnectionString())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, m.IsProduction())
	assert.Equal(t, path, m.ConfigFileUsed())
	assert.Equal(t,
		"host=db.internal port=5432 user=postgres password=secret dbname=phenosim sslmode=disable",
		m.GetDatabaseConnectionString())
}

func TestNewManagerFromFile_Errors(t *testing.T) {
	_, err := NewManagerFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = NewManagerFromFile(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestManager_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, testConfigYAML)
	t.Setenv("PHENOSIM_SERVER_PORT", "9443")
	t.Setenv("PHENOSIM_CACHE_BACKEND", "memory")
	t.Setenv("PHENOSIM_KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("PHENOSIM_MODEL_ROOT_ID", "HP:0000001")

	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	cfg := m.GetConfig()

	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, "HP:0000001", cfg.Model.RootID)

	t.Setenv("PHENOSIM_SERVER_PORT", "9444")
	require.NoError(t, m.Reload())
	assert.Equal(t, 9444, m.GetConfig().Server.Port)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *domain.Config)
		wantErr string
	}{
		{"valid", func(c *domain.Config) {}, ""},
		{"bad port", func(c *domain.Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"no database host", func(c *domain.Config) { c.Database.Host = "" }, "database host"},
		{"unknown cache backend", func(c *domain.Config) { c.Cache.Backend = "memcached" }, "invalid cache backend"},
		{"redis without url", func(c *domain.Config) {
			c.Cache.Backend = "redis"
			c.Cache.RedisURL = ""
		}, "Redis URL"},
		{"no ontology", func(c *domain.Config) { c.Ontology.BaseURL = "" }, "ontology"},
		{"no knowledge base", func(c *domain.Config) { c.KnowledgeBase.File = "" }, "knowledge base"},
		{"no root", func(c *domain.Config) { c.Model.RootID = "" }, "root ID"},
		{"epsilon out of range", func(c *domain.Config) { c.Model.Epsilon = 1 }, "epsilon"},
		{"unknown access level", func(c *domain.Config) { c.Access.ViewLevel = "admin" }, "view level"},
		{"match above view", func(c *domain.Config) {
			c.Access.ViewLevel = "match"
			c.Access.MatchLevel = "owner"
		}, "ranks above"},
		{"kafka without brokers", func(c *domain.Config) { c.Kafka.Brokers = nil }, "kafka"},
		{"bad log level", func(c *domain.Config) { c.Logging.Level = "verbose" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerFromFile(writeConfig(t, testConfigYAML))
			require.NoError(t, err)
			tt.mutate(m.GetConfig())

			err = m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)

	logger, err = NewLogger(domain.LoggingConfig{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	file := filepath.Join(t.TempDir(), "logs", "phenosim.log")
	logger, err = NewLogger(domain.LoggingConfig{Output: "file", Filename: file})
	require.NoError(t, err)
	logger.Info("hello")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewLogger_Errors(t *testing.T) {
	tests := []domain.LoggingConfig{
		{Level: "loud"},
		{Format: "xml"},
		{Output: "syslog"},
		{Output: "file"},
	}
	for _, cfg := range tests {
		_, err := NewLogger(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}
