// Package setup registers the lite server with desktop MCP clients and
// checks that its data directory is ready to serve.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/phenotype-similarity-server/internal/config"
)

// ServerName is the key the server is registered under
const ServerName = "phenotype-similarity"

// ClaudeDesktopConfig is the desktop client configuration file
type ClaudeDesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	// other top level keys are preserved on save
	extra map[string]json.RawMessage
}

// MCPServerConfig is a single MCP server entry
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls registration
type Options struct {
	ConfigPath string
	BinaryPath string
	DataDir    string
	Transport  string
}

// ClaudeDesktopConfigPath returns the desktop client config file for this OS
func ClaudeDesktopConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
			break
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "Claude")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClaudeDesktopConfig reads path. A missing file yields an empty config.
func LoadClaudeDesktopConfig(path string) (*ClaudeDesktopConfig, error) {
	cfg := &ClaudeDesktopConfig{
		MCPServers: make(map[string]MCPServerConfig),
		extra:      make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.extra, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}
	return cfg, nil
}

// SaveClaudeDesktopConfig writes cfg to path, creating the directory
func SaveClaudeDesktopConfig(path string, cfg *ClaudeDesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(cfg.extra)+1)
	for k, v := range cfg.extra {
		out[k] = v
	}
	out["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry in the desktop client config
func Register(opts Options) (string, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = ClaudeDesktopConfigPath(); err != nil {
			return "", err
		}
	}
	if opts.BinaryPath == "" {
		return "", fmt.Errorf("server binary path is required")
	}

	cfg, err := LoadClaudeDesktopConfig(path)
	if err != nil {
		return "", err
	}

	entry := MCPServerConfig{Command: opts.BinaryPath, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env["PHENOSIM_DATA_DIR"] = opts.DataDir
	}
	if opts.Transport != "" {
		entry.Env["PHENOSIM_TRANSPORT"] = opts.Transport
	}
	cfg.MCPServers[ServerName] = entry

	if err := SaveClaudeDesktopConfig(path, cfg); err != nil {
		return "", err
	}
	return path, nil
}

// Status describes how ready the lite server is to run
type Status struct {
	ClientConfigPath string   `json:"client_config_path"`
	Registered       bool     `json:"registered"`
	BinaryPath       string   `json:"binary_path,omitempty"`
	DataDir          string   `json:"data_dir"`
	OntologyFile     string   `json:"ontology_file"`
	AnnotationsFile  string   `json:"annotations_file"`
	PatientsDir      string   `json:"patients_dir"`
	Patients         int      `json:"patients"`
	SnapshotPresent  bool     `json:"snapshot_present"`
	Issues           []string `json:"issues,omitempty"`
}

// Ready reports whether the server can build a model and serve patients
func (s *Status) Ready() bool {
	return len(s.Issues) == 0
}

// CheckStatus inspects the client registration at clientConfigPath and the
// files the lite server reads. An empty clientConfigPath uses the OS default.
func CheckStatus(cfg *config.LiteConfig, clientConfigPath string) *Status {
	status := &Status{
		ClientConfigPath: clientConfigPath,
		DataDir:          cfg.DataDir,
		OntologyFile:     cfg.OntologyPath(),
		AnnotationsFile:  cfg.AnnotationsPath(),
		PatientsDir:      cfg.PatientsPath(),
	}

	if status.ClientConfigPath == "" {
		path, err := ClaudeDesktopConfigPath()
		if err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("cannot locate client config: %v", err))
		}
		status.ClientConfigPath = path
	}
	if status.ClientConfigPath != "" {
		client, err := LoadClaudeDesktopConfig(status.ClientConfigPath)
		switch {
		case err != nil:
			status.Issues = append(status.Issues, fmt.Sprintf("cannot load client config: %v", err))
		default:
			if entry, ok := client.MCPServers[ServerName]; ok {
				status.Registered = true
				status.BinaryPath = entry.Command
				if _, err := os.Stat(entry.Command); err != nil {
					status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
				}
			}
		}
	}

	for _, file := range []string{status.OntologyFile, status.AnnotationsFile} {
		if _, err := os.Stat(file); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("vocabulary file missing: %s", file))
		}
	}

	entries, err := os.ReadDir(status.PatientsDir)
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("patients directory unreadable: %s", status.PatientsDir))
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			status.Patients++
		}
	}

	if _, err := os.Stat(cfg.SnapshotDBPath()); err == nil {
		status.SnapshotPresent = true
	}
	return status
}
