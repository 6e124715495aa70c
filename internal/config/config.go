// Package config loads clipbridge configuration.
//
// Precedence, lowest first:
//  1. Built-in defaults
//  2. User config ($XDG_CONFIG_HOME/clipbridge/config.yaml or ~/.config/clipbridge/config.yaml)
//  3. Project config (.clipbridge.yaml or .clipbridge.yml in the working directory)
//  4. CLIPBRIDGE_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// AppName names the config and data directories.
const AppName = "clipbridge"

// Config is the full clipbridge configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// DataDir holds the index, logs, daemon socket and telemetry database.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Tool      ToolConfig      `yaml:"tool" json:"tool"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Daemon    DaemonConfig    `yaml:"daemon" json:"daemon"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ToolConfig locates the clip_tool installation.
type ToolConfig struct {
	// Root contains versioned package folders such as clipunity-v1.0.0.
	Root       string `yaml:"root" json:"root"`
	DirPattern string `yaml:"dir_pattern" json:"dir_pattern"`
}

// IndexConfig describes the index file and what counts as an image.
type IndexConfig struct {
	// Path of the index file. Empty means <data_dir>/index/index.pt.
	Path       string   `yaml:"path" json:"path"`
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// SearchConfig tunes queries.
type SearchConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	TopK      int     `yaml:"top_k" json:"top_k"`
	// QueryTimeout kills an unresponsive search process. "0" disables it.
	QueryTimeout string `yaml:"query_timeout" json:"query_timeout"`
	CacheSize    int    `yaml:"cache_size" json:"cache_size"`
}

// WatchConfig tunes directory watching.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce"`
}

// DaemonConfig places the daemon's socket and PID file.
type DaemonConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDPath    string `yaml:"pid_path" json:"pid_path"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// TelemetryConfig controls the local query history database.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// DefaultDataDir returns ~/.clipbridge.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "."+AppName)
	}
	return filepath.Join(home, "."+AppName)
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Tool: ToolConfig{
			DirPattern: "clipunity-*",
		},
		Index: IndexConfig{
			Extensions: []string{".png", ".jpg", ".jpeg"},
		},
		Search: SearchConfig{
			Threshold:    0.1,
			TopK:         5,
			QueryTimeout: "30s",
			CacheSize:    256,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		Daemon: DaemonConfig{
			Timeout: "30s",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user-level config file path, following XDG.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", AppName, "config.yaml")
	}
	return filepath.Join(home, ".config", AppName, "config.yaml")
}

// ProjectConfigPath returns the project config file in dir, preferring .yaml.
// The .yaml path is returned when neither exists.
func ProjectConfigPath(dir string) string {
	yml := filepath.Join(dir, "."+AppName+".yml")
	yamlPath := filepath.Join(dir, "."+AppName+".yaml")
	if !fileExists(yamlPath) && fileExists(yml) {
		return yml
	}
	return yamlPath
}

// Load builds the effective configuration for the working directory dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if path := ProjectConfigPath(dir); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over c. yaml.v3 leaves fields absent from the document
// untouched, so explicit zero values and false override earlier layers.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cberrors.ConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return cberrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies CLIPBRIDGE_* variables. Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLIPBRIDGE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CLIPBRIDGE_TOOL_ROOT"); v != "" {
		c.Tool.Root = v
	}
	if v := os.Getenv("CLIPBRIDGE_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("CLIPBRIDGE_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.Threshold = t
		}
	}
	if v := os.Getenv("CLIPBRIDGE_TOP_K"); v != "" {
		if k, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && k > 0 {
			c.Search.TopK = k
		}
	}
	if v := os.Getenv("CLIPBRIDGE_QUERY_TIMEOUT"); v != "" {
		c.Search.QueryTimeout = v
	}
	if v := os.Getenv("CLIPBRIDGE_SOCKET_PATH"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("CLIPBRIDGE_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CLIPBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// resolvePaths fills paths derived from DataDir and expands a leading ~.
func (c *Config) resolvePaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.Tool.Root == "" {
		c.Tool.Root = filepath.Join(c.DataDir, "tools")
	}
	c.Tool.Root = expandHome(c.Tool.Root)
	c.Index.Path = expandHome(c.Index.Path)
	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = filepath.Join(c.DataDir, "daemon.sock")
	}
	if c.Daemon.PIDPath == "" {
		c.Daemon.PIDPath = filepath.Join(c.DataDir, "daemon.pid")
	}
	if c.Telemetry.Path == "" {
		c.Telemetry.Path = filepath.Join(c.DataDir, "telemetry.db")
	}
	c.Daemon.SocketPath = expandHome(c.Daemon.SocketPath)
	c.Daemon.PIDPath = expandHome(c.Daemon.PIDPath)
	c.Telemetry.Path = expandHome(c.Telemetry.Path)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate reports the first invalid setting as ERR_101_CONFIG_INVALID.
func (c *Config) Validate() error {
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return cberrors.ConfigError(fmt.Sprintf("search.threshold must be between 0 and 1, got %g", c.Search.Threshold), nil)
	}
	if c.Search.TopK <= 0 {
		return cberrors.ConfigError(fmt.Sprintf("search.top_k must be positive, got %d", c.Search.TopK), nil)
	}
	if c.Search.CacheSize < 0 {
		return cberrors.ConfigError(fmt.Sprintf("search.cache_size must be non-negative, got %d", c.Search.CacheSize), nil)
	}
	for name, v := range map[string]string{
		"search.query_timeout": c.Search.QueryTimeout,
		"watch.debounce":       c.Watch.Debounce,
		"daemon.timeout":       c.Daemon.Timeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return cberrors.ConfigError(fmt.Sprintf("%s is not a duration: %q", name, v), err)
		}
	}
	if len(c.Index.Extensions) == 0 {
		return cberrors.ConfigError("index.extensions must not be empty", nil)
	}
	for _, ext := range c.Index.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return cberrors.ConfigError(fmt.Sprintf("index.extensions entries must start with '.', got %q", ext), nil)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return cberrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}
	return nil
}

// parseDuration accepts Go durations; empty and "0" mean zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// QueryTimeout returns search.query_timeout as a duration.
func (c *Config) QueryTimeout() time.Duration {
	d, _ := parseDuration(c.Search.QueryTimeout)
	return d
}

// WatchDebounce returns watch.debounce as a duration.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := parseDuration(c.Watch.Debounce)
	return d
}

// DaemonTimeout returns daemon.timeout as a duration.
func (c *Config) DaemonTimeout() time.Duration {
	d, _ := parseDuration(c.Daemon.Timeout)
	return d
}

// LogDir returns the directory for log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// WriteYAML writes the configuration to path, creating its directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
