// Package config loads and validates the sync engine configuration.
//
// Configuration is layered, in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/canvasai/config.yaml)
//  3. Project config (.canvasai.yaml in the working directory)
//  4. Environment variables (CANVAS_*, OPENAI_*, CANVASAI_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete canvasai configuration.
type Config struct {
	Version int          `yaml:"version" json:"version"`
	Canvas  CanvasConfig `yaml:"canvas" json:"canvas"`
	Index   IndexConfig  `yaml:"index" json:"index"`
	Sync    SyncConfig   `yaml:"sync" json:"sync"`
	Paths   PathsConfig  `yaml:"paths" json:"paths"`
	Server  ServerConfig `yaml:"server" json:"server"`
	Watcher WatcherConfig `yaml:"watcher" json:"watcher"`
}

// CanvasConfig configures access to the Canvas LMS API.
type CanvasConfig struct {
	// BaseURL is the Canvas instance root, e.g. https://canvas.example.edu.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// AccessToken is the Canvas API bearer token.
	// Prefer the CANVAS_ACCESS_TOKEN env var over writing it to disk.
	AccessToken string `yaml:"access_token" json:"-"`
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// PageSize is the per_page parameter sent to paginated endpoints.
	PageSize int `yaml:"page_size" json:"page_size"`
	// CacheSize is the number of API responses kept in the LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Courses restricts syncing to the given course IDs (empty = all active).
	Courses []int64 `yaml:"courses" json:"courses"`
}

// IndexConfig configures the remote semantic index service.
type IndexConfig struct {
	// APIKey authenticates against the index service.
	APIKey string `yaml:"api_key" json:"-"`
	// BaseURL is the index service endpoint (default: https://api.openai.com/v1).
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Timeout is the per-request HTTP timeout. Uploads can be large.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxFileSizeMB is the upload size ceiling (default: 512).
	MaxFileSizeMB int64 `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// SyncConfig configures the sync orchestrator.
type SyncConfig struct {
	// Workers is the size of the download/upload worker pool.
	Workers int `yaml:"workers" json:"workers"`
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the initial backoff delay.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// ReportHistory is how many sync reports to keep on disk.
	ReportHistory int `yaml:"report_history" json:"report_history"`
}

// PathsConfig configures where the engine keeps its state.
type PathsConfig struct {
	// DataDir holds the manifest database, reports and search index.
	// Defaults to ~/.canvasai.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// MirrorDir is the root of the local file mirror.
	// Defaults to <data_dir>/mirror.
	MirrorDir string `yaml:"mirror_dir" json:"mirror_dir"`
}

// ServerConfig configures the HTTP API and logging.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// WatcherConfig configures the mirror drift watcher.
type WatcherConfig struct {
	// Enabled turns on filesystem watching of the mirror (default: false).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Debounce is the event coalescing window.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Canvas: CanvasConfig{
			Timeout:   30 * time.Second,
			PageSize:  100,
			CacheSize: 256,
		},
		Index: IndexConfig{
			BaseURL:       "https://api.openai.com/v1",
			Timeout:       5 * time.Minute,
			MaxFileSizeMB: 512,
		},
		Sync: SyncConfig{
			Workers:       4,
			MaxRetries:    3,
			RetryDelay:    time.Second,
			ReportHistory: 10,
		},
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8877,
			LogLevel: "info",
		},
		Watcher: WatcherConfig{
			Enabled:  false,
			Debounce: 500 * time.Millisecond,
		},
	}
}

// DefaultDataDir returns the default data directory (~/.canvasai).
// Falls back to temp directory if home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".canvasai")
	}
	return filepath.Join(home, ".canvasai")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/canvasai/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/canvasai/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "canvasai", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "canvasai", "config.yaml")
	}
	return filepath.Join(home, ".config", "canvasai", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration starting from the given directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if cfg.Paths.MirrorDir == "" {
		cfg.Paths.MirrorDir = filepath.Join(cfg.Paths.DataDir, "mirror")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .canvasai.yaml or .canvasai.yml.
func (c *Config) loadFromFile(dir string) error {
	// .yaml takes precedence over .yml
	yamlPath := filepath.Join(dir, ".canvasai.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".canvasai.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Canvas
	if other.Canvas.BaseURL != "" {
		c.Canvas.BaseURL = other.Canvas.BaseURL
	}
	if other.Canvas.AccessToken != "" {
		c.Canvas.AccessToken = other.Canvas.AccessToken
	}
	if other.Canvas.Timeout != 0 {
		c.Canvas.Timeout = other.Canvas.Timeout
	}
	if other.Canvas.PageSize != 0 {
		c.Canvas.PageSize = other.Canvas.PageSize
	}
	if other.Canvas.CacheSize != 0 {
		c.Canvas.CacheSize = other.Canvas.CacheSize
	}
	if len(other.Canvas.Courses) > 0 {
		c.Canvas.Courses = other.Canvas.Courses
	}

	// Index
	if other.Index.APIKey != "" {
		c.Index.APIKey = other.Index.APIKey
	}
	if other.Index.BaseURL != "" {
		c.Index.BaseURL = other.Index.BaseURL
	}
	if other.Index.Timeout != 0 {
		c.Index.Timeout = other.Index.Timeout
	}
	if other.Index.MaxFileSizeMB != 0 {
		c.Index.MaxFileSizeMB = other.Index.MaxFileSizeMB
	}

	// Sync
	if other.Sync.Workers != 0 {
		c.Sync.Workers = other.Sync.Workers
	}
	if other.Sync.MaxRetries != 0 {
		c.Sync.MaxRetries = other.Sync.MaxRetries
	}
	if other.Sync.RetryDelay != 0 {
		c.Sync.RetryDelay = other.Sync.RetryDelay
	}
	if other.Sync.ReportHistory != 0 {
		c.Sync.ReportHistory = other.Sync.ReportHistory
	}

	// Paths
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Paths.MirrorDir != "" {
		c.Paths.MirrorDir = other.Paths.MirrorDir
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Watcher
	if other.Watcher.Enabled {
		c.Watcher.Enabled = true
	}
	if other.Watcher.Debounce != 0 {
		c.Watcher.Debounce = other.Watcher.Debounce
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CANVAS_URL"); v != "" {
		c.Canvas.BaseURL = v
	}
	if v := os.Getenv("CANVAS_ACCESS_TOKEN"); v != "" {
		c.Canvas.AccessToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Index.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Index.BaseURL = v
	}

	if v := os.Getenv("CANVASAI_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("CANVASAI_MIRROR_DIR"); v != "" {
		c.Paths.MirrorDir = v
	}
	if v := os.Getenv("CANVASAI_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CANVASAI_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.Workers = n
		}
	}
	if v := os.Getenv("CANVASAI_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("CANVASAI_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("CANVASAI_WATCH"); v != "" {
		c.Watcher.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Canvas.BaseURL != "" &&
		!strings.HasPrefix(c.Canvas.BaseURL, "http://") &&
		!strings.HasPrefix(c.Canvas.BaseURL, "https://") {
		return fmt.Errorf("canvas.base_url must start with http:// or https://, got %s", c.Canvas.BaseURL)
	}

	if c.Canvas.PageSize < 1 || c.Canvas.PageSize > 100 {
		return fmt.Errorf("canvas.page_size must be between 1 and 100, got %d", c.Canvas.PageSize)
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be non-negative, got %d", c.Sync.MaxRetries)
	}

	if c.Index.MaxFileSizeMB < 1 {
		return fmt.Errorf("index.max_file_size_mb must be at least 1, got %d", c.Index.MaxFileSizeMB)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

// RequireCanvas returns an error unless Canvas credentials are configured.
func (c *Config) RequireCanvas() error {
	if c.Canvas.BaseURL == "" {
		return fmt.Errorf("canvas.base_url is not set (set CANVAS_URL or add it to %s)", GetUserConfigPath())
	}
	if c.Canvas.AccessToken == "" {
		return fmt.Errorf("canvas.access_token is not set (set CANVAS_ACCESS_TOKEN)")
	}
	return nil
}

// RequireIndex returns an error unless index service credentials are configured.
func (c *Config) RequireIndex() error {
	if c.Index.APIKey == "" {
		return fmt.Errorf("index.api_key is not set (set OPENAI_API_KEY)")
	}
	return nil
}

// ManifestPath returns the path to the manifest database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.DataDir, "manifest.db")
}

// ReportsDir returns the directory where sync reports are written.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.Paths.DataDir, "reports")
}

// SearchIndexPath returns the path to the local full-text search index.
func (c *Config) SearchIndexPath() string {
	return filepath.Join(c.Paths.DataDir, "search.bleve")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
