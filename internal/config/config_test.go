package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points HOME and XDG_CONFIG_HOME at temp dirs so tests
// never read the developer's real config.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"CANVAS_URL", "CANVAS_ACCESS_TOKEN", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"CANVASAI_DATA_DIR", "CANVASAI_MIRROR_DIR", "CANVASAI_LOG_LEVEL",
		"CANVASAI_WORKERS", "CANVASAI_MAX_RETRIES", "CANVASAI_PORT", "CANVASAI_WATCH",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 100, cfg.Canvas.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Canvas.Timeout)
	assert.Equal(t, int64(512), cfg.Index.MaxFileSizeMB)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Index.BaseURL)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.False(t, cfg.Watcher.Enabled)
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "mirror"), cfg.Paths.MirrorDir)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	yaml := `
canvas:
  base_url: https://canvas.example.edu
  page_size: 50
sync:
  workers: 8
server:
  log_level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".canvasai.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://canvas.example.edu", cfg.Canvas.BaseURL)
	assert.Equal(t, 50, cfg.Canvas.PageSize)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	yaml := `
canvas:
  base_url: https://file.example.edu
sync:
  workers: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".canvasai.yaml"), []byte(yaml), 0o644))

	t.Setenv("CANVAS_URL", "https://env.example.edu")
	t.Setenv("CANVAS_ACCESS_TOKEN", "tok-123")
	t.Setenv("CANVASAI_WORKERS", "6")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.edu", cfg.Canvas.BaseURL)
	assert.Equal(t, "tok-123", cfg.Canvas.AccessToken)
	assert.Equal(t, 6, cfg.Sync.Workers)
}

func TestLoad_UserConfigThenProjectConfig(t *testing.T) {
	isolateEnv(t)

	// User config sets the data dir.
	userDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "canvasai")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("paths:\n  data_dir: /tmp/user-data\nsync:\n  workers: 2\n"), 0o644))

	// Project config overrides workers but not data dir.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".canvasai.yaml"),
		[]byte("sync:\n  workers: 7\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/user-data", cfg.Paths.DataDir)
	assert.Equal(t, 7, cfg.Sync.Workers)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".canvasai.yaml"),
		[]byte("canvas: [not a map"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad base url scheme",
			mutate:  func(c *Config) { c.Canvas.BaseURL = "ftp://canvas" },
			wantErr: "base_url",
		},
		{
			name:    "page size too large",
			mutate:  func(c *Config) { c.Canvas.PageSize = 500 },
			wantErr: "page_size",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Sync.Workers = 0 },
			wantErr: "workers",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRequireCanvas(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.RequireCanvas())

	cfg.Canvas.BaseURL = "https://canvas.example.edu"
	assert.Error(t, cfg.RequireCanvas())

	cfg.Canvas.AccessToken = "tok"
	assert.NoError(t, cfg.RequireCanvas())
}

func TestDerivedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "manifest.db"), cfg.ManifestPath())
	assert.Equal(t, filepath.Join("/data", "reports"), cfg.ReportsDir())
	assert.Equal(t, filepath.Join("/data", "search.bleve"), cfg.SearchIndexPath())
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := NewConfig()
	cfg.Canvas.BaseURL = "https://canvas.example.edu"
	cfg.Sync.Workers = 9
	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, "https://canvas.example.edu", loaded.Canvas.BaseURL)
	assert.Equal(t, 9, loaded.Sync.Workers)
}

func TestBackupUserConfig(t *testing.T) {
	isolateEnv(t)

	// No config: nothing to back up.
	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path)

	// With a config present, a timestamped backup appears.
	userDir := GetUserConfigDir()
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(GetUserConfigPath(), []byte("version: 1\n"), 0o644))

	path, err = BackupUserConfig()
	require.NoError(t, err)
	assert.Contains(t, path, BackupSuffix)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
