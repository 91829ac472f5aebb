package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWithDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `port: 8080
file_ttl_hours: 12`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 12, cfg.FileTTLHours)

	assert.Equal(t, 24, cfg.SessionTTLHours)
	assert.Equal(t, 72, cfg.MaxSessionTTLHours)
	assert.Equal(t, 30, cfg.CleanupInterval)
	assert.Equal(t, 15, cfg.TokenTTLMinutes)
	assert.Equal(t, 10, cfg.MaxDownloads)
	assert.Equal(t, 100.0, cfg.MaxFileSizeMB)
	assert.Equal(t, 50, cfg.MaxFilesPerSession)
	assert.Equal(t, "./uploads", cfg.UploadPath)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "./data/relay.db", cfg.Database.DSN)
	assert.Equal(t, "memory", cfg.TokenStore)
	assert.Equal(t, "relay", cfg.Redis.Prefix)
}

func TestLoadConfigWithEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfigWithNonExistentFile(t *testing.T) {
	cfg, err := LoadConfig("/non/existent/path.yaml")

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfigWithInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid.yaml")

	invalidContent := `port: 8080
invalid: yaml: content: [`

	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfigWithAllFields(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "full_config.yaml")

	fullConfigContent := `port: 9000
base_url: "https://relay.example.com/"
upload_path: "/custom/uploads"
database:
  driver: pgx
  dsn: "postgres://relay:relay@db:5432/relay"
token_store: redis
redis:
  addr: "redis:6379"
  db: 2
  prefix: "r"
file_ttl_hours: 6
session_ttl_hours: 48
max_session_ttl_hours: 96
cleanup_interval_min: 5
token_ttl_min: 3
max_downloads: 4
max_file_size_mb: 12.5
max_files_per_session: 7
join_rate_per_minute: 60
admin_token: "s3cret"
log:
  level: debug
  development: true`

	err := os.WriteFile(configPath, []byte(fullConfigContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "https://relay.example.com/", cfg.BaseURL)
	assert.Equal(t, "/custom/uploads", cfg.UploadPath)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://relay:relay@db:5432/relay", cfg.Database.DSN)
	assert.Equal(t, "redis", cfg.TokenStore)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "r", cfg.Redis.Prefix)
	assert.Equal(t, 6, cfg.FileTTLHours)
	assert.Equal(t, 48, cfg.SessionTTLHours)
	assert.Equal(t, 96, cfg.MaxSessionTTLHours)
	assert.Equal(t, 96*time.Hour, cfg.MaxSessionTTL())
	assert.Equal(t, 5, cfg.CleanupInterval)
	assert.Equal(t, 3, cfg.TokenTTLMinutes)
	assert.Equal(t, 4, cfg.MaxDownloads)
	assert.Equal(t, 12.5, cfg.MaxFileSizeMB)
	assert.Equal(t, 7, cfg.MaxFilesPerSession)
	assert.Equal(t, 60, cfg.JoinRatePerMinute)
	assert.Equal(t, "s3cret", cfg.AdminToken)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("RELAY_MAX_DOWNLOADS", "3")
	t.Setenv("RELAY_DATABASE_DSN", "/tmp/override.db")

	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxDownloads)
	assert.Equal(t, "/tmp/override.db", cfg.Database.DSN)
}

func TestLoadConfigRejectsInvalidLimits(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "bad.yaml")

	err := os.WriteFile(configPath, []byte("max_downloads: 0\n"), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	assert.ErrorContains(t, err, "max_downloads")
	assert.Nil(t, cfg)
}

func TestValidateRejectsSessionCeilingBelowDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.MaxSessionTTLHours = cfg.SessionTTLHours
	assert.NoError(t, cfg.Validate())

	cfg.MaxSessionTTLHours = cfg.SessionTTLHours - 1
	assert.ErrorContains(t, cfg.Validate(), "max_session_ttl_hours")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.Database.Driver = "mongodb"
	assert.Error(t, cfg.Validate())

	cfg.Database.Driver = "sqlite3"
	cfg.TokenStore = "memcached"
	assert.Error(t, cfg.Validate())
}

func TestMaxSizeToBytes(t *testing.T) {
	cfg := &Config{MaxFileSizeMB: 100.0}

	result := cfg.MaxSizeToBytes()
	expected := int64(100 * 1024 * 1024)

	assert.Equal(t, expected, result)
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		FileTTLHours:    24,
		SessionTTLHours: 2,
		TokenTTLMinutes: 15,
		CleanupInterval: 30,
	}

	assert.Equal(t, 24*time.Hour, cfg.FileTTL())
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL())
	assert.Equal(t, 30*time.Minute, cfg.CleanupEvery())
}

func TestLoadPrefersExplicitPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("port: 7000\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)

	require.NoError(t, os.WriteFile(DefaultConfigPath, []byte("port: 6000\n"), 0644))
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
}
