package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Constants for default paths
const (
	DefaultConfigPath = "./config.yaml"
	defaultUploadPath = "./uploads"
	defaultSQLitePath = "./data/relay.db"
)

// Database selects and addresses the durable record store
type Database struct {
	Driver string `mapstructure:"driver" json:"driver"` // sqlite3 or pgx
	DSN    string `mapstructure:"dsn" json:"-"`
}

// Redis addresses the optional token store
type Redis struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// Log configures the zap logger
type Log struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
}

// Config represents the application configuration
type Config struct {
	Port               int      `mapstructure:"port" json:"port"`
	BaseURL            string   `mapstructure:"base_url" json:"base_url"`
	UploadPath         string   `mapstructure:"upload_path" json:"upload_path"`
	Database           Database `mapstructure:"database" json:"database"`
	TokenStore         string   `mapstructure:"token_store" json:"token_store"` // memory or redis
	Redis              Redis    `mapstructure:"redis" json:"redis"`
	FileTTLHours       int      `mapstructure:"file_ttl_hours" json:"file_ttl_hours"`
	SessionTTLHours    int      `mapstructure:"session_ttl_hours" json:"session_ttl_hours"`
	MaxSessionTTLHours int      `mapstructure:"max_session_ttl_hours" json:"max_session_ttl_hours"`
	CleanupInterval    int      `mapstructure:"cleanup_interval_min" json:"cleanup_interval_min"`
	TokenTTLMinutes    int      `mapstructure:"token_ttl_min" json:"token_ttl_min"`
	MaxDownloads       int      `mapstructure:"max_downloads" json:"max_downloads"`
	MaxFileSizeMB      float64  `mapstructure:"max_file_size_mb" json:"max_file_size_mb"`
	MaxFilesPerSession int      `mapstructure:"max_files_per_session" json:"max_files_per_session"`
	JoinRatePerMinute  int      `mapstructure:"join_rate_per_minute" json:"join_rate_per_minute"`
	AdminToken         string   `mapstructure:"admin_token" json:"-"`
	Log                Log      `mapstructure:"log" json:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("base_url", "http://localhost:5000/")
	v.SetDefault("upload_path", defaultUploadPath)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", defaultSQLitePath)
	v.SetDefault("token_store", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "relay")
	v.SetDefault("file_ttl_hours", 24)
	v.SetDefault("session_ttl_hours", 24)
	v.SetDefault("max_session_ttl_hours", 72)
	v.SetDefault("cleanup_interval_min", 30)
	v.SetDefault("token_ttl_min", 15)
	v.SetDefault("max_downloads", 10)
	v.SetDefault("max_file_size_mb", 100.0)
	v.SetDefault("max_files_per_session", 50)
	v.SetDefault("join_rate_per_minute", 20)
	v.SetDefault("admin_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration with environment overrides applied
func Default() (*Config, error) {
	return decode(newViper())
}

// LoadConfig loads a configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return decode(v)
}

// Load reads path when one is given. Otherwise ./config.yaml is used when it
// exists and the built-in defaults when it does not.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadConfig(path)
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return LoadConfig(DefaultConfigPath)
	}
	return Default()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects limits that would disable the relay's guarantees
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"file_ttl_hours", float64(c.FileTTLHours)},
		{"session_ttl_hours", float64(c.SessionTTLHours)},
		{"max_session_ttl_hours", float64(c.MaxSessionTTLHours)},
		{"cleanup_interval_min", float64(c.CleanupInterval)},
		{"token_ttl_min", float64(c.TokenTTLMinutes)},
		{"max_downloads", float64(c.MaxDownloads)},
		{"max_file_size_mb", c.MaxFileSizeMB},
		{"max_files_per_session", float64(c.MaxFilesPerSession)},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s must be greater than 0", check.name)
		}
	}

	if c.MaxSessionTTLHours < c.SessionTTLHours {
		return fmt.Errorf("max_session_ttl_hours (%d) must not be below session_ttl_hours (%d)",
			c.MaxSessionTTLHours, c.SessionTTLHours)
	}

	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.TokenStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported token store: %q", c.TokenStore)
	}

	return nil
}

func (c *Config) MaxSizeToBytes() int64 {
	return int64(c.MaxFileSizeMB * 1024 * 1024)
}

func (c *Config) FileTTL() time.Duration {
	return time.Duration(c.FileTTLHours) * time.Hour
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) MaxSessionTTL() time.Duration {
	return time.Duration(c.MaxSessionTTLHours) * time.Hour
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

func (c *Config) CleanupEvery() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Minute
}
