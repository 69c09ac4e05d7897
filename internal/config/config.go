// Package config provides configuration loading for the kiddoalert CLI and agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

// Store backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Store    StoreConfig    `mapstructure:"store"`
	Secure   SecureConfig   `mapstructure:"secure"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Geofence GeofenceConfig `mapstructure:"geofence"`
	Status   StatusConfig   `mapstructure:"status"`
}

// APIConfig holds the remote service settings.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects and configures the local mirror backend.
type StoreConfig struct {
	Backend string      `mapstructure:"backend"` // file, redis
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SecureConfig locates the sealed credential file.
type SecureConfig struct {
	Path       string `mapstructure:"path"`
	Passphrase string `mapstructure:"passphrase"`
}

// SyncConfig holds reconciler timing and retention.
type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HistoryDays  int           `mapstructure:"history_days"`
	SeedDemo     bool          `mapstructure:"seed_demo"`
}

// GeofenceConfig holds geofence defaults.
type GeofenceConfig struct {
	DefaultRadius float64 `mapstructure:"default_radius"`
}

// StatusConfig holds the local status server settings. An empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// Library converts the loaded settings into the root package Config.
func (c *Config) Library() kiddoalert.Config {
	return kiddoalert.Config{
		BaseURL:              c.API.BaseURL,
		HTTPTimeout:          c.API.Timeout,
		PollInterval:         c.Sync.PollInterval,
		HistoryRetentionDays: c.Sync.HistoryDays,
		DefaultRadius:        c.Geofence.DefaultRadius,
		SkipDemoData:         !c.Sync.SeedDemo,
	}
}

// Validate checks the settings that the library Config does not cover.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Path == "" {
			return kiddoalert.NewValidationError("store.path", "required for the file backend")
		}
	case BackendRedis:
		if c.Store.Redis.Host == "" {
			return kiddoalert.NewValidationError("store.redis.host", "required for the redis backend")
		}
	default:
		return kiddoalert.NewValidationError("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}
	if c.Secure.Path == "" {
		return kiddoalert.NewValidationError("secure.path", "required")
	}
	lib := c.Library()
	return lib.Validate()
}

// LoadDotEnv loads .env from the working directory if present. Variables already
// set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads configuration from an optional YAML file and KIDDOALERT_ environment
// variables. An empty path searches the working directory and the user config dir.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDir())
	}

	v.SetEnvPrefix("KIDDOALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// defaultDir is where the store and credentials live unless configured.
func defaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "kiddoalert")
	}
	return ".kiddoalert"
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	dir := defaultDir()

	v.SetDefault("api.base_url", kiddoalert.DefaultBaseURL)
	v.SetDefault("api.timeout", kiddoalert.DefaultHTTPTimeout.String())

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", filepath.Join(dir, "store.json"))
	v.SetDefault("store.redis.host", "localhost")
	v.SetDefault("store.redis.port", 6379)
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", kiddoalert.DefaultRedisPrefix)

	v.SetDefault("secure.path", filepath.Join(dir, "credentials.json"))
	v.SetDefault("secure.passphrase", "")

	v.SetDefault("sync.poll_interval", kiddoalert.DefaultPollInterval.String())
	v.SetDefault("sync.history_days", kiddoalert.DefaultHistoryRetentionDays)
	v.SetDefault("sync.seed_demo", true)

	v.SetDefault("geofence.default_radius", kiddoalert.DefaultRadius)

	v.SetDefault("status.addr", "")
}
