package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, kiddoalert.DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, "store.json", filepath.Base(cfg.Store.Path))
	assert.Equal(t, "credentials.json", filepath.Base(cfg.Secure.Path))
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr())
	assert.Equal(t, kiddoalert.DefaultRedisPrefix, cfg.Store.Redis.Prefix)
	assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 30, cfg.Sync.HistoryDays)
	assert.True(t, cfg.Sync.SeedDemo)
	assert.Equal(t, 100.0, cfg.Geofence.DefaultRadius)
	assert.Empty(t, cfg.Status.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiddoalert.yaml")
	content := `
api:
  base_url: https://api.kiddoalert.example/api/v1
  timeout: 10s
store:
  backend: redis
  redis:
    host: cache.internal
    port: 6380
sync:
  poll_interval: 1m
  seed_demo: false
geofence:
  default_radius: 150
status:
  addr: 127.0.0.1:9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.kiddoalert.example/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "cache.internal:6380", cfg.Store.Redis.Addr())
	assert.Equal(t, time.Minute, cfg.Sync.PollInterval)
	assert.Equal(t, "127.0.0.1:9090", cfg.Status.Addr)

	lib := cfg.Library()
	assert.True(t, lib.SkipDemoData)
	assert.Equal(t, 150.0, lib.DefaultRadius)
	assert.Equal(t, time.Minute, lib.PollInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KIDDOALERT_API_BASE_URL", "http://10.0.0.5:3000/api/v1")
	t.Setenv("KIDDOALERT_SYNC_HISTORY_DAYS", "14")
	t.Setenv("KIDDOALERT_SECURE_PASSPHRASE", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:3000/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 14, cfg.Sync.HistoryDays)
	assert.Equal(t, "hunter2", cfg.Secure.Passphrase)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "s3" }, field: "store.backend"},
		{name: "file without path", mutate: func(c *Config) { c.Store.Path = "" }, field: "store.path"},
		{name: "redis without host", mutate: func(c *Config) { c.Store.Backend = BackendRedis; c.Store.Redis.Host = "" }, field: "store.redis.host"},
		{name: "no credentials path", mutate: func(c *Config) { c.Secure.Path = "" }, field: "secure.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			var vErr *kiddoalert.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.API.BaseURL = "::not a url"
	assert.ErrorIs(t, cfg.Validate(), kiddoalert.ErrInvalidRequest)
}

func TestLoadDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, LoadDotEnv())

	require.NoError(t, os.WriteFile(".env", []byte("KIDDOALERT_STATUS_ADDR=127.0.0.1:7070\n"), 0600))
	t.Setenv("KIDDOALERT_STATUS_ADDR", "")
	require.NoError(t, os.Unsetenv("KIDDOALERT_STATUS_ADDR"))
	require.NoError(t, LoadDotEnv())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Status.Addr)
}
