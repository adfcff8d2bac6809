package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"softhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8081
  host: "localhost"
  read_timeout: 10s

mirror:
  type: "sqlite"
  database:
    dsn: "/var/lib/softhub/mirror.db"

origin:
  type: "http"
  base_url: "https://content.example.com/data"
  timeout: 45s

security:
  rate_limit:
    enabled: true
    backend: "memory"
    captcha:
      limit: 5
      window: 30s
    download_token:
      limit: 20
      window: 1m
    download:
      limit: 40
      window: 2m
    catalog:
      limit: 60
      window: 1m
  download:
    token_ttl: 90s
    locales: ["en", "ar", "fr"]

sync:
  interval: 1h
  upsert_batch_size: 100
  delete_batch_size: 250
  batches_per_second: 4

logging:
  level: "debug"
  format: "text"
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8081, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)

	assert.Equal(t, models.MirrorTypeSQLite, config.Mirror.Type)
	assert.Equal(t, "/var/lib/softhub/mirror.db", config.Mirror.Database.DSN)

	assert.Equal(t, models.OriginTypeHTTP, config.Origin.Type)
	assert.Equal(t, "https://content.example.com/data", config.Origin.BaseURL)
	assert.Equal(t, 45*time.Second, config.Origin.Timeout)

	assert.Equal(t, models.RateRule{Limit: 5, Window: 30 * time.Second}, config.Security.RateLimit.Captcha)
	assert.Equal(t, models.RateRule{Limit: 20, Window: time.Minute}, config.Security.RateLimit.DownloadToken)
	assert.Equal(t, models.RateRule{Limit: 40, Window: 2 * time.Minute}, config.Security.RateLimit.Download)
	assert.Equal(t, 90*time.Second, config.Security.Download.TokenTTL)
	assert.Equal(t, []string{"en", "ar", "fr"}, config.Security.Download.Locales)

	assert.Equal(t, time.Hour, config.Sync.Interval)
	assert.Equal(t, 100, config.Sync.UpsertBatchSize)
	assert.Equal(t, 250, config.Sync.DeleteBatchSize)
	assert.Equal(t, 4.0, config.Sync.BatchesPerSecond)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
}

func TestLoad_WithDefaults(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 3000
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 3000, config.Server.Port)

	// Defaults
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, models.MirrorTypeMemory, config.Mirror.Type)
	assert.Equal(t, models.OriginTypeFile, config.Origin.Type)
	assert.True(t, config.Security.RateLimit.Enabled)
	assert.Empty(t, config.Security.Download.SigningSecret)
	assert.Empty(t, config.Sync.Secret)
	assert.Equal(t, "/metrics", config.Metrics.Path)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	t.Setenv("SOFTHUB_PORT", "9999")
	t.Setenv("SOFTHUB_HOST", "127.0.0.1")
	t.Setenv("SOFTHUB_MIRROR_TYPE", "supabase")
	t.Setenv("SOFTHUB_SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("SOFTHUB_SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("SOFTHUB_CAPTCHA_SECRET_KEY", "turnstile-secret")
	t.Setenv("SOFTHUB_DOWNLOAD_SIGNING_SECRET", "0123456789abcdef0123")
	t.Setenv("SOFTHUB_DOWNLOAD_LOCALES", "en, ar ,de")
	t.Setenv("SOFTHUB_SYNC_SECRET", "sync-secret")
	t.Setenv("SOFTHUB_SYNC_BATCHES_PER_SECOND", "2.5")
	t.Setenv("SOFTHUB_RATE_LIMIT_CAPTCHA_LIMIT", "3")
	t.Setenv("SOFTHUB_RATE_LIMIT_CAPTCHA_WINDOW", "10s")
	t.Setenv("SOFTHUB_RATE_LIMIT_DOWNLOAD_LIMIT", "7")
	t.Setenv("SOFTHUB_LOG_LEVEL", "warn")

	configFile := writeConfig(t, `
server:
  port: 8080
  host: "localhost"

logging:
  level: "info"
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	// Environment variables should override config file values
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, models.MirrorTypeSupabase, config.Mirror.Type)
	assert.True(t, config.Mirror.Supabase.Configured())
	assert.Equal(t, "turnstile-secret", config.Security.Captcha.SecretKey)
	assert.Equal(t, "0123456789abcdef0123", config.Security.Download.SigningSecret)
	assert.Equal(t, []string{"en", "ar", "de"}, config.Security.Download.Locales)
	assert.Equal(t, "sync-secret", config.Sync.Secret)
	assert.Equal(t, 2.5, config.Sync.BatchesPerSecond)
	assert.Equal(t, models.RateRule{Limit: 3, Window: 10 * time.Second}, config.Security.RateLimit.Captcha)
	assert.Equal(t, models.RateRule{Limit: 7, Window: time.Minute}, config.Security.RateLimit.Download)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestLoad_IgnoresUnparseableEnvironment(t *testing.T) {
	t.Setenv("SOFTHUB_PORT", "not-a-number")
	t.Setenv("SOFTHUB_DOWNLOAD_TOKEN_TTL", "forever")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 2*time.Minute, config.Security.Download.TokenTTL)
}

func TestLoad_ShortSigningSecret(t *testing.T) {
	t.Setenv("SOFTHUB_DOWNLOAD_SIGNING_SECRET", "too-short")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing secret must be at least")
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/non/existent/path.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8080
  invalid: [unclosed array
`)

	_, err := Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_EmptyConfigFile(t *testing.T) {
	configFile := writeConfig(t, "")

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "./data/software.json", config.Origin.Path)
}

func TestLoad_InvalidMirrorType(t *testing.T) {
	configFile := writeConfig(t, `
mirror:
  type: "dynamodb"
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mirror type")
}

func TestLoad_RedisBackendRequiresAddr(t *testing.T) {
	configFile := writeConfig(t, `
security:
  rate_limit:
    backend: "redis"
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis address is required")

	t.Setenv("SOFTHUB_REDIS_ADDR", "localhost:6379")
	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", config.Security.RateLimit.Redis.Addr)
}

func TestLoad_InlineSecretsStillApply(t *testing.T) {
	configFile := writeConfig(t, `
sync:
  secret: "inline-sync-secret"
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "inline-sync-secret", config.Sync.Secret)
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.example.yaml")

	require.NoError(t, SaveExample(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded models.Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, models.MirrorTypeSupabase, decoded.Mirror.Type)
	assert.Equal(t, models.OriginTypeHTTP, decoded.Origin.Type)
	assert.Empty(t, decoded.Sync.Secret)
	assert.Empty(t, decoded.Security.Download.SigningSecret)

	// The example must itself load.
	_, err = Load(path)
	assert.NoError(t, err)
}
