package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"softhub/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// fileSecrets mirrors the secret-bearing keys so a config file that carries
// them inline can be flagged.
type fileSecrets struct {
	Mirror struct {
		Supabase struct {
			ServiceKey string `yaml:"service_key"`
		} `yaml:"supabase"`
	} `yaml:"mirror"`
	Security struct {
		Captcha struct {
			SecretKey string `yaml:"secret_key"`
		} `yaml:"captcha"`
		Download struct {
			SigningSecret string `yaml:"signing_secret"`
		} `yaml:"download"`
	} `yaml:"security"`
	Sync struct {
		Secret string `yaml:"secret"`
	} `yaml:"sync"`
}

// warnInlineSecrets logs a warning for each secret found in the YAML data.
// The values are still honoured.
func warnInlineSecrets(data []byte) {
	var fs fileSecrets
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return
	}
	inline := map[string]string{
		"mirror.supabase.service_key":      fs.Mirror.Supabase.ServiceKey,
		"security.captcha.secret_key":      fs.Security.Captcha.SecretKey,
		"security.download.signing_secret": fs.Security.Download.SigningSecret,
		"sync.secret":                      fs.Sync.Secret,
	}
	for key, value := range inline {
		if value != "" {
			slog.Warn("Secret set in config file; prefer the SOFTHUB_* environment variable.", "config_key", key)
		}
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnInlineSecrets(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment overrides configuration from SOFTHUB_* environment
// variables. Unparseable numeric and duration values are ignored.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("SOFTHUB_PORT", &config.Server.Port)
	envString("SOFTHUB_HOST", &config.Server.Host)
	envDuration("SOFTHUB_READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("SOFTHUB_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("SOFTHUB_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("SOFTHUB_TLS_ENABLED", &config.Server.TLSEnabled)
	envString("SOFTHUB_TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("SOFTHUB_TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Mirror store
	envString("SOFTHUB_MIRROR_TYPE", &config.Mirror.Type)
	envString("SOFTHUB_DATABASE_DSN", &config.Mirror.Database.DSN)
	envInt("SOFTHUB_DATABASE_MAX_OPEN_CONNS", &config.Mirror.Database.MaxOpenConns)
	envString("SOFTHUB_SUPABASE_URL", &config.Mirror.Supabase.URL)
	envString("SOFTHUB_SUPABASE_SERVICE_KEY", &config.Mirror.Supabase.ServiceKey)
	envString("SOFTHUB_SUPABASE_TABLE", &config.Mirror.Supabase.Table)

	// Content origin
	envString("SOFTHUB_ORIGIN_TYPE", &config.Origin.Type)
	envString("SOFTHUB_ORIGIN_BASE_URL", &config.Origin.BaseURL)
	envString("SOFTHUB_ORIGIN_TOKEN", &config.Origin.Token)
	envString("SOFTHUB_ORIGIN_PATH", &config.Origin.Path)
	envDuration("SOFTHUB_ORIGIN_TIMEOUT", &config.Origin.Timeout)

	// Rate limiting
	rl := &config.Security.RateLimit
	envBool("SOFTHUB_RATE_LIMIT_ENABLED", &rl.Enabled)
	envString("SOFTHUB_RATE_LIMIT_BACKEND", &rl.Backend)
	envString("SOFTHUB_REDIS_ADDR", &rl.Redis.Addr)
	envString("SOFTHUB_REDIS_PASSWORD", &rl.Redis.Password)
	envInt("SOFTHUB_REDIS_DB", &rl.Redis.DB)
	envInt("SOFTHUB_REDIS_POOL_SIZE", &rl.Redis.PoolSize)
	envInt("SOFTHUB_RATE_LIMIT_CAPTCHA_LIMIT", &rl.Captcha.Limit)
	envDuration("SOFTHUB_RATE_LIMIT_CAPTCHA_WINDOW", &rl.Captcha.Window)
	envInt("SOFTHUB_RATE_LIMIT_DOWNLOAD_TOKEN_LIMIT", &rl.DownloadToken.Limit)
	envDuration("SOFTHUB_RATE_LIMIT_DOWNLOAD_TOKEN_WINDOW", &rl.DownloadToken.Window)
	envInt("SOFTHUB_RATE_LIMIT_DOWNLOAD_LIMIT", &rl.Download.Limit)
	envDuration("SOFTHUB_RATE_LIMIT_DOWNLOAD_WINDOW", &rl.Download.Window)
	envInt("SOFTHUB_RATE_LIMIT_CATALOG_LIMIT", &rl.Catalog.Limit)
	envDuration("SOFTHUB_RATE_LIMIT_CATALOG_WINDOW", &rl.Catalog.Window)

	// Captcha and download tokens
	envString("SOFTHUB_CAPTCHA_SECRET_KEY", &config.Security.Captcha.SecretKey)
	envString("SOFTHUB_CAPTCHA_VERIFY_URL", &config.Security.Captcha.VerifyURL)
	envDuration("SOFTHUB_CAPTCHA_SESSION_TTL", &config.Security.Captcha.SessionTTL)
	envBool("SOFTHUB_CAPTCHA_COOKIE_SECURE", &config.Security.Captcha.CookieSecure)
	envString("SOFTHUB_DOWNLOAD_SIGNING_SECRET", &config.Security.Download.SigningSecret)
	envDuration("SOFTHUB_DOWNLOAD_TOKEN_TTL", &config.Security.Download.TokenTTL)
	if locales := os.Getenv("SOFTHUB_DOWNLOAD_LOCALES"); locales != "" {
		config.Security.Download.Locales = splitList(locales)
	}

	// Sync
	envString("SOFTHUB_SYNC_SECRET", &config.Sync.Secret)
	envDuration("SOFTHUB_SYNC_INTERVAL", &config.Sync.Interval)
	envInt("SOFTHUB_SYNC_UPSERT_BATCH_SIZE", &config.Sync.UpsertBatchSize)
	envInt("SOFTHUB_SYNC_DELETE_BATCH_SIZE", &config.Sync.DeleteBatchSize)
	if bps := os.Getenv("SOFTHUB_SYNC_BATCHES_PER_SECOND"); bps != "" {
		if f, err := strconv.ParseFloat(bps, 64); err == nil {
			config.Sync.BatchesPerSecond = f
		}
	}
	envDuration("SOFTHUB_SYNC_TIMEOUT", &config.Sync.Timeout)

	// Logging configuration
	envString("SOFTHUB_LOG_LEVEL", &config.Logging.Level)
	envString("SOFTHUB_LOG_FORMAT", &config.Logging.Format)
	envString("SOFTHUB_LOG_OUTPUT", &config.Logging.Output)
	envString("SOFTHUB_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("SOFTHUB_METRICS_ENABLED", &config.Metrics.Enabled)
	envString("SOFTHUB_METRICS_PATH", &config.Metrics.Path)
	envInt("SOFTHUB_METRICS_PORT", &config.Metrics.Port)

	// Tracing
	envBool("SOFTHUB_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("SOFTHUB_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("SOFTHUB_TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Secrets are left empty; they belong in the environment.
	config.Mirror.Type = models.MirrorTypeSupabase
	config.Mirror.Supabase.URL = "https://your-project.supabase.co"
	config.Origin.Type = models.OriginTypeHTTP
	config.Origin.BaseURL = "https://raw.githubusercontent.com/your-org/your-content/main/public/data"
	config.Sync.Interval = time.Hour
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
