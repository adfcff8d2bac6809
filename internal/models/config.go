// Package models - Service configuration.
// This file defines the configuration tree for every softhub component.
//
// Configuration Philosophy:
// - Hierarchical grouping by component (server, mirror, origin, security, sync)
// - Defaults that start a working development server with no file at all
// - Validation catches malformed values early; missing secrets are not errors,
//   they switch the dependent feature off and the endpoint answers 501
package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Mirror store backends.
const (
	MirrorTypeNone     = ""
	MirrorTypeMemory   = "memory"
	MirrorTypePostgres = "postgres"
	MirrorTypeSQLite   = "sqlite"
	MirrorTypeSupabase = "supabase"
)

// Content origin readers.
const (
	OriginTypeHTTP = "http"
	OriginTypeFile = "file"
)

// Rate limit store backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// MinSigningSecretLength is the shortest download signing secret accepted at startup.
const MinSigningSecretLength = 16

var localePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Mirror        MirrorConfig        `yaml:"mirror" json:"mirror"`
	Origin        OriginConfig        `yaml:"origin" json:"origin"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Sync          SyncConfig          `yaml:"sync" json:"sync"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// MirrorConfig selects the read-optimized store the reconciler converges.
// An empty Type leaves the mirror unconfigured.
type MirrorConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Supabase SupabaseConfig `yaml:"supabase" json:"supabase"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// SupabaseConfig points at a PostgREST endpoint. ServiceKey must carry write
// privileges on Table.
type SupabaseConfig struct {
	URL        string        `yaml:"url" json:"url"`
	ServiceKey string        `yaml:"service_key" json:"-"`
	Table      string        `yaml:"table" json:"table"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// Configured reports whether both the endpoint and the key are present.
func (s SupabaseConfig) Configured() bool {
	return s.URL != "" && s.ServiceKey != ""
}

// OriginConfig locates the authoritative dataset.
type OriginConfig struct {
	Type    string        `yaml:"type" json:"type"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Token   string        `yaml:"token" json:"-"`
	Path    string        `yaml:"path" json:"path"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Captcha   CaptchaConfig   `yaml:"captcha" json:"captcha"`
	Download  DownloadConfig  `yaml:"download" json:"download"`
}

// RateLimitConfig holds one fixed-window rule per endpoint class.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Backend       string        `yaml:"backend" json:"backend"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`
	Captcha       RateRule      `yaml:"captcha" json:"captcha"`
	DownloadToken RateRule      `yaml:"download_token" json:"download_token"`
	Download      RateRule      `yaml:"download" json:"download"`
	Catalog       RateRule      `yaml:"catalog" json:"catalog"`
}

// RateRule allows Limit requests per Window for one client.
type RateRule struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type CaptchaConfig struct {
	Provider     string        `yaml:"provider" json:"provider"`
	SecretKey    string        `yaml:"secret_key" json:"-"`
	VerifyURL    string        `yaml:"verify_url" json:"verify_url"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	SessionTTL   time.Duration `yaml:"session_ttl" json:"session_ttl"`
	CookieSecure bool          `yaml:"cookie_secure" json:"cookie_secure"`
}

type DownloadConfig struct {
	SigningSecret string        `yaml:"signing_secret" json:"-"`
	TokenTTL      time.Duration `yaml:"token_ttl" json:"token_ttl"`
	Locales       []string      `yaml:"locales" json:"locales"`
}

// SyncConfig drives the dataset reconciler. An empty Secret disables the
// manual trigger; Interval <= 0 disables the scheduler.
type SyncConfig struct {
	Secret           string        `yaml:"secret" json:"-"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	UpsertBatchSize  int           `yaml:"upsert_batch_size" json:"upsert_batch_size"`
	DeleteBatchSize  int           `yaml:"delete_batch_size" json:"delete_batch_size"`
	BatchesPerSecond float64       `yaml:"batches_per_second" json:"batches_per_second"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig returns a configuration that runs a local development
// server: in-memory mirror, file origin, memory rate limiting, no secrets.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Mirror: MirrorConfig{
			Type: MirrorTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Supabase: SupabaseConfig{
				Table:   "software",
				Timeout: 20 * time.Second,
			},
		},
		Origin: OriginConfig{
			Type:    OriginTypeFile,
			Path:    "./data/software.json",
			Timeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:       true,
				Backend:       RateLimitBackendMemory,
				SweepInterval: 5 * time.Minute,
				Redis:         RedisConfig{PoolSize: 10},
				Captcha:       RateRule{Limit: 10, Window: time.Minute},
				DownloadToken: RateRule{Limit: 30, Window: time.Minute},
				Download:      RateRule{Limit: 30, Window: time.Minute},
				Catalog:       RateRule{Limit: 120, Window: time.Minute},
			},
			Captcha: CaptchaConfig{
				Provider:   "turnstile",
				Timeout:    8 * time.Second,
				SessionTTL: time.Hour,
			},
			Download: DownloadConfig{
				TokenTTL: 2 * time.Minute,
				Locales:  []string{"en", "ar"},
			},
		},
		Sync: SyncConfig{
			UpsertBatchSize: 200,
			DeleteBatchSize: 500,
			Timeout:         5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "softhub",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Mirror.Validate(); err != nil {
		return fmt.Errorf("invalid mirror config: %w", err)
	}
	if err := c.Origin.Validate(); err != nil {
		return fmt.Errorf("invalid origin config: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("invalid sync config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if sc.TLSEnabled && (sc.TLSCertFile == "" || sc.TLSKeyFile == "") {
		return errors.New("TLS cert and key files are required when TLS is enabled")
	}
	return nil
}

func (mc *MirrorConfig) Validate() error {
	switch mc.Type {
	case MirrorTypeNone, MirrorTypeMemory, MirrorTypeSupabase:
		// Supabase credentials are checked when the store is built so a
		// missing key degrades to 501 instead of refusing to start.
	case MirrorTypePostgres, MirrorTypeSQLite:
		if mc.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s mirror", mc.Type)
		}
	default:
		return fmt.Errorf("invalid mirror type: %s", mc.Type)
	}
	if mc.Database.MaxOpenConns < 0 {
		return errors.New("max open connections cannot be negative")
	}
	return nil
}

func (oc *OriginConfig) Validate() error {
	switch oc.Type {
	case OriginTypeHTTP:
		if oc.BaseURL == "" {
			return errors.New("base URL is required for http origin")
		}
	case OriginTypeFile:
		if oc.Path == "" {
			return errors.New("path is required for file origin")
		}
	default:
		return fmt.Errorf("invalid origin type: %s", oc.Type)
	}
	if oc.Timeout <= 0 {
		return errors.New("origin timeout must be positive")
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	rl := sec.RateLimit
	if rl.Enabled {
		switch rl.Backend {
		case RateLimitBackendMemory:
		case RateLimitBackendRedis:
			if rl.Redis.Addr == "" {
				return errors.New("redis address is required for the redis rate limit backend")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s", rl.Backend)
		}
		for name, rule := range map[string]RateRule{
			"captcha":        rl.Captcha,
			"download_token": rl.DownloadToken,
			"download":       rl.Download,
			"catalog":        rl.Catalog,
		} {
			if rule.Window <= 0 {
				return fmt.Errorf("rate limit window for %s must be positive", name)
			}
		}
	}

	if sec.Captcha.Timeout <= 0 {
		return errors.New("captcha timeout must be positive")
	}
	if sec.Captcha.SessionTTL <= 0 {
		return errors.New("captcha session TTL must be positive")
	}

	if s := sec.Download.SigningSecret; s != "" && len(s) < MinSigningSecretLength {
		return fmt.Errorf("download signing secret must be at least %d bytes", MinSigningSecretLength)
	}
	if sec.Download.TokenTTL <= 0 {
		return errors.New("download token TTL must be positive")
	}
	for _, l := range sec.Download.Locales {
		if !localePattern.MatchString(l) {
			return fmt.Errorf("invalid locale: %q", l)
		}
	}
	return nil
}

func (sc *SyncConfig) Validate() error {
	if sc.UpsertBatchSize <= 0 {
		return errors.New("upsert batch size must be positive")
	}
	if sc.DeleteBatchSize <= 0 {
		return errors.New("delete batch size must be positive")
	}
	if sc.BatchesPerSecond < 0 {
		return errors.New("batches per second cannot be negative")
	}
	if sc.Interval < 0 {
		return errors.New("sync interval cannot be negative")
	}
	if sc.Timeout <= 0 {
		return errors.New("sync timeout must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}

// ValidLocale reports whether locale has the shape of a BCP 47 language tag
// the site serves (e.g. "en", "pt-BR").
func ValidLocale(locale string) bool {
	return localePattern.MatchString(locale)
}
