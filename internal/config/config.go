// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the store, storage and pubsub sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendMinIO    = "minio"
	BackendPubSub   = "pubsub"
	ProviderGemini  = "gemini"
	ProviderNoop    = "noop"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	CORS       CORSConfig       `mapstructure:"cors"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Compose    ComposeConfig    `mapstructure:"compose"`
	Store      StoreConfig      `mapstructure:"store"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	RequestTimeoutSeconds  int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
	MaxRequestBytes        int64 `mapstructure:"max_request_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// HTTPConfig configures outbound page and image fetches.
type HTTPConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	PageTimeoutSeconds  int    `mapstructure:"page_timeout_seconds"`
	ImageTimeoutSeconds int    `mapstructure:"image_timeout_seconds"`
	MaxBodyBytes        int    `mapstructure:"max_body_bytes"`
}

// ExtractionConfig tunes the candidate cascade.
type ExtractionConfig struct {
	MaxCandidates    int      `mapstructure:"max_candidates"`
	PerSelector      int      `mapstructure:"per_selector"`
	StructuralTarget int      `mapstructure:"structural_target"`
	BroadLimit       int      `mapstructure:"broad_limit"`
	LastResortWindow int      `mapstructure:"last_resort_window"`
	LastResortLimit  int      `mapstructure:"last_resort_limit"`
	ExtraSelectors   []string `mapstructure:"extra_selectors"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	MaxParallel         int  `mapstructure:"max_parallel"`
	NavTimeoutSec       int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs       int  `mapstructure:"settle_delay_ms"`
	BodyLengthThreshold int  `mapstructure:"body_length_threshold"`
}

// ComposeConfig selects and configures the composition backend.
type ComposeConfig struct {
	Provider       string `mapstructure:"provider"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	Prompt         string `mapstructure:"prompt"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend      string `mapstructure:"backend"`
	SessionLimit int    `mapstructure:"session_limit"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// RedisConfig configures the Redis record store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// StorageConfig selects where person, garment and result images are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// MinIOConfig configures an S3-compatible archive bucket.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRYON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Container platforms inject a bare PORT.
	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", raw, err)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.max_request_bytes", 20<<20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.page_timeout_seconds", 15)
	v.SetDefault("http.image_timeout_seconds", 10)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("extraction.max_candidates", 5)
	v.SetDefault("extraction.per_selector", 3)
	v.SetDefault("extraction.structural_target", 3)
	v.SetDefault("extraction.broad_limit", 5)
	v.SetDefault("extraction.last_resort_window", 10)
	v.SetDefault("extraction.last_resort_limit", 2)
	v.SetDefault("extraction.extra_selectors", []string{})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 750)
	v.SetDefault("headless.body_length_threshold", 2048)
	v.SetDefault("compose.provider", ProviderNoop)
	v.SetDefault("compose.api_key", "")
	v.SetDefault("compose.base_url", "")
	v.SetDefault("compose.model", "")
	v.SetDefault("compose.system_prompt", "")
	v.SetDefault("compose.prompt", "")
	v.SetDefault("compose.timeout_seconds", 90)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.session_limit", 100)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "tryon_results")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "tryon:session:")
	v.SetDefault("redis.ttl_hours", 0)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.prefix", "tryon")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "")
	v.SetDefault("minio.use_ssl", true)
	v.SetDefault("minio.region", "")
	v.SetDefault("pubsub.backend", BackendNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("server.max_request_bytes must be > 0")
	}
	if c.HTTP.PageTimeoutSeconds <= 0 || c.HTTP.ImageTimeoutSeconds <= 0 {
		return fmt.Errorf("http.page_timeout_seconds and http.image_timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if err := c.Extraction.validate(); err != nil {
		return err
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if err := c.validateCompose(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validatePubSub()
}

func (e ExtractionConfig) validate() error {
	limits := map[string]int{
		"extraction.max_candidates":     e.MaxCandidates,
		"extraction.per_selector":       e.PerSelector,
		"extraction.structural_target":  e.StructuralTarget,
		"extraction.broad_limit":        e.BroadLimit,
		"extraction.last_resort_window": e.LastResortWindow,
		"extraction.last_resort_limit":  e.LastResortLimit,
	}
	for key, value := range limits {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	return nil
}

func (c Config) validateCompose() error {
	switch c.Compose.Provider {
	case ProviderNoop:
		return nil
	case ProviderGemini:
		if c.Compose.APIKey == "" {
			return fmt.Errorf("compose.api_key must be set when compose.provider is %q", ProviderGemini)
		}
		if c.Compose.TimeoutSeconds <= 0 {
			return fmt.Errorf("compose.timeout_seconds must be > 0")
		}
		return nil
	default:
		return fmt.Errorf("unknown compose.provider %q", c.Compose.Provider)
	}
}

func (c Config) validateStore() error {
	if c.Store.SessionLimit <= 0 {
		return fmt.Errorf("store.session_limit must be > 0")
	}
	switch c.Store.Backend {
	case BackendMemory:
		return nil
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.backend is %q", BackendPostgres)
		}
		return nil
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when store.backend is %q", BackendRedis)
		}
		if c.Redis.TTLHours < 0 {
			return fmt.Errorf("redis.ttl_hours must be >= 0")
		}
		return nil
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
		return nil
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is %q", BackendLocal)
		}
		return nil
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is %q", BackendGCS)
		}
		return nil
	case BackendMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket must be set when storage.backend is %q", BackendMinIO)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
}

func (c Config) validatePubSub() error {
	switch c.PubSub.Backend {
	case BackendNone:
		return nil
	case BackendMemory:
		if c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.topic_name must be set when pubsub.backend is %q", BackendMemory)
		}
		return nil
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.backend is %q", BackendPubSub)
		}
		return nil
	default:
		return fmt.Errorf("unknown pubsub.backend %q", c.PubSub.Backend)
	}
}

// RequestTimeout returns the per-request handler deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long in-flight requests get on shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
