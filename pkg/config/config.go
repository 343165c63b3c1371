package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-sync.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine database (PostgreSQL with pgvector). Managed schemas live in the
	// same database.
	Database DatabaseConfig `yaml:"database"`

	// Optional change-event relay. Leave host empty to disable.
	Redis RedisConfig `yaml:"redis"`

	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sync      SyncConfig      `yaml:"sync"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Search    SearchConfig    `yaml:"search"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_sync"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection settings for the change-event relay.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// VectorConfig controls the embedding store.
type VectorConfig struct {
	// Dimension every stored and query embedding must have.
	Dimension int `yaml:"dimension" env:"VECTOR_DIMENSION" env-default:"1024"`
	// ExactScanThreshold is the record count at or below which searches use an
	// exact scan instead of the ANN index.
	ExactScanThreshold int64 `yaml:"exact_scan_threshold" env:"VECTOR_EXACT_SCAN_THRESHOLD" env-default:"1000"`
	// Backend is "postgres" (pgvector) or "memory".
	Backend            string `yaml:"backend" env:"VECTOR_BACKEND" env-default:"postgres"`
	HNSWM              int    `yaml:"hnsw_m" env:"VECTOR_HNSW_M" env-default:"16"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" env:"VECTOR_HNSW_EF_CONSTRUCTION" env-default:"64"`
	HNSWEfSearch       int    `yaml:"hnsw_ef_search" env:"VECTOR_HNSW_EF_SEARCH" env-default:"100"`
	// IterativeScan enables pgvector 0.8 iterative index scans so filtered
	// queries still return enough rows. Values: off, relaxed_order, strict_order.
	IterativeScan string `yaml:"iterative_scan" env:"VECTOR_ITERATIVE_SCAN" env-default:"strict_order"`
}

// EmbeddingConfig configures the OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "hash", the
	// offline feature-hashing embedder.
	Provider  string        `yaml:"provider" env:"EMBEDDING_PROVIDER" env-default:"openai"`
	BaseURL   string        `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model     string        `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey    string        `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	BatchSize int           `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE" env-default:"32"`
	Timeout   time.Duration `yaml:"timeout" env:"EMBEDDING_TIMEOUT" env-default:"30s"`
}

// SyncConfig controls bulk table synchronization.
type SyncConfig struct {
	BatchSize  int `yaml:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"200"`
	MaxWorkers int `yaml:"max_workers" env:"SYNC_MAX_WORKERS" env-default:"4"`
	// StaleAfter is how long a table may stay running before serve marks it
	// failed at startup. Zero disables the check.
	StaleAfter time.Duration `yaml:"stale_after" env:"SYNC_STALE_AFTER" env-default:"1h"`
}

// NotifierConfig controls change notification delivery.
type NotifierConfig struct {
	Channel      string `yaml:"channel" env:"NOTIFIER_CHANNEL" env-default:"engine_data_change"`
	ListenerName string `yaml:"listener_name" env:"NOTIFIER_LISTENER_NAME" env-default:"reindexer"`
	// ReconcileLookback is how many change-log entries before the stored cursor
	// are re-read on reconnect. Covers sequence numbers committed out of order.
	ReconcileLookback int64         `yaml:"reconcile_lookback" env:"NOTIFIER_RECONCILE_LOOKBACK" env-default:"100"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"NOTIFIER_RECONNECT_DELAY" env-default:"1s"`
	// MaxReconnectAttempts is the number of consecutive connection failures
	// after which the listener gives up. 0 retries forever.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" env:"NOTIFIER_MAX_RECONNECT_ATTEMPTS" env-default:"10"`
	RetentionHours       int `yaml:"retention_hours" env:"NOTIFIER_RETENTION_HOURS" env-default:"72"`
	// RedisStream receives a copy of every change event when Redis is configured.
	RedisStream string `yaml:"redis_stream" env:"NOTIFIER_REDIS_STREAM" env-default:"ekaya:data_change"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultLimit int           `yaml:"default_limit" env:"SEARCH_DEFAULT_LIMIT" env-default:"10"`
	MaxLimit     int           `yaml:"max_limit" env:"SEARCH_MAX_LIMIT" env-default:"100"`
	Timeout      time.Duration `yaml:"timeout" env:"SEARCH_TIMEOUT" env-default:"10s"`
	// LogRetentionDays is how long search log entries are kept.
	LogRetentionDays int `yaml:"log_retention_days" env:"SEARCH_LOG_RETENTION_DAYS" env-default:"90"`
}

// MCPConfig controls the MCP tool endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Secrets (PGPASSWORD, REDIS_PASSWORD, EMBEDDING_API_KEY) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector.dimension must be positive, got %d", c.Vector.Dimension)
	}
	switch c.Vector.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("vector.backend must be postgres or memory, got %q", c.Vector.Backend)
	}
	switch c.Vector.IterativeScan {
	case "off", "relaxed_order", "strict_order":
	default:
		return fmt.Errorf("vector.iterative_scan must be off, relaxed_order or strict_order, got %q", c.Vector.IterativeScan)
	}
	switch c.Embedding.Provider {
	case "openai", "hash":
	default:
		return fmt.Errorf("embedding.provider must be openai or hash, got %q", c.Embedding.Provider)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: default=%d max=%d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxWorkers <= 0 {
		c.Sync.MaxWorkers = 1
	}
	if c.Sync.StaleAfter < 0 {
		return fmt.Errorf("sync.stale_after must not be negative, got %s", c.Sync.StaleAfter)
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns the Redis address, or "" when Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}
