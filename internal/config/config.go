// Package config provides configuration management for the citation graph service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the citation graph service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains broker settings for the task channels.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Dispatch contains task dispatcher and sweep settings.
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	// Crawler contains crawl orchestrator settings.
	Crawler CrawlerConfig `mapstructure:"crawler"`
	// Queue contains processing queue settings.
	Queue QueueConfig `mapstructure:"queue"`
	// Source contains bibliographic source API settings.
	Source SourceConfig `mapstructure:"source"`
	// Summarizer contains AI summarization client settings.
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	// Recovery contains auto-recovery manager settings.
	Recovery RecoveryConfig `mapstructure:"recovery"`
	// RateLimit contains endpoint admission control settings.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// KafkaConfig holds broker settings for the task channels.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// TopicPrefix is prepended to channel names to form topic names
	// (e.g. "citegraph" -> "citegraph.crawl").
	TopicPrefix string `mapstructure:"topic_prefix"`
	// GroupID is the consumer group ID for stage workers.
	GroupID string `mapstructure:"group_id"`
	// BatchTimeout is the maximum time the writer waits for a batch to fill.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DispatchConfig holds task dispatcher and periodic sweep settings.
type DispatchConfig struct {
	// CrawlSweepSchedule is the cron schedule for the crawl sweep.
	CrawlSweepSchedule string `mapstructure:"crawl_sweep_schedule"`
	// SummarizeSweepSchedule is the cron schedule for the summarize sweep.
	SummarizeSweepSchedule string `mapstructure:"summarize_sweep_schedule"`
	// GenerateSweepSchedule is the cron schedule for the generate sweep.
	GenerateSweepSchedule string `mapstructure:"generate_sweep_schedule"`
	// SweepBatchSize is the maximum entries re-dispatched per sweep tick.
	SweepBatchSize int `mapstructure:"sweep_batch_size"`
	// StuckThreshold is how long an entry may sit in running before a
	// sweep assumes its worker died and returns it to pending.
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`
}

// CrawlerConfig holds crawl orchestrator settings.
type CrawlerConfig struct {
	// DefaultMaxHops bounds graph expansion depth when the API caller
	// does not specify one.
	DefaultMaxHops int `mapstructure:"default_max_hops"`
	// NeighborPageSize caps citation/reference list fetches per paper.
	NeighborPageSize int `mapstructure:"neighbor_page_size"`
	// ScoreThreshold is the minimum priority score for a neighbor to be
	// enqueued for crawling.
	ScoreThreshold float64 `mapstructure:"score_threshold"`
}

// QueueConfig holds processing queue settings.
type QueueConfig struct {
	// MaxRetries is the retry ceiling for queue entries.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the delay hint applied when a failed entry is
	// reset to pending.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// SourceConfig holds bibliographic source API settings.
type SourceConfig struct {
	// BaseURL is the source API base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the API key (loaded from CITEGRAPH_SOURCE_API_KEY).
	APIKey string `mapstructure:"-"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the maximum retry attempts per call.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the base delay between retries.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// RetryMaxDelay caps the exponential retry delay.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`
	// Cooldown is how long to suppress calls after a rate-limit response.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// SummarizerConfig holds AI summarization client settings.
type SummarizerConfig struct {
	// APIKey is the OpenAI API key (loaded from CITEGRAPH_SUMMARIZER_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the chat completion model to use.
	Model string `mapstructure:"model"`
	// BaseURL is an optional override for the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// MaxTokens caps generated summary length.
	MaxTokens int `mapstructure:"max_tokens"`
	// MaxKeywords caps extracted keyword count.
	MaxKeywords int `mapstructure:"max_keywords"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum retry attempts per call.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// RecoveryConfig holds auto-recovery manager settings.
type RecoveryConfig struct {
	// Cooldown is the minimum interval between repeated recovery
	// attempts for the same action after a failure.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// HistorySize bounds the in-memory recovery result history.
	HistorySize int `mapstructure:"history_size"`
	// ActionTimeout is the hard per-attempt timeout for recovery actions.
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

// RateLimitConfig holds endpoint admission control settings.
type RateLimitConfig struct {
	// Enabled toggles the HTTP admission middleware.
	Enabled bool `mapstructure:"enabled"`
	// Window is the sliding window length.
	Window time.Duration `mapstructure:"window"`
	// Rules maps endpoint path prefixes to thresholds. Resolution is by
	// longest-prefix match with a fallback to the "default" entry.
	Rules []RateLimitRule `mapstructure:"rules"`
}

// RateLimitRule configures thresholds for one endpoint path prefix.
type RateLimitRule struct {
	// Pattern is the endpoint path prefix ("default" matches everything).
	Pattern string `mapstructure:"pattern"`
	// Limit is the normal threshold over the window.
	Limit int `mapstructure:"limit"`
	// BurstLimit is the stricter hard cap over the window.
	BurstLimit int `mapstructure:"burst_limit"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("CITEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/citegraph-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Source.APIKey = os.Getenv("CITEGRAPH_SOURCE_API_KEY")
	cfg.Summarizer.APIKey = os.Getenv("CITEGRAPH_SUMMARIZER_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "citegraph")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "citegraph_service")
	// Default to "require" for production security. Use CITEGRAPH_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "citegraph")
	v.SetDefault("kafka.group_id", "citegraph-workers")
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Dispatch defaults: crawl sweep every 30 minutes, summarize every 15,
	// generate every 10, re-dispatching at most 10 entries per tick.
	v.SetDefault("dispatch.crawl_sweep_schedule", "@every 30m")
	v.SetDefault("dispatch.summarize_sweep_schedule", "@every 15m")
	v.SetDefault("dispatch.generate_sweep_schedule", "@every 10m")
	v.SetDefault("dispatch.sweep_batch_size", 10)
	v.SetDefault("dispatch.stuck_threshold", 15*time.Minute)

	// Crawler defaults
	v.SetDefault("crawler.default_max_hops", 2)
	v.SetDefault("crawler.neighbor_page_size", 100)
	v.SetDefault("crawler.score_threshold", 0.1)

	// Queue defaults
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay", "60s")

	// Source defaults (Semantic Scholar Graph API)
	v.SetDefault("source.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.rate_limit", 10.0)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_base_delay", "4s")
	v.SetDefault("source.retry_max_delay", "10s")
	v.SetDefault("source.cooldown", "60s")

	// Summarizer defaults
	v.SetDefault("summarizer.model", "gpt-4o-mini")
	v.SetDefault("summarizer.base_url", "")
	v.SetDefault("summarizer.max_tokens", 1024)
	v.SetDefault("summarizer.max_keywords", 10)
	v.SetDefault("summarizer.timeout", "60s")
	v.SetDefault("summarizer.max_retries", 3)
	v.SetDefault("summarizer.retry_delay", "2s")

	// Recovery defaults
	v.SetDefault("recovery.cooldown", "5m")
	v.SetDefault("recovery.history_size", 100)
	v.SetDefault("recovery.action_timeout", "30s")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.rules", []map[string]interface{}{
		{"pattern": "default", "limit": 120, "burst_limit": 240},
		{"pattern": "/api/v1/papers", "limit": 60, "burst_limit": 120},
	})
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate crawler config
	if c.Crawler.DefaultMaxHops < 0 {
		return fmt.Errorf("crawler default_max_hops must be >= 0")
	}
	if c.Crawler.NeighborPageSize <= 0 {
		return fmt.Errorf("crawler neighbor_page_size must be positive")
	}
	if c.Crawler.ScoreThreshold < 0 || c.Crawler.ScoreThreshold > 1 {
		return fmt.Errorf("crawler score_threshold must be between 0 and 1")
	}

	// Validate queue config
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue max_retries must be >= 0")
	}

	// Validate dispatch config
	if c.Dispatch.SweepBatchSize <= 0 {
		return fmt.Errorf("dispatch sweep_batch_size must be positive")
	}

	// Validate rate limit rules
	for _, rule := range c.RateLimit.Rules {
		if rule.Pattern == "" {
			return fmt.Errorf("rate limit rule pattern is required")
		}
		if rule.BurstLimit < rule.Limit {
			return fmt.Errorf("rate limit rule %q: burst_limit (%d) must be >= limit (%d)",
				rule.Pattern, rule.BurstLimit, rule.Limit)
		}
	}

	return nil
}
