// Package config handles loading and validating Mayu configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultWelcomeMessage is used when no welcome template is configured.
const DefaultWelcomeMessage = "Welcome to the server, {{USERNAME}}! 🎉\n Please be sure to read the rules!"

// DefaultGatewayURL is the Discord gateway endpoint, API v10 with JSON encoding.
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// ErrMissingRequired is returned when a required setting is absent.
var ErrMissingRequired = errors.New("missing required configuration")

// Config is the root configuration for Mayu.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty" toml:"data_dir"` // Default: ~/.mayu/data. Override: MAYU_DATA_DIR.
	Discord       DiscordConfig        `json:"discord" yaml:"discord" toml:"discord"`
	Reconnect     ReconnectConfig      `json:"reconnect" yaml:"reconnect" toml:"reconnect"`
	Notification  NotificationConfig   `json:"notification" yaml:"notification" toml:"notification"`
	Log           LogConfig            `json:"log" yaml:"log" toml:"log"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty" toml:"storage"`                   // nil = SQLite under DataDir
	HTTP          *HTTPConfig          `json:"http,omitempty" yaml:"http,omitempty" toml:"http"`                            // nil = status server disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty" toml:"observability"` // nil = metrics and tracing disabled
}

// DiscordConfig holds the bot credential and the guild/channel it serves.
type DiscordConfig struct {
	Token            string `json:"token" yaml:"token" toml:"token"`                                           // Required. Override: TOKEN / BOT_TOKEN.
	GuildID          string `json:"guild_id" yaml:"guild_id" toml:"guild_id"`                                  // Required. Override: GUILD_ID.
	WelcomeChannelID string `json:"welcome_channel_id" yaml:"welcome_channel_id" toml:"welcome_channel_id"`    // Required. Override: WELCOME_CHANNEL_ID.
	WelcomeMessage   string `json:"welcome_message" yaml:"welcome_message" toml:"welcome_message"`             // {{USERNAME}} is substituted. Override: WELCOME_MESSAGE.
	GatewayURL       string `json:"gateway_url,omitempty" yaml:"gateway_url,omitempty" toml:"gateway_url"`     // Default: DefaultGatewayURL.
	APIBaseURL       string `json:"api_base_url,omitempty" yaml:"api_base_url,omitempty" toml:"api_base_url"` // Default: https://discord.com/api/v10.
	Intents          int    `json:"intents,omitempty" yaml:"intents,omitempty" toml:"intents"`                 // Default: GUILD_MEMBERS (1<<1).
}

// ReconnectConfig bounds gateway reconnection.
type ReconnectConfig struct {
	MaxAttempts     int `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`                // Consecutive failures tolerated. Default: 5.
	BaseDelayMillis int `json:"base_delay_millis" yaml:"base_delay_millis" toml:"base_delay_millis"` // Backoff base. Default: 1000.
}

// MaxReconnectAttempts returns the attempt ceiling with a default of 5.
func (r ReconnectConfig) MaxReconnectAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return 5
}

// BaseDelay returns the backoff base with a default of 1s.
func (r ReconnectConfig) BaseDelay() time.Duration {
	if r.BaseDelayMillis > 0 {
		return time.Duration(r.BaseDelayMillis) * time.Millisecond
	}
	return time.Second
}

// NotificationConfig tunes welcome delivery.
type NotificationConfig struct {
	QueueSize           int    `json:"queue_size" yaml:"queue_size" toml:"queue_size"`                                  // Default: 64.
	Workers             int    `json:"workers" yaml:"workers" toml:"workers"`                                           // Default: 2.
	TimeoutSeconds      int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`                   // Per delivery. Default: 15.
	WebhookURL          string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty" toml:"webhook_url"`           // Optional mirror of welcome events. Override: MAYU_WEBHOOK_URL.
	WebhookAllowPrivate bool   `json:"webhook_allow_private" yaml:"webhook_allow_private" toml:"webhook_allow_private"` // Disable SSRF checks (dev only).
}

// Queue returns the queue size with a default of 64.
func (n NotificationConfig) Queue() int {
	if n.QueueSize > 0 {
		return n.QueueSize
	}
	return 64
}

// Concurrency returns the worker count with a default of 2.
func (n NotificationConfig) Concurrency() int {
	if n.Workers > 0 {
		return n.Workers
	}
	return 2
}

// Timeout returns the per-delivery timeout with a default of 15s.
func (n NotificationConfig) Timeout() time.Duration {
	if n.TimeoutSeconds > 0 {
		return time.Duration(n.TimeoutSeconds) * time.Second
	}
	return 15 * time.Second
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`    // debug, info (default), warn, error. Override: MAYU_LOG_LEVEL.
	Format string `json:"format" yaml:"format" toml:"format"` // json (default) or text.
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StorageConfig configures the welcome delivery history backend.
type StorageConfig struct {
	Driver            string                 `json:"driver" yaml:"driver" toml:"driver"`                                     // "sqlite" (default), "postgres" or "none".
	SQLite            *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty" toml:"sqlite"`                 // SQLite-specific settings.
	Postgres          *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty" toml:"postgres"`           // PostgreSQL-specific settings.
	RetentionDays     int                    `json:"retention_days" yaml:"retention_days" toml:"retention_days"`             // Default: 30. Negative disables pruning.
	RetentionSchedule string                 `json:"retention_schedule" yaml:"retention_schedule" toml:"retention_schedule"` // Cron spec. Default: "@daily".
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// Retention returns the history retention window. Zero disables pruning.
func (s *StorageConfig) Retention() time.Duration {
	days := 30
	if s != nil && s.RetentionDays != 0 {
		days = s.RetentionDays
	}
	if days < 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// Schedule returns the retention cron spec with a default of "@daily".
func (s *StorageConfig) Schedule() string {
	if s != nil && s.RetentionSchedule != "" {
		return s.RetentionSchedule
	}
	return "@daily"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty" toml:"path"`       // Database file path. Default: <data_dir>/mayu.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode" toml:"journal_mode"` // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn" toml:"dsn"`                                                 // Override: MAYU_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`                // Default: 10
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`                // Default: 2
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s" toml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// HTTPConfig configures the status server.
type HTTPConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"` // Default: ":8080". Override: MAYU_HTTP_ADDR.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// ObservabilityConfig configures metrics, tracing, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty" toml:"metrics"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty" toml:"tracing"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty" toml:"anomaly"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path    string `json:"path" yaml:"path" toml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" toml:"endpoint"`             // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol" toml:"protocol"`             // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name" toml:"service_name"` // Default: "mayu"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`    // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure" toml:"insecure"`             // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold" toml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds" toml:"window_seconds"`                   // Sliding window. Default: 300
}

// Load reads an optional JSON, YAML or TOML config file, applies environment
// overrides and returns a validated Config. An empty path skips the file.
// The format is detected by file extension: .yml/.yaml for YAML, .toml for TOML,
// everything else for JSON. Environment variables take precedence.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", resolved, err)
	}

	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing TOML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}
	return nil
}

// applyEnv applies environment variable overrides. Variable names match the
// original deployment (TOKEN, GUILD_ID, WELCOME_CHANNEL_ID, WELCOME_MESSAGE).
func (c *Config) applyEnv() {
	if v := os.Getenv("TOKEN"); v != "" {
		c.Discord.Token = v
	} else if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("GUILD_ID"); v != "" {
		c.Discord.GuildID = v
	}
	if v := os.Getenv("WELCOME_CHANNEL_ID"); v != "" {
		c.Discord.WelcomeChannelID = v
	}
	if v := os.Getenv("WELCOME_MESSAGE"); v != "" {
		c.Discord.WelcomeMessage = v
	}
	if v := os.Getenv("MAYU_GATEWAY_URL"); v != "" {
		c.Discord.GatewayURL = v
	}
	if v := os.Getenv("MAYU_API_BASE_URL"); v != "" {
		c.Discord.APIBaseURL = v
	}
	if v := os.Getenv("MAYU_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MAYU_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MAYU_WEBHOOK_URL"); v != "" {
		c.Notification.WebhookURL = v
	}
	if v := os.Getenv("MAYU_HTTP_ADDR"); v != "" {
		if c.HTTP == nil {
			c.HTTP = &HTTPConfig{Enabled: true}
		}
		c.HTTP.ListenAddr = v
	}
	if v := os.Getenv("MAYU_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
}

func (c *Config) applyDefaults() {
	c.Discord.WelcomeMessage = trimQuotes(c.Discord.WelcomeMessage)
	if c.Discord.WelcomeMessage == "" {
		c.Discord.WelcomeMessage = DefaultWelcomeMessage
	}
	if c.Discord.GatewayURL == "" {
		c.Discord.GatewayURL = DefaultGatewayURL
	}
	if c.Discord.Intents == 0 {
		c.Discord.Intents = 1 << 1 // GUILD_MEMBERS
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".mayu", "data")
		}
	}
}

// trimQuotes strips one leading and one trailing double quote, which env files
// commonly leave around multi-line messages.
func trimQuotes(s string) string {
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "mayu.db")
}

func (c *Config) validate() error {
	var missing []string
	if c.Discord.Token == "" {
		missing = append(missing, "discord.token (TOKEN)")
	}
	if c.Discord.GuildID == "" {
		missing = append(missing, "discord.guild_id (GUILD_ID)")
	}
	if c.Discord.WelcomeChannelID == "" {
		missing = append(missing, "discord.welcome_channel_id (WELCOME_CHANNEL_ID)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.BaseDelayMillis < 0 {
		return fmt.Errorf("reconnect.base_delay_millis must not be negative")
	}

	switch c.Storage.StorageDriver() {
	case "sqlite", "none":
	case "postgres":
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set MAYU_DB_DSN)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite, postgres or none)", c.Storage.Driver)
	}

	if f := strings.ToLower(c.Log.Format); f != "" && f != "json" && f != "text" {
		return fmt.Errorf("log.format %q is not supported (use json or text)", c.Log.Format)
	}
	return nil
}
