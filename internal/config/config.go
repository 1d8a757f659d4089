package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Bidding   BiddingConfig   `yaml:"bidding"`
	Expiry    ExpiryConfig    `yaml:"expiry"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// StoreConfig selects and configures the auction store.
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

// BiddingConfig holds bid acceptance and delivery settings.
type BiddingConfig struct {
	MinIncrementPercent float64 `yaml:"min_increment_percent"`
	AllowOwnerBids      bool    `yaml:"allow_owner_bids"`
	MaxBidAttempts      int     `yaml:"max_bid_attempts"`
	SubscriberBuffer    int     `yaml:"subscriber_buffer"`
}

// ExpiryConfig holds expiry scheduler settings.
type ExpiryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// NotifyConfig holds close-out notification settings.
type NotifyConfig struct {
	RedisChannel      string      `yaml:"redis_channel"`
	PublishToRedis    bool        `yaml:"publish_to_redis"`
	DiscordWebhookURL string      `yaml:"discord_webhook_url"`
	Email             EmailConfig `yaml:"email"`
}

// EmailConfig holds the SMTP relay used to mail close-out summaries.
// Mail is sent only when at least one recipient is configured.
type EmailConfig struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`
}

// Enabled reports whether close-out mail should be sent.
func (e EmailConfig) Enabled() bool {
	return len(e.To) > 0
}

// TelemetryConfig holds OpenTelemetry export settings. An empty endpoint
// disables export.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// Enabled reports whether traces and metrics are exported.
func (t TelemetryConfig) Enabled() bool {
	return t.OTLPEndpoint != ""
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 20,
			},
			Postgres: PostgresConfig{
				MaxConns: 20,
				Migrate:  true,
			},
		},
		Bidding: BiddingConfig{
			MaxBidAttempts:   5,
			SubscriberBuffer: 64,
		},
		Expiry: ExpiryConfig{
			Interval: 5 * time.Second,
		},
		Notify: NotifyConfig{
			RedisChannel:   "auctions:ended",
			PublishToRedis: true,
			Email: EmailConfig{
				SMTPPort: 587,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auction-engine",
			ServiceVersion: "dev",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file if present, and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose environment variable is set.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CORS_ALLOWED_ORIGINS")

	setStr(&cfg.Store.Driver, "AUCTION_STORE")

	// REDIS_HOST/REDIS_SERVICE_PORT follow the Kubernetes service variables;
	// REDIS_ADDR wins when both are set.
	host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_SERVICE_PORT")
	if host != "" || port != "" {
		h, p, err := net.SplitHostPort(cfg.Store.Redis.Addr)
		if err != nil {
			h, p = "localhost", "6379"
		}
		if host != "" {
			h = host
		}
		if port != "" {
			p = port
		}
		cfg.Store.Redis.Addr = net.JoinHostPort(h, p)
	}
	setStr(&cfg.Store.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Store.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Store.Redis.DB, "REDIS_DB")

	setStr(&cfg.Store.Postgres.DSN, "DATABASE_URL")

	setFloat64(&cfg.Bidding.MinIncrementPercent, "MIN_BID_INCREMENT_PERCENT")
	setBool(&cfg.Bidding.AllowOwnerBids, "ALLOW_OWNER_BIDS")
	setInt(&cfg.Bidding.MaxBidAttempts, "MAX_BID_ATTEMPTS")

	setDuration(&cfg.Expiry.Interval, "EXPIRY_INTERVAL")

	setStr(&cfg.Notify.DiscordWebhookURL, "DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.Email.SMTPHost, "SMTP_HOST")
	setInt(&cfg.Notify.Email.SMTPPort, "SMTP_PORT")
	setStr(&cfg.Notify.Email.SMTPUser, "SMTP_USER")
	setStr(&cfg.Notify.Email.SMTPPassword, "SMTP_PASSWORD")
	setStr(&cfg.Notify.Email.From, "EMAIL_FROM")
	setStringSlice(&cfg.Notify.Email.To, "EMAIL_TO")

	setStr(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setStr(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")

	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
		// valid
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store driver %q requires a dsn (DATABASE_URL)", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver %q: must be %q, %q or %q",
			c.Store.Driver, DriverMemory, DriverRedis, DriverPostgres)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Expiry.Interval <= 0 {
		return fmt.Errorf("expiry interval must be positive, got %s", c.Expiry.Interval)
	}
	if c.Bidding.MaxBidAttempts <= 0 {
		return fmt.Errorf("max bid attempts must be positive, got %d", c.Bidding.MaxBidAttempts)
	}
	if c.Bidding.MinIncrementPercent < 0 {
		return fmt.Errorf("min increment percent must not be negative, got %v", c.Bidding.MinIncrementPercent)
	}
	if c.Bidding.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber buffer must be positive, got %d", c.Bidding.SubscriberBuffer)
	}
	if c.Notify.Email.Enabled() && c.Notify.Email.SMTPHost == "" {
		return fmt.Errorf("close-out email requires an smtp host (SMTP_HOST)")
	}
	if c.Telemetry.Enabled() && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry export requires a service name")
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Store.Driver == DriverRedis
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
