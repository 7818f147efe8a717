package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the delivery engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Mail     MailConfig     `yaml:"mail"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Tracking TrackingConfig `yaml:"tracking"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds queue/lock backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	QueueKey string `yaml:"queue_key"`
}

// MailConfig holds the outgoing-mail defaults: which provider carries
// campaign sends and the identity stamped on them. Teams can override
// parts of this per send.
type MailConfig struct {
	Provider       string `yaml:"provider"`
	FallbackToSMTP bool   `yaml:"fallback_to_smtp"`
	FromAddress    string `yaml:"from_address"`
	FromName       string `yaml:"from_name"`
	ReplyTo        string `yaml:"reply_to"`

	SMTP     SMTPConfig     `yaml:"smtp"`
	Mailgun  MailgunConfig  `yaml:"mailgun"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	MailBaby MailBabyConfig `yaml:"mailbaby"`
}

// SMTPConfig holds default SMTP relay settings.
type SMTPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Encryption string `yaml:"encryption"`
}

// MailgunConfig holds Mailgun API configuration.
type MailgunConfig struct {
	APIKey string `yaml:"api_key"`
	Domain string `yaml:"domain"`
}

// SendGridConfig holds SendGrid API configuration.
type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
}

// MailBabyConfig holds MailBaby API configuration.
type MailBabyConfig struct {
	APIKey string `yaml:"api_key"`
}

// PacingConfig spreads campaign sends over time.
type PacingConfig struct {
	BaseMinutes      int `yaml:"base_minutes"`
	MaxRandomSeconds int `yaml:"max_random_seconds"`
}

// TrackingConfig holds the public tracking surface settings.
type TrackingConfig struct {
	BaseURL     string `yaml:"base_url"`
	SigningKey  string `yaml:"signing_key"`
	TrackOpens  *bool  `yaml:"track_opens"`
	TrackClicks *bool  `yaml:"track_clicks"`
}

// OpensEnabled reports whether open tracking is on (default true).
func (c TrackingConfig) OpensEnabled() bool {
	return c.TrackOpens == nil || *c.TrackOpens
}

// ClicksEnabled reports whether click tracking is on (default true).
func (c TrackingConfig) ClicksEnabled() bool {
	return c.TrackClicks == nil || *c.TrackClicks
}

// WorkerConfig tunes the send worker pool.
type WorkerConfig struct {
	Workers             int `yaml:"workers"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	SendTimeoutSeconds  int `yaml:"send_timeout_seconds"`
	MaxRetries          int `yaml:"max_retries"`
	RetryDelaySeconds   int `yaml:"retry_delay_seconds"`
}

// PollInterval returns the queue poll interval as a duration.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SendTimeout returns the per-send timeout as a duration.
func (c WorkerConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// RetryDelay returns the requeue delay as a duration.
func (c WorkerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "smtp"
	}
	if cfg.Mail.SMTP.Port == 0 {
		cfg.Mail.SMTP.Port = 587
	}
	if cfg.Pacing.BaseMinutes == 0 {
		cfg.Pacing.BaseMinutes = 1
	}
	if cfg.Worker.Workers == 0 {
		cfg.Worker.Workers = 4
	}
	if cfg.Worker.PollIntervalSeconds == 0 {
		cfg.Worker.PollIntervalSeconds = 1
	}
	if cfg.Worker.SendTimeoutSeconds == 0 {
		cfg.Worker.SendTimeoutSeconds = 120
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryDelaySeconds == 0 {
		cfg.Worker.RetryDelaySeconds = 30
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.Mail.Provider = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Mail.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Mail.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Mail.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Mail.SMTP.Password = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Mail.Mailgun.APIKey = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		cfg.Mail.Mailgun.Domain = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.Mail.SendGrid.APIKey = v
	}
	if v := os.Getenv("MAILBABY_API_KEY"); v != "" {
		cfg.Mail.MailBaby.APIKey = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}

	return cfg, nil
}
