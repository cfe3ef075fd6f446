package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`
	DBSlowQuery       time.Duration `env:"DB_SLOW_QUERY,default=200ms"`

	// RabbitMQURL is optional; without it outcome tasks run in-process.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT,default=587"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	MailFrom      string `env:"MAIL_FROM,default=feedback@localhost"`
	MailFromName  string `env:"MAIL_FROM_NAME,default=Feedback"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	PushAPIURL    string `env:"PUSH_API_URL"`
	PushAPIKey    string `env:"PUSH_API_KEY"`
	DownstreamURL string `env:"DOWNSTREAM_API_URL"`
	DownstreamKey string `env:"DOWNSTREAM_API_KEY"`

	SMSTestMobileNo   string `env:"SMS_TEST_MOBILE_NO"`
	SMSFailureAlertTo string `env:"SMS_FAILURE_ALERT_TO"`

	ChannelTimeout   time.Duration `env:"CHANNEL_TIMEOUT,default=8s"`
	CodeTTL          time.Duration `env:"CODE_TTL,default=72h"`
	CodeDigits       int           `env:"CODE_DIGITS,default=4"`
	TemplateCacheTTL time.Duration `env:"TEMPLATE_CACHE_TTL,default=5m"`

	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	// RateLimitOverrides lists per-gateway budgets, e.g. "sms:global=20,email=50".
	RateLimitOverrides string `env:"RATE_LIMIT_OVERRIDES"`

	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	LogFormat         string `env:"LOG_FORMAT,default=json"`
	OTLPEndpoint      string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.CodeDigits < 2 || c.CodeDigits > 9 {
		return fmt.Errorf("invalid config: CODE_DIGITS must be between 2 and 9, got %d", c.CodeDigits)
	}
	if c.ChannelTimeout <= 0 {
		return fmt.Errorf("invalid config: CHANNEL_TIMEOUT must be positive")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid config: API_PORT out of range: %d", c.APIPort)
	}
	if (c.PushAPIURL == "") != (c.PushAPIKey == "") {
		return fmt.Errorf("invalid config: PUSH_API_URL and PUSH_API_KEY must be set together")
	}
	if _, err := c.RateLimits(); err != nil {
		return err
	}
	return nil
}

// RateLimits parses RATE_LIMIT_OVERRIDES into gateway key -> calls per second.
func (c *Config) RateLimits() (map[string]int, error) {
	limits := make(map[string]int)
	for _, entry := range strings.Split(c.RateLimitOverrides, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid config: RATE_LIMIT_OVERRIDES entry %q", entry)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid config: RATE_LIMIT_OVERRIDES limit for %q must be a positive integer", key)
		}
		limits[key] = limit
	}
	return limits, nil
}

// SMTPEnabled reports whether the primary mail relay is configured.
func (c *Config) SMTPEnabled() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}

func (c *Config) ResendEnabled() bool {
	return strings.TrimSpace(c.ResendAPIKey) != ""
}

func (c *Config) QueueEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}
