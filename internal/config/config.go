package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	ServerPort string `mapstructure:"SERVER_PORT"`
	AdminUser  string `mapstructure:"ADMIN_USER"`
	AdminPass  string `mapstructure:"ADMIN_PASS"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	PostgresURL string `mapstructure:"POSTGRES_URL"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`

	FetchMode     string        `mapstructure:"FETCH_MODE"`
	BrowserWSURL  string        `mapstructure:"BROWSER_WS_URL"`
	FetchTimeout  time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FetchAttempts int           `mapstructure:"FETCH_ATTEMPTS"`
	DelayMin      time.Duration `mapstructure:"DELAY_MIN"`
	DelayMax      time.Duration `mapstructure:"DELAY_MAX"`
	Concurrency   int           `mapstructure:"CONCURRENCY"`
	Proxies       []string      `mapstructure:"PROXIES"`

	NotifyOnFirstSeen bool          `mapstructure:"NOTIFY_ON_FIRST_SEEN"`
	MessageTemplate   string        `mapstructure:"MESSAGE_TEMPLATE"`
	ScheduleInterval  time.Duration `mapstructure:"SCHEDULE_INTERVAL"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `mapstructure:"TELEGRAM_CHAT_ID"`

	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `mapstructure:"TWILIO_FROM_NUMBER"`
	NotifyToNumber   string `mapstructure:"NOTIFY_TO_NUMBER"`

	SMTPHost  string `mapstructure:"SMTP_HOST"`
	SMTPPort  int    `mapstructure:"SMTP_PORT"`
	SMTPUser  string `mapstructure:"SMTP_USER"`
	SMTPPass  string `mapstructure:"SMTP_PASS"`
	EmailFrom string `mapstructure:"EMAIL_FROM"`
	EmailTo   string `mapstructure:"EMAIL_TO"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	RabbitMQQueue string `mapstructure:"RABBITMQ_QUEUE"`
}

var defaults = map[string]any{
	"ENV":                  "production",
	"LOG_LEVEL":            "info",
	"SERVER_PORT":          "3000",
	"ADMIN_USER":           "",
	"ADMIN_PASS":           "",
	"STORE_DRIVER":         "postgres",
	"POSTGRES_URL":         "",
	"SQLITE_PATH":          "price-monitor.db",
	"REDIS_ADDR":           "",
	"FETCH_MODE":           "chromedp",
	"BROWSER_WS_URL":       "",
	"FETCH_TIMEOUT":        "30s",
	"FETCH_ATTEMPTS":       3,
	"DELAY_MIN":            "5s",
	"DELAY_MAX":            "15s",
	"CONCURRENCY":          1,
	"PROXIES":              "",
	"NOTIFY_ON_FIRST_SEEN": false,
	"MESSAGE_TEMPLATE":     "",
	"SCHEDULE_INTERVAL":    "0s",
	"TELEGRAM_BOT_TOKEN":   "",
	"TELEGRAM_CHAT_ID":     0,
	"TWILIO_ACCOUNT_SID":   "",
	"TWILIO_AUTH_TOKEN":    "",
	"TWILIO_FROM_NUMBER":   "",
	"NOTIFY_TO_NUMBER":     "",
	"SMTP_HOST":            "",
	"SMTP_PORT":            587,
	"SMTP_USER":            "",
	"SMTP_PASS":            "",
	"EMAIL_FROM":           "",
	"EMAIL_TO":             "",
	"RABBITMQ_URL":         "",
	"RABBITMQ_QUEUE":       "price_drops",
}

// Load reads configuration from the given .env file and environment variables.
// Environment variables win over the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// The file is optional; production is configured purely through the environment.
	_ = v.ReadInConfig()

	// Every key needs a default so that Unmarshal sees environment-only values.
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	cfg.Proxies = splitList(cfg.Proxies)
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "postgres":
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for STORE_DRIVER=postgres"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for STORE_DRIVER=sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.FetchMode != "chromedp" && c.FetchMode != "http" {
		errs = append(errs, fmt.Errorf("unknown FETCH_MODE %q", c.FetchMode))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if c.FetchAttempts < 1 {
		errs = append(errs, errors.New("FETCH_ATTEMPTS must be at least 1"))
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		errs = append(errs, errors.New("DELAY_MIN and DELAY_MAX must satisfy 0 <= DELAY_MIN <= DELAY_MAX"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("CONCURRENCY must be at least 1"))
	}
	if c.ScheduleInterval < 0 {
		errs = append(errs, errors.New("SCHEDULE_INTERVAL must not be negative"))
	}
	if (c.AdminUser == "") != (c.AdminPass == "") {
		errs = append(errs, errors.New("ADMIN_USER and ADMIN_PASS must be set together"))
	}

	if c.TwilioAccountSID != "" || c.TwilioAuthToken != "" {
		if !c.TwilioConfigured() {
			errs = append(errs, errors.New("twilio needs TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and NOTIFY_TO_NUMBER"))
		}
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required with TELEGRAM_BOT_TOKEN"))
	}
	if c.SMTPHost != "" && !c.EmailConfigured() {
		errs = append(errs, errors.New("email needs SMTP_HOST, EMAIL_FROM and EMAIL_TO"))
	}

	return errors.Join(errs...)
}

func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != "" && c.NotifyToNumber != ""
}

func (c *Config) TelegramConfigured() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func (c *Config) EmailConfigured() bool {
	return c.SMTPHost != "" && c.EmailFrom != "" && c.EmailTo != ""
}

func (c *Config) RabbitConfigured() bool {
	return c.RabbitMQURL != ""
}

// AnyNotifierConfigured reports whether at least one transport can deliver alerts.
func (c *Config) AnyNotifierConfigured() bool {
	return c.TwilioConfigured() || c.TelegramConfigured() || c.EmailConfigured() || c.RabbitConfigured()
}
