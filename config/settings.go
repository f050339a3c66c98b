package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ChannelTwilio   = "twilio"
	ChannelTelegram = "telegram"

	TextGenNone     = "none"
	TextGenDeepSeek = "deepseek"

	envPrefix = "CAREBELL_"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Channel   ChannelConfig   `koanf:"channel"`
	Twilio    TwilioConfig    `koanf:"twilio"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	TextGen   TextGenConfig   `koanf:"textgen"`
	DeepSeek  DeepSeekConfig  `koanf:"deepseek"`
	Redis     RedisConfig     `koanf:"redis"`
}

type AppConfig struct {
	HTTPAddr string `koanf:"http_addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type SchedulerConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Spec        string `koanf:"spec"` // cron spec, e.g. "@every 1m" or "*/5 * * * *"
	Timezone    string `koanf:"timezone"`
	Concurrency int    `koanf:"concurrency"`
	FollowUp    bool   `koanf:"follow_up"`
}

type DispatchConfig struct {
	ChannelTimeout    time.Duration `koanf:"channel_timeout"`
	GenerationTimeout time.Duration `koanf:"generation_timeout"`
	MaxRetries        int           `koanf:"max_retries"`
	RetryBackoff      time.Duration `koanf:"retry_backoff"`
	FollowUpBatch     int           `koanf:"follow_up_batch"`
	LockTTL           time.Duration `koanf:"lock_ttl"`
}

type ChannelConfig struct {
	Provider string `koanf:"provider"`
}

type TwilioConfig struct {
	AccountSID     string `koanf:"account_sid"`
	AuthToken      string `koanf:"auth_token"`
	PhoneNumber    string `koanf:"phone_number"`
	WhatsAppNumber string `koanf:"whatsapp_number"`
}

type TelegramConfig struct {
	BotToken string `koanf:"bot_token"`
	BaseURL  string `koanf:"base_url"`
}

type TextGenConfig struct {
	Provider string `koanf:"provider"`
}

type DeepSeekConfig struct {
	APIKey      string  `koanf:"api_key"`
	Model       string  `koanf:"model"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
}

// legacyEnv maps the flat variables older deployments use onto config keys.
var legacyEnv = map[string]string{
	"DB_URL":                 "database.url",
	"PORT":                   "app.http_addr",
	"TWILIO_ACCOUNT_SID":     "twilio.account_sid",
	"TWILIO_AUTH_TOKEN":      "twilio.auth_token",
	"TWILIO_PHONE_NUMBER":    "twilio.phone_number",
	"TWILIO_WHATSAPP_NUMBER": "twilio.whatsapp_number",
	"TELEGRAM_BOT_TOKEN":     "telegram.bot_token",
	"DEEPSEEK_API_KEY":       "deepseek.api_key",
	"REDIS_ADDR":             "redis.addr",
}

// Load reads defaults, then the optional YAML file at configPath, then the
// environment (.env included).
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env vars")
	}

	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// CAREBELL_DISPATCH__CHANNEL_TIMEOUT -> dispatch.channel_timeout
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	for name, key := range legacyEnv {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if name == "PORT" && !strings.Contains(v, ":") {
			v = ":" + v
		}
		k.Set(key, v)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver: %s (supported: %s, %s)",
			c.Database.Driver, DriverPostgres, DriverSQLite)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (set DB_URL or database.url)")
	}

	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	if c.Dispatch.ChannelTimeout <= 0 || c.Dispatch.GenerationTimeout <= 0 {
		return fmt.Errorf("dispatch timeouts must be positive")
	}
	if c.Dispatch.MaxRetries <= 0 {
		return fmt.Errorf("dispatch.max_retries must be positive")
	}
	if c.Dispatch.RetryBackoff < 0 {
		return fmt.Errorf("dispatch.retry_backoff must not be negative")
	}

	switch c.Channel.Provider {
	case ChannelTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			return fmt.Errorf("twilio credentials are required (TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN)")
		}
		if c.Twilio.PhoneNumber == "" && c.Twilio.WhatsAppNumber == "" {
			return fmt.Errorf("a twilio sender number is required")
		}
	case ChannelTelegram:
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram bot token is required (TELEGRAM_BOT_TOKEN)")
		}
	default:
		return fmt.Errorf("unknown channel provider: %s (supported: %s, %s)",
			c.Channel.Provider, ChannelTwilio, ChannelTelegram)
	}

	switch c.TextGen.Provider {
	case TextGenNone:
	case TextGenDeepSeek:
		if c.DeepSeek.APIKey == "" {
			return fmt.Errorf("DeepSeek API key is required (set DEEPSEEK_API_KEY)")
		}
	default:
		return fmt.Errorf("unknown textgen provider: %s (supported: %s, %s)",
			c.TextGen.Provider, TextGenNone, TextGenDeepSeek)
	}

	return nil
}

// Location returns the scheduler time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
