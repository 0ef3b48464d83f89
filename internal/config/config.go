package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pricewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the price history backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	Table           string        `mapstructure:"table"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
}

// QuotesConfig covers the CoinMarketCap quote API.
type QuotesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AWSConfig routes the SES and SNS clients.
type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// EmailConfig configures templated alert emails.
type EmailConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	TemplateName      string `mapstructure:"template_name"`
	Sender            string `mapstructure:"sender"`
	Recipient         string `mapstructure:"recipient"`
	SenderIdentityARN string `mapstructure:"sender_identity_arn"`
}

// SMSConfig gates text alerts. Only Mode "on" enables sending.
type SMSConfig struct {
	Mode        string `mapstructure:"mode"`
	PhoneNumber string `mapstructure:"phone_number"`
}

// Enabled reports whether SMS alerts should be published.
func (c SMSConfig) Enabled() bool {
	return strings.TrimSpace(c.Mode) == "on" && strings.TrimSpace(c.PhoneNumber) != ""
}

// AlertingConfig defines dedup and optional extra channels.
type AlertingConfig struct {
	DedupDropPct float64        `mapstructure:"dedup_drop_pct"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/pricewatch.log")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.table", "price_history")
	v.SetDefault("database.path", "pricewatch.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", false)

	v.SetDefault("quotes.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("quotes.request_timeout", "10s")
	v.SetDefault("quotes.user_agent", "pricewatch/1.0")

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("email.enabled", true)
	v.SetDefault("email.template_name", "PriceAlertTemplate")

	v.SetDefault("sms.mode", "off")

	v.SetDefault("alerting.dedup_drop_pct", 10.0)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cycle_timeout", "2m")

	// viper only maps env vars for keys it already knows about
	for _, key := range []string{"quotes.api_key", "email.sender", "email.recipient", "email.sender_identity_arn", "sms.phone_number", "database.dsn", "aws.endpoint", "alerting.telegram.bot_token", "alerting.telegram.chat_id"} {
		v.SetDefault(key, "")
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be greater than zero")
	}
	if c.Alerting.DedupDropPct < 0 {
		return errors.New("alerting.dedup_drop_pct cannot be negative")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case "memory", "":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Email.Enabled {
		if c.Email.TemplateName == "" {
			return errors.New("email.template_name is required")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// RequireDelivery checks the settings a real cycle needs beyond Validate.
func (c *Config) RequireDelivery() error {
	if c.Quotes.APIKey == "" {
		return errors.New("quotes.api_key is required")
	}
	if c.Email.Enabled && (c.Email.Sender == "" || c.Email.Recipient == "") {
		return errors.New("email.sender and email.recipient are required when email is enabled")
	}
	return nil
}
