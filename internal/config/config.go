package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Store backends
const (
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Database drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Mail      MailConfig      `mapstructure:"mail"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Order     OrderConfig     `mapstructure:"order"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig selects the order store backend and its retention policy.
// A zero Retention keeps unanswered orders until a reply arrives.
type StoreConfig struct {
	Backend   string        `mapstructure:"backend"`
	Retention time.Duration `mapstructure:"retention"`
}

// GmailConfig holds Gmail API configuration
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
}

// HasCredentials reports whether the OAuth2 credentials are all set.
func (c GmailConfig) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// MailConfig holds IMAP/SMTP configuration used when Gmail.UseIMAP is set
type MailConfig struct {
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	From         string `mapstructure:"from"`
}

// HasCredentials reports whether IMAP login credentials are set.
func (c MailConfig) HasCredentials() bool {
	return c.IMAPUser != "" && c.IMAPPassword != ""
}

// TelegramConfig holds chat bot configuration
type TelegramConfig struct {
	BotToken      string `mapstructure:"bot_token"`
	WebhookSecret string `mapstructure:"webhook_secret"`

	// Polling uses getUpdates instead of the webhook endpoint.
	Polling bool `mapstructure:"polling"`

	// Comma separated user ids. Empty denies everyone.
	WhitelistedUserIDs string `mapstructure:"whitelisted_user_ids"`
}

// Whitelist parses WhitelistedUserIDs.
func (c TelegramConfig) Whitelist() ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(c.WhitelistedUserIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelisted user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// OrderConfig holds the order email settings. Recipient is also the sender
// filter used when looking for replies.
type OrderConfig struct {
	Recipient string `mapstructure:"recipient"`
	Subject   string `mapstructure:"subject"`
	Body      string `mapstructure:"body"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	// A local .env is optional.
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment from .env")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.rate_limit_rps", 5.0)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "water-orders.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.backend", BackendSQL)
	v.SetDefault("store.retention", "0s")

	v.SetDefault("gmail.user_email", "me")
	v.SetDefault("gmail.use_imap", false)

	v.SetDefault("mail.imap_host", "imap.gmail.com")
	v.SetDefault("mail.imap_port", 993)
	v.SetDefault("mail.smtp_host", "smtp.gmail.com")
	v.SetDefault("mail.smtp_port", 587)

	v.SetDefault("order.subject", "Water Delivery Order")
	v.SetDefault("order.body", "Please deliver water.")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 2)

	v.SetDefault("telegram.polling", false)

	v.SetDefault("log.level", "info")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT", "PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("server.rate_limit_rps", "SERVER_RATE_LIMIT_RPS")
	v.BindEnv("server.rate_limit_burst", "SERVER_RATE_LIMIT_BURST")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Redis
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// Store
	v.BindEnv("store.backend", "STORE_BACKEND")
	v.BindEnv("store.retention", "STORE_RETENTION")

	// Gmail
	v.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	v.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")

	// IMAP / SMTP
	v.BindEnv("mail.imap_host", "MAIL_IMAP_HOST")
	v.BindEnv("mail.imap_port", "MAIL_IMAP_PORT")
	v.BindEnv("mail.imap_user", "MAIL_IMAP_USER")
	v.BindEnv("mail.imap_password", "MAIL_IMAP_PASSWORD")
	v.BindEnv("mail.smtp_host", "MAIL_SMTP_HOST")
	v.BindEnv("mail.smtp_port", "MAIL_SMTP_PORT")
	v.BindEnv("mail.from", "MAIL_FROM")

	// Telegram
	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.webhook_secret", "TELEGRAM_WEBHOOK_SECRET")
	v.BindEnv("telegram.polling", "TELEGRAM_POLLING")
	v.BindEnv("telegram.whitelisted_user_ids", "WHITELISTED_USER_IDS")

	// Order
	v.BindEnv("order.recipient", "EMAIL_SENDER_FILTER")
	v.BindEnv("order.subject", "EMAIL_ORDER_SUBJECT")
	v.BindEnv("order.body", "EMAIL_ORDER_BODY")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns the MySQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration. Missing mail credentials and a
// missing order recipient are not startup errors: they surface on the
// operation that needs them.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Backend {
	case BackendSQL:
		switch c.Database.Driver {
		case DriverSQLite:
			if c.Database.Path == "" {
				return fmt.Errorf("database path is required for the sqlite driver")
			}
		case DriverMySQL:
			if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
				return fmt.Errorf("database host, user, and dbname are required")
			}
		default:
			return fmt.Errorf("unknown database driver %q", c.Database.Driver)
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis store")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Store.Retention < 0 {
		return fmt.Errorf("store retention must not be negative")
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if _, err := c.Telegram.Whitelist(); err != nil {
		return err
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}
