package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config global configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the gorm dialector. DSN is only used by sqlite.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents  string `mapstructure:"ledger_events"`
	Notifications string `mapstructure:"notifications"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// LedgerConfig tunes the transfer boundary.
//
// MaxRetries bounds how often a unit is restarted after an optimistic lock
// conflict. OperationTimeout is the whole deposit/transfer deadline, lock
// acquisition included.
type LedgerConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries    int           `mapstructure:"lock_max_retries"`
	MaxAmount         string        `mapstructure:"max_amount"`
	DefaultPageSize   int           `mapstructure:"default_page_size"`
	MaxPageSize       int           `mapstructure:"max_page_size"`
}

type JobsConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
	ReconcileCron   string        `mapstructure:"reconcile_cron"`
	ReconcileBatch  int           `mapstructure:"reconcile_batch"`
}

type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	From         string `mapstructure:"from"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var GlobalConfig *Config

// LoadConfig loads the configuration file and exits the process on failure.
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	GlobalConfig = cfg
	return cfg
}

// Load reads configPath (optional) and NEOBANK_* environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NEOBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "neobank")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.dsn", "neobank.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_sql", false)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.ledger_events", "ledger-events")
	v.SetDefault("kafka.topic.notifications", "ledger-notifications")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("ledger.max_retries", 3)
	v.SetDefault("ledger.operation_timeout", "10s")
	v.SetDefault("ledger.lock_ttl", "30s")
	v.SetDefault("ledger.lock_retry_interval", "50ms")
	v.SetDefault("ledger.lock_max_retries", 100)
	v.SetDefault("ledger.max_amount", "1000000000")
	v.SetDefault("ledger.default_page_size", 10)
	v.SetDefault("ledger.max_page_size", 100)

	v.SetDefault("jobs.outbox_interval", "500ms")
	v.SetDefault("jobs.outbox_batch_size", 100)
	v.SetDefault("jobs.max_retry_count", 5)
	v.SetDefault("jobs.reconcile_cron", "@every 5m")
	v.SetDefault("jobs.reconcile_batch", 500)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.from", "NeoBank <no-reply@neobank.local>")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the values the rest of the service assumes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server port must be positive")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("%s requires host and database", c.Database.Driver)
		}
	case "sqlite":
		if c.Database.DSN == "" {
			return errors.New("sqlite requires database.dsn")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}

	if c.Ledger.MaxRetries < 1 {
		return errors.New("ledger.max_retries must be at least 1")
	}
	if c.Ledger.OperationTimeout <= 0 {
		return errors.New("ledger.operation_timeout must be positive")
	}
	if c.Ledger.DefaultPageSize < 1 || c.Ledger.MaxPageSize < c.Ledger.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default=%d max=%d", c.Ledger.DefaultPageSize, c.Ledger.MaxPageSize)
	}
	if _, err := c.Ledger.MaxAmountDecimal(); err != nil {
		return err
	}

	if c.Jobs.OutboxInterval <= 0 {
		return errors.New("jobs.outbox_interval must be positive")
	}
	if c.Jobs.OutboxBatchSize < 1 {
		return errors.New("jobs.outbox_batch_size must be at least 1")
	}
	if c.Jobs.MaxRetryCount < 1 {
		return errors.New("jobs.max_retry_count must be at least 1")
	}
	if c.Jobs.ReconcileBatch < 1 {
		return errors.New("jobs.reconcile_batch must be at least 1")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Notify.Enabled && c.Notify.SMTPHost == "" {
		return errors.New("notify.smtp_host is required when notifications are enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

// MaxAmountDecimal parses ledger.max_amount.
func (c *LedgerConfig) MaxAmountDecimal() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(c.MaxAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ledger.max_amount %q: %w", c.MaxAmount, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, errors.New("ledger.max_amount must be positive")
	}
	return amount, nil
}
