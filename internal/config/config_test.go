package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: test.db
auth:
  jwt_secret: secret
ledger:
  max_retries: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "test.db", cfg.Database.DSN)
	assert.Equal(t, 5, cfg.Ledger.MaxRetries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Ledger.OperationTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10, cfg.Ledger.DefaultPageSize)
	assert.Equal(t, "@every 5m", cfg.Jobs.ReconcileCron)

	maxAmount, err := cfg.Ledger.MaxAmountDecimal()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000000000).Equal(maxAmount))
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: test.db
auth:
  jwt_secret: from-file
`)
	t.Setenv("NEOBANK_AUTH_JWT_SECRET", "from-env")
	t.Setenv("NEOBANK_LEDGER_MAX_PAGE_SIZE", "50")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 50, cfg.Ledger.MaxPageSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
			Auth:     AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour},
			Ledger: LedgerConfig{
				MaxRetries:       3,
				OperationTimeout: time.Second,
				MaxAmount:        "1000",
				DefaultPageSize:  10,
				MaxPageSize:      100,
			},
			Jobs: JobsConfig{
				OutboxInterval:  time.Second,
				OutboxBatchSize: 10,
				MaxRetryCount:   3,
				ReconcileBatch:  100,
			},
			Log: LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "port"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
		{name: "mysql without host", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "requires host"},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "jwt_secret"},
		{name: "no retries", mutate: func(c *Config) { c.Ledger.MaxRetries = 0 }, wantErr: "max_retries"},
		{name: "page size above max", mutate: func(c *Config) { c.Ledger.DefaultPageSize = 200 }, wantErr: "page sizes"},
		{name: "negative max amount", mutate: func(c *Config) { c.Ledger.MaxAmount = "-1" }, wantErr: "max_amount"},
		{name: "garbage max amount", mutate: func(c *Config) { c.Ledger.MaxAmount = "lots" }, wantErr: "max_amount"},
		{name: "zero outbox interval", mutate: func(c *Config) { c.Jobs.OutboxInterval = 0 }, wantErr: "outbox_interval"},
		{name: "zero outbox batch", mutate: func(c *Config) { c.Jobs.OutboxBatchSize = 0 }, wantErr: "outbox_batch_size"},
		{name: "zero max retry count", mutate: func(c *Config) { c.Jobs.MaxRetryCount = 0 }, wantErr: "max_retry_count"},
		{name: "zero reconcile batch", mutate: func(c *Config) { c.Jobs.ReconcileBatch = 0 }, wantErr: "reconcile_batch"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: "kafka.brokers"},
		{name: "notify without smtp", mutate: func(c *Config) { c.Notify.Enabled = true }, wantErr: "smtp_host"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
