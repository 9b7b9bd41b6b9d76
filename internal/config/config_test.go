package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/tickstore/internal/db/conf"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, conf.DriverSQLite, cfg.DB.Driver)
		assert.Equal(t, "STOCK_TICK_", cfg.Ingestion.Prefix)
		assert.Equal(t, 5000, cfg.Ingestion.Pipeline.BatchSize)
		assert.Equal(t, VenueEcho, cfg.Orders.Venue)
		assert.False(t, cfg.Telegram.Enabled())
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := writeYAML(t, `
db:
  driver: memory
ingestion:
  root: /srv/tbt
  batch_size: 250
  cleanup_timeout: 30s
schedule:
  cron: "0 0 19 * * *"
  lag_days: 1
telegram:
  token: abc
  chat_id: "42"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, conf.DriverMemory, cfg.DB.Driver)
		assert.Equal(t, "/srv/tbt", cfg.Ingestion.Root)
		assert.Equal(t, 250, cfg.Ingestion.Pipeline.BatchSize)
		assert.Equal(t, 30*time.Second, cfg.Ingestion.Pipeline.CleanupTimeout)
		assert.Equal(t, ".NSE", cfg.Ingestion.Pipeline.SymbolSuffix)
		assert.Equal(t, 1, cfg.Schedule.LagDays)
		assert.True(t, cfg.Telegram.Enabled())
	})

	t.Run("environment overrides yaml", func(t *testing.T) {
		path := writeYAML(t, "ingestion:\n  batch_size: 250\n")
		t.Setenv("TICKSTORE_INGESTION_BATCH_SIZE", "10")
		t.Setenv("TICKSTORE_DB_DRIVER", "memory")
		t.Setenv("TICKSTORE_INGESTION_USE_S3", "true")
		t.Setenv("TICKSTORE_INGESTION_S3_BUCKET", "archives")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Ingestion.Pipeline.BatchSize)
		assert.Equal(t, conf.DriverMemory, cfg.DB.Driver)
		assert.True(t, cfg.Ingestion.UseS3)
		assert.Equal(t, "archives", cfg.Ingestion.S3.Bucket)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeYAML(t, "db: [unterminated"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"unknown driver", func(c *Config) { c.DB.Driver = "mongo" }, "db.driver"},
		{"postgres without dsn", func(c *Config) { c.DB.Driver = conf.DriverPostgres; c.DB.DSN = "" }, "db.dsn"},
		{"no archive root", func(c *Config) { c.Ingestion.Root = "" }, "ingestion.root"},
		{"s3 without bucket", func(c *Config) { c.Ingestion.UseS3 = true }, "ingestion.s3.bucket"},
		{"zero batch", func(c *Config) { c.Ingestion.Pipeline.BatchSize = 0 }, "batch_size"},
		{"zero parallelism", func(c *Config) { c.Ingestion.Pipeline.Parallelism = 0 }, "parallelism"},
		{"no reference root", func(c *Config) { c.Reference.Root = "" }, "reference.root"},
		{"cron without seconds", func(c *Config) { c.Schedule.Cron = "30 18 * * *" }, "schedule.cron"},
		{"negative lag", func(c *Config) { c.Schedule.LagDays = -1 }, "lag_days"},
		{"half telegram", func(c *Config) { c.Telegram.Token = "abc" }, "telegram"},
		{"unknown venue", func(c *Config) { c.Orders.Venue = "nasdaq" }, "orders.venue"},
		{"wallex without key", func(c *Config) { c.Orders.Venue = VenueWallex }, "wallex_api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
