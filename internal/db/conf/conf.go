// Package conf
package conf

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config selects and tunes a storage engine.
type Config struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`

	// DB, when set, is used instead of opening DSN.
	DB *sql.DB `yaml:"-" env:"-"`
	// Name of the throw-away database created by NewTestConfig.
	Name string `yaml:"-" env:"-"`
}

// ApplyPool copies the pool limits onto db.
func (c Config) ApplyPool(db *sql.DB) {
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
		if c.DSN == "" && c.DB == nil {
			return fmt.Errorf("db.dsn is required for driver %s", c.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown db.driver %q", c.Driver)
	}
	return nil
}

// NewTestConfig creates a new postgres database with a random name.
// The test is skipped when PostgreSQL is not reachable. TICKSTORE_TEST_PG
// overrides the admin connection string, which must be in key=value form.
func NewTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()

	adminConnStr := os.Getenv("TICKSTORE_TEST_PG")
	if adminConnStr == "" {
		adminConnStr = "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"
	}

	adminDB, err := sql.Open("postgres", adminConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}

	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test: PostgreSQL is not running or not accessible: %v", err)
		return nil, func() {}
	}

	dbName := fmt.Sprintf("tickstore_test_%d", rand.Int31())
	if _, err := adminDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName)); err != nil {
		adminDB.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}

	dsn := adminConnStr + " dbname=" + dbName
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	cfg := &Config{
		Driver: DriverPostgres,
		DSN:    dsn,
		DB:     db,
		Name:   dbName,
	}

	cleanup := func() {
		db.Close()
		if _, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", pq.QuoteIdentifier(dbName))); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", dbName, err)
		}
		adminDB.Close()
	}

	return cfg, cleanup
}
