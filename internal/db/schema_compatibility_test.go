package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/tickstore/internal/db/conf"
	"github.com/amirphl/tickstore/internal/market"
)

func TestSchemaCompatibility(t *testing.T) {
	cfg, cleanup := conf.NewTestConfig(t)
	defer cleanup()

	ctx := context.Background()
	p, err := NewPostgres(ctx, *cfg)
	require.NoError(t, err)
	require.NoError(t, p.EnsureSchema(ctx))

	_, err = p.GetDB().Exec("SELECT * FROM ticks LIMIT 1")
	assert.NoError(t, err, "Should be able to query the ticks table")

	_, err = p.GetDB().Exec(`
		INSERT INTO ticks (symbol, ts, seq, price, quantity)
		VALUES ('RELIANCE', '2022-04-04 09:15:00', 1, 100.05, 10)
	`)
	assert.NoError(t, err, "Should be able to insert a record")

	_, err = p.GetDB().Exec(`
		INSERT INTO ticks (symbol, ts, seq, price, quantity)
		VALUES ('RELIANCE', '2022-04-04 09:15:00', 1, 100.05, 10)
	`)
	require.Error(t, err, "Should not be able to insert a duplicate record")
	assert.True(t, strings.Contains(err.Error(), "duplicate key value violates unique constraint"),
		"Error should be about duplicate key violation, got: %v", err)
}

func TestSchemaIncompatiblePostgres(t *testing.T) {
	cfg, cleanup := conf.NewTestConfig(t)
	defer cleanup()

	ctx := context.Background()
	p, err := NewPostgres(ctx, *cfg)
	require.NoError(t, err)

	_, err = p.GetDB().Exec(`CREATE TABLE ticks (symbol TEXT, ts TIMESTAMPTZ, seq INT, price DOUBLE PRECISION)`)
	require.NoError(t, err)

	err = p.EnsureSchema(ctx)
	assert.ErrorIs(t, err, ErrSchemaIncompatible)
}

func TestSchemaIncompatibleSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(ctx, conf.Config{Driver: conf.DriverSQLite, DSN: filepath.Join(t.TempDir(), "ticks.db")})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`CREATE TABLE ticks (symbol TEXT, ts TEXT, seq INTEGER, price REAL)`)
	require.NoError(t, err)

	err = s.EnsureSchema(ctx)
	assert.ErrorIs(t, err, ErrSchemaIncompatible)
}

func TestGetTransactionEmptyContext(t *testing.T) {
	assert.Nil(t, GetTransaction(context.Background()))
}

func TestPostgresCallerTransaction(t *testing.T) {
	cfg, cleanup := conf.NewTestConfig(t)
	defer cleanup()

	ctx := context.Background()
	p, err := NewPostgres(ctx, *cfg)
	require.NoError(t, err)
	require.NoError(t, p.EnsureSchema(ctx))

	tx, err := p.GetDB().BeginTx(ctx, nil)
	require.NoError(t, err)
	txCtx := WithTransaction(ctx, tx)
	assert.Same(t, tx, GetTransaction(txCtx))

	require.NoError(t, p.InsertTicks(txCtx, []market.Tick{
		createTestTick("RELIANCE", 9*time.Hour+15*time.Minute, 1, "100", 10, "run-a"),
		createTestTick("RELIANCE", 9*time.Hour+16*time.Minute, 2, "101", 5, "run-a"),
	}))

	n, err := p.CountTicks(txCtx, testDay)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "the transaction sees its own rows")

	n, err = p.CountTicks(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "uncommitted rows stay invisible outside")

	deleted, err := p.DeleteTicks(txCtx, testDay, "run-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	require.NoError(t, tx.Rollback())
	n, err = p.CountTicks(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSchemaIncompatiblePostgresNoCommit(t *testing.T) {
	cfg, cleanup := conf.NewTestConfig(t)
	defer cleanup()

	ctx := context.Background()
	p, err := NewPostgres(ctx, *cfg)
	require.NoError(t, err)

	// every column present but ts carries a time zone
	_, err = p.GetDB().Exec(`CREATE TABLE ticks (
		symbol TEXT, ts TIMESTAMPTZ, seq BIGINT, price NUMERIC, quantity BIGINT,
		bid_price NUMERIC, bid_qty BIGINT, ask_price NUMERIC, ask_qty BIGINT,
		open_interest BIGINT, run_id TEXT)`)
	require.NoError(t, err)

	assert.ErrorIs(t, p.EnsureSchema(ctx), ErrSchemaIncompatible)

	var indexes int
	require.NoError(t, p.GetDB().QueryRow(
		`SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND tablename = 'ticks'`).Scan(&indexes))
	assert.Zero(t, indexes, "rejected schema must not leave indexes behind")
}
