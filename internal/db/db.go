// Package db
package db

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/db/conf"
	"github.com/amirphl/tickstore/internal/market"
)

var (
	// ErrStorageWrite wraps every failed mutation.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrDuplicateTick marks a (symbol, timestamp, sequence) key that is already stored.
	ErrDuplicateTick = errors.New("duplicate tick")
	// ErrSchemaIncompatible is returned when an existing ticks table has an unexpected shape.
	ErrSchemaIncompatible = errors.New("incompatible ticks schema")
)

// Storage is the interface for tick persistence. Engines differ only in
// how they store rows; callers never branch on which one they hold.
//
//go:generate mockgen -source=db.go -destination=mock/storage_mock.go -package=mock
type Storage interface {
	// EnsureSchema creates the ticks table when missing and verifies its shape.
	EnsureSchema(ctx context.Context) error
	// InsertTicks stores all ticks or none of them.
	InsertTicks(ctx context.Context, ticks []market.Tick) error
	// QueryTicks yields ticks ordered by symbol, timestamp and sequence.
	// An empty symbol selects every symbol. Each iteration re-reads storage.
	QueryTicks(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[market.Tick, error]
	// QueryBars yields daily bars derived from QueryTicks.
	QueryBars(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[candle.Bar, error]
	// CountTicks counts ticks stored for the calendar day.
	CountTicks(ctx context.Context, day time.Time) (int64, error)
	// DeleteTicks removes the ticks of a day written by runID, or all of them when runID is empty.
	DeleteTicks(ctx context.Context, day time.Time, runID string) (int64, error)
	Close() error
}

// Open returns the engine named by c.Driver.
func Open(ctx context.Context, c conf.Config) (Storage, error) {
	switch c.Driver {
	case conf.DriverPostgres:
		return NewPostgres(ctx, c)
	case conf.DriverSQLite:
		return NewSQLite(ctx, c)
	case conf.DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

func writeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageWrite, op, err)
}

func duplicateError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w: %w", ErrStorageWrite, op, ErrDuplicateTick, err)
}

func validateTicks(ticks []market.Tick) error {
	for i, t := range ticks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tick %d (%s seq %d): %w", i, t.Symbol, t.Sequence, err)
		}
	}
	return nil
}

// tickFilter builds the WHERE clause shared by the SQL engines.
func tickFilter(symbol string, r market.DateRange, bind func(n int) string, ts func(time.Time) any) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, bind(len(args))))
	}

	if symbol != "" {
		add("symbol = %s", symbol)
	}
	start, end := r.Bounds()
	if !start.IsZero() {
		add("ts >= %s", ts(start))
	}
	if !end.IsZero() {
		add("ts < %s", ts(end))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func dollarBind(n int) string { return "$" + strconv.Itoa(n) }

func questionBind(int) string { return "?" }

var tickColumns = []string{
	"symbol", "ts", "seq", "price", "quantity",
	"bid_price", "bid_qty", "ask_price", "ask_qty", "open_interest", "run_id",
}

// splitStatements splits an embedded schema script into single statements.
func splitStatements(script string) []string {
	var stmts []string
	for stmt := range strings.SplitSeq(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}
