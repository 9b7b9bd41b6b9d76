package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/db/conf"
	"github.com/amirphl/tickstore/internal/market"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

var sqliteColumnTypes = map[string]string{
	"symbol":        "TEXT",
	"ts":            "INTEGER",
	"seq":           "INTEGER",
	"price":         "TEXT",
	"quantity":      "INTEGER",
	"bid_price":     "TEXT",
	"bid_qty":       "INTEGER",
	"ask_price":     "TEXT",
	"ask_qty":       "INTEGER",
	"open_interest": "INTEGER",
	"run_id":        "TEXT",
}

// SQLite stores ticks in a single-file database. Timestamps are unix
// microseconds and prices are decimal text.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens c.DSN (a file path or ":memory:").
func NewSQLite(ctx context.Context, c conf.Config) (*SQLite, error) {
	db, err := sql.Open("sqlite", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	err := s.applySchema(ctx)
	if verr := s.verifySchema(ctx); verr != nil {
		return verr
	}
	return err
}

func (s *SQLite) applySchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, stmt := range splitStatements(sqliteSchema) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply schema statement %q: %w", stmt, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

func (s *SQLite) verifySchema(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(ticks)`)
	if err != nil {
		return fmt.Errorf("failed to read ticks columns: %w", err)
	}
	defer rows.Close()

	types := make(map[string]string)
	pk := make(map[string]int)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pkPos   int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pkPos); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		types[name] = strings.ToUpper(typ)
		pk[name] = pkPos
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read ticks columns: %w", err)
	}

	for name, want := range sqliteColumnTypes {
		got, ok := types[name]
		if !ok {
			return fmt.Errorf("%w: column %s is missing", ErrSchemaIncompatible, name)
		}
		if got != want {
			return fmt.Errorf("%w: column %s is %s, expected %s", ErrSchemaIncompatible, name, got, want)
		}
	}
	if pk["symbol"] != 1 || pk["ts"] != 2 || pk["seq"] != 3 {
		return fmt.Errorf("%w: primary key is not (symbol, ts, seq)", ErrSchemaIncompatible)
	}
	return nil
}

func (s *SQLite) InsertTicks(ctx context.Context, ticks []market.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	if err := validateTicks(ticks); err != nil {
		return writeError("insert ticks", err)
	}

	if err := s.insert(ctx, ticks); err != nil {
		if isSQLiteConstraint(err) {
			return duplicateError("insert ticks", err)
		}
		return writeError("insert ticks", err)
	}
	return nil
}

func (s *SQLite) insert(ctx context.Context, ticks []market.Tick) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tickColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO ticks ("+strings.Join(tickColumns, ", ")+") VALUES ("+placeholders+")")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		_, err = stmt.ExecContext(ctx,
			t.Symbol, t.Timestamp.UTC().UnixMicro(), t.Sequence, t.Price.String(), t.Quantity,
			t.BidPrice.String(), t.BidQty, t.AskPrice.String(), t.AskQty, t.OpenInterest, t.RunID)
		if err != nil {
			return fmt.Errorf("failed to insert tick %s seq %d: %w", t.Symbol, t.Sequence, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	return nil
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func (s *SQLite) QueryTicks(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[market.Tick, error] {
	return func(yield func(market.Tick, error) bool) {
		where, args := tickFilter(symbol, r, questionBind, func(t time.Time) any { return t.UTC().UnixMicro() })
		query := "SELECT " + strings.Join(tickColumns, ", ") + " FROM ticks" + where + " ORDER BY symbol, ts, seq"

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(market.Tick{}, fmt.Errorf("failed to query ticks: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t      market.Tick
				micros int64
			)
			err := rows.Scan(&t.Symbol, &micros, &t.Sequence, &t.Price, &t.Quantity,
				&t.BidPrice, &t.BidQty, &t.AskPrice, &t.AskQty, &t.OpenInterest, &t.RunID)
			if err != nil {
				yield(market.Tick{}, fmt.Errorf("failed to scan tick: %w", err))
				return
			}
			t.Timestamp = time.UnixMicro(micros).UTC()
			if !yield(t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(market.Tick{}, fmt.Errorf("failed to iterate ticks: %w", err))
		}
	}
}

func (s *SQLite) QueryBars(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[candle.Bar, error] {
	return candle.DailyBars(s.QueryTicks(ctx, symbol, r))
}

func (s *SQLite) CountTicks(ctx context.Context, day time.Time) (int64, error) {
	start, end := market.SingleDay(day).Bounds()
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks WHERE ts >= ? AND ts < ?`,
		start.UnixMicro(), end.UnixMicro()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ticks: %w", err)
	}
	return n, nil
}

func (s *SQLite) DeleteTicks(ctx context.Context, day time.Time, runID string) (int64, error) {
	start, end := market.SingleDay(day).Bounds()
	query := `DELETE FROM ticks WHERE ts >= ? AND ts < ?`
	args := []any{start.UnixMicro(), end.UnixMicro()}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, writeError("delete ticks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, writeError("delete ticks", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
