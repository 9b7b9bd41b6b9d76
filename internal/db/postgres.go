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

	"github.com/lib/pq"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/db/conf"
	"github.com/amirphl/tickstore/internal/market"
)

//go:embed schema/postgres.sql
var postgresSchema string

// pq error code for unique_violation
const pqUniqueViolation = "23505"

var postgresColumnTypes = map[string]string{
	"symbol":        "text",
	"ts":            "timestamp without time zone",
	"seq":           "bigint",
	"price":         "numeric",
	"quantity":      "bigint",
	"bid_price":     "numeric",
	"bid_qty":       "bigint",
	"ask_price":     "numeric",
	"ask_qty":       "bigint",
	"open_interest": "bigint",
	"run_id":        "text",
}

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context. Postgres methods called
// with the returned context run inside tx and leave commit to the caller.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Postgres stores ticks in PostgreSQL through lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres uses c.DB when set, otherwise opens c.DSN.
func NewPostgres(ctx context.Context, c conf.Config) (*Postgres, error) {
	if c.DB != nil {
		return &Postgres{db: c.DB}, nil
	}

	db, err := sql.Open("postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	c.ApplyPool(db)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) GetDB() *sql.DB {
	return p.db
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %w)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// queryRowWithTransaction is the single row variant of queryWithTransaction.
func (p *Postgres) queryRowWithTransaction(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return p.db.QueryRowContext(ctx, query, args...)
}

// EnsureSchema applies the DDL and verifies the result in one transaction, so
// an incompatible table is reported without committing anything.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		txCtx := WithTransaction(ctx, tx)
		for _, stmt := range splitStatements(postgresSchema) {
			if _, err := tx.ExecContext(txCtx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement %q: %w", stmt, err)
			}
		}
		return p.verifySchema(txCtx)
	})
	if err == nil || errors.Is(err, ErrSchemaIncompatible) {
		return err
	}
	// A failed statement aborts the transaction. Check the table as it stands.
	if GetTransaction(ctx) == nil {
		if verr := p.verifySchema(ctx); verr != nil {
			return verr
		}
	}
	return err
}

func (p *Postgres) verifySchema(ctx context.Context) error {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'ticks'`)
	if err != nil {
		return fmt.Errorf("failed to read ticks columns: %w", err)
	}
	defer rows.Close()

	found := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read ticks columns: %w", err)
	}

	for name, want := range postgresColumnTypes {
		got, ok := found[name]
		if !ok {
			return fmt.Errorf("%w: column %s is missing", ErrSchemaIncompatible, name)
		}
		if got != want {
			return fmt.Errorf("%w: column %s is %s, expected %s", ErrSchemaIncompatible, name, got, want)
		}
	}

	var unique bool
	err = p.queryRowWithTransaction(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = current_schema() AND tablename = 'ticks'
			AND indexdef LIKE 'CREATE UNIQUE INDEX%(symbol, ts, seq)'
		)`).Scan(&unique)
	if err != nil {
		return fmt.Errorf("failed to read ticks indexes: %w", err)
	}
	if !unique {
		return fmt.Errorf("%w: no unique key on (symbol, ts, seq)", ErrSchemaIncompatible)
	}
	return nil
}

// InsertTicks bulk loads ticks with COPY inside one transaction.
func (p *Postgres) InsertTicks(ctx context.Context, ticks []market.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	if err := validateTicks(ticks); err != nil {
		return writeError("insert ticks", err)
	}

	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("ticks", tickColumns...))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		defer stmt.Close()

		for _, t := range ticks {
			_, err := stmt.ExecContext(ctx,
				t.Symbol, t.Timestamp.UTC(), t.Sequence, t.Price, t.Quantity,
				t.BidPrice, t.BidQty, t.AskPrice, t.AskQty, t.OpenInterest, t.RunID)
			if err != nil {
				return fmt.Errorf("failed to copy tick %s seq %d: %w", t.Symbol, t.Sequence, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to flush copy: %w", err)
		}
		return nil
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return duplicateError("insert ticks", err)
		}
		return writeError("insert ticks", err)
	}
	return nil
}

func (p *Postgres) QueryTicks(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[market.Tick, error] {
	return func(yield func(market.Tick, error) bool) {
		where, args := tickFilter(symbol, r, dollarBind, func(t time.Time) any { return t })
		query := "SELECT " + strings.Join(tickColumns, ", ") + " FROM ticks" + where + " ORDER BY symbol, ts, seq"

		rows, err := p.queryWithTransaction(ctx, query, args...)
		if err != nil {
			yield(market.Tick{}, fmt.Errorf("failed to query ticks: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var t market.Tick
			err := rows.Scan(&t.Symbol, &t.Timestamp, &t.Sequence, &t.Price, &t.Quantity,
				&t.BidPrice, &t.BidQty, &t.AskPrice, &t.AskQty, &t.OpenInterest, &t.RunID)
			if err != nil {
				yield(market.Tick{}, fmt.Errorf("failed to scan tick: %w", err))
				return
			}
			t.Timestamp = t.Timestamp.UTC()
			if !yield(t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(market.Tick{}, fmt.Errorf("failed to iterate ticks: %w", err))
		}
	}
}

func (p *Postgres) QueryBars(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[candle.Bar, error] {
	return candle.DailyBars(p.QueryTicks(ctx, symbol, r))
}

func (p *Postgres) CountTicks(ctx context.Context, day time.Time) (int64, error) {
	start, end := market.SingleDay(day).Bounds()
	var n int64
	err := p.queryRowWithTransaction(ctx, `SELECT COUNT(*) FROM ticks WHERE ts >= $1 AND ts < $2`, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ticks: %w", err)
	}
	return n, nil
}

func (p *Postgres) DeleteTicks(ctx context.Context, day time.Time, runID string) (int64, error) {
	start, end := market.SingleDay(day).Bounds()
	query := `DELETE FROM ticks WHERE ts >= $1 AND ts < $2`
	args := []any{start, end}
	if runID != "" {
		query += ` AND run_id = $3`
		args = append(args, runID)
	}

	var n int64
	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, writeError("delete ticks", err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
