package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/ingestion"
	"github.com/amirphl/tickstore/internal/market"
)

// expandDates turns "from:to" arguments into single dates. Plain dates are
// passed through untouched so each one is validated on its own.
func expandDates(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("expected at least one date")
	}
	var out []string
	for _, arg := range args {
		if !strings.Contains(arg, ":") {
			out = append(out, arg)
			continue
		}
		r, err := market.ParseDateRange(arg, time.Now())
		if err != nil {
			return nil, err
		}
		if r.From.IsZero() || r.To.IsZero() {
			return nil, fmt.Errorf("backfill range %q needs both ends", arg)
		}
		for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
			out = append(out, d.Format(market.DateLayout))
		}
	}
	return out, nil
}

// checkDateArgs validates the date argument of the single date commands so a
// malformed date fails before storage is opened.
func checkDateArgs(command string, args []string) error {
	switch command {
	case "ingest", "reconcile", "purge":
	default:
		return nil
	}
	date, err := oneDate(args)
	if err != nil {
		return err
	}
	_, err = market.ParseDate(date)
	return err
}

func oneDate(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one date argument")
	}
	return args[0], nil
}

var tickHeader = []string{"symbol", "timestamp", "sequence", "price", "quantity", "bid_price", "bid_qty", "ask_price", "ask_qty", "open_interest"}

func writeTicksCSV(w io.Writer, ticks iter.Seq2[market.Tick, error]) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tickHeader); err != nil {
		return err
	}
	for t, err := range ticks {
		if err != nil {
			return err
		}
		if err := cw.Write([]string{
			t.Symbol,
			t.Timestamp.Format(time.RFC3339Nano),
			strconv.FormatInt(t.Sequence, 10),
			t.Price.String(),
			strconv.FormatInt(t.Quantity, 10),
			t.BidPrice.String(),
			strconv.FormatInt(t.BidQty, 10),
			t.AskPrice.String(),
			strconv.FormatInt(t.AskQty, 10),
			strconv.FormatInt(t.OpenInterest, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var barHeader = []string{"symbol", "date", "timeframe", "open", "high", "low", "close", "volume", "trades"}

func writeBarsCSV(w io.Writer, bars iter.Seq2[candle.Bar, error]) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(barHeader); err != nil {
		return err
	}
	for b, err := range bars {
		if err != nil {
			return err
		}
		date := b.Date.Format(time.RFC3339)
		if b.Timeframe == candle.Daily {
			date = b.Date.Format(market.DateLayout)
		}
		if err := cw.Write([]string{
			b.Symbol,
			date,
			b.Timeframe,
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			strconv.FormatInt(b.Volume, 10),
			strconv.Itoa(b.Trades),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// exitCode maps the error taxonomy to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidDateFormat):
		return 2
	case errors.Is(err, ingestion.ErrAlreadyIngested):
		return 3
	case errors.Is(err, ingestion.ErrArchiveNotFound):
		return 4
	case errors.Is(err, ingestion.ErrFatalInconsistency):
		return 5
	default:
		return 1
	}
}
