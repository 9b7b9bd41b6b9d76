package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/ingestion"
	"github.com/amirphl/tickstore/internal/market"
)

func TestExpandDates(t *testing.T) {
	dates, err := expandDates([]string{"2022-04-01", "2022-03-30:2022-04-02"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2022-04-01", "2022-03-30", "2022-03-31", "2022-04-01", "2022-04-02"}, dates)

	dates, err = expandDates([]string{"bogus"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bogus"}, dates)

	_, err = expandDates([]string{"2022-04-01:"})
	assert.ErrorContains(t, err, "both ends")

	_, err = expandDates([]string{"2022-04-02:2022-04-01"})
	assert.ErrorIs(t, err, market.ErrInvalidDateFormat)

	_, err = expandDates(nil)
	assert.Error(t, err)
}

func TestWriteBarsCSV(t *testing.T) {
	day := time.Date(2022, 4, 4, 0, 0, 0, 0, time.UTC)
	d := decimal.RequireFromString
	bars := func(yield func(candle.Bar, error) bool) {
		if !yield(candle.Bar{Symbol: "RELIANCE", Date: day, Timeframe: candle.Daily,
			Open: d("100"), High: d("105"), Low: d("98"), Close: d("98"), Volume: 35, Trades: 3}, nil) {
			return
		}
		yield(candle.Bar{Symbol: "TCS", Date: day.Add(9 * time.Hour), Timeframe: "1h",
			Open: d("1"), High: d("1"), Low: d("1"), Close: d("1"), Volume: 1, Trades: 1}, nil)
	}

	var buf bytes.Buffer
	require.NoError(t, writeBarsCSV(&buf, bars))
	assert.Equal(t, "symbol,date,timeframe,open,high,low,close,volume,trades\n"+
		"RELIANCE,2022-04-04,1d,100,105,98,98,35,3\n"+
		"TCS,2022-04-04T09:00:00Z,1h,1,1,1,1,1,1\n", buf.String())

	boom := errors.New("read failed")
	err := writeBarsCSV(&buf, func(yield func(candle.Bar, error) bool) { yield(candle.Bar{}, boom) })
	assert.ErrorIs(t, err, boom)
}

func TestWriteTicksCSV(t *testing.T) {
	ts := time.Date(2022, 4, 4, 9, 15, 0, 250000000, time.UTC)
	ticks := func(yield func(market.Tick, error) bool) {
		yield(market.Tick{Symbol: "RELIANCE", Timestamp: ts, Sequence: 1, Price: decimal.RequireFromString("100.5"),
			Quantity: 10, BidPrice: decimal.RequireFromString("100.45"), BidQty: 3}, nil)
	}

	var buf bytes.Buffer
	require.NoError(t, writeTicksCSV(&buf, ticks))
	assert.Contains(t, buf.String(), "RELIANCE,2022-04-04T09:15:00.25Z,1,100.5,10,100.45,3,0,0,0\n")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(fmt.Errorf("x: %w", market.ErrInvalidDateFormat)))
	assert.Equal(t, 3, exitCode(ingestion.ErrAlreadyIngested))
	assert.Equal(t, 4, exitCode(ingestion.ErrArchiveNotFound))
	assert.Equal(t, 5, exitCode(ingestion.ErrFatalInconsistency))
	assert.Equal(t, 1, exitCode(errors.New("other")))
}

func TestCheckDateArgs(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		wantErr error
		fails   bool
	}{
		{name: "valid ingest", command: "ingest", args: []string{"2022-04-04"}},
		{name: "day first ingest", command: "ingest", args: []string{"04-04-2022"}, wantErr: market.ErrInvalidDateFormat, fails: true},
		{name: "slashed reconcile", command: "reconcile", args: []string{"2022/04/04"}, wantErr: market.ErrInvalidDateFormat, fails: true},
		{name: "purge word", command: "purge", args: []string{"yesterday"}, wantErr: market.ErrInvalidDateFormat, fails: true},
		{name: "missing date", command: "purge", args: nil, fails: true},
		{name: "two dates", command: "ingest", args: []string{"2022-04-04", "2022-04-05"}, fails: true},
		{name: "other command", command: "migrate", args: []string{"whatever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkDateArgs(tt.command, tt.args)
			if !tt.fails {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 2, exitCode(err))
			}
		})
	}
}
