// Package candle
package candle

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/tickstore/internal/market"
	"github.com/amirphl/tickstore/internal/tfutils"
)

// Daily is the timeframe of end-of-day bars.
const Daily = "1d"

// ErrVolumeOverflow is returned when summed quantities exceed int64.
var ErrVolumeOverflow = errors.New("bar volume overflows int64")

// Bar is an OHLCV summary of the ticks of one symbol in one bucket.
// Bars are derived on demand and never stored.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Date      time.Time       `json:"date"` // bucket start
	Timeframe string          `json:"timeframe"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Trades    int             `json:"trades"`
}

// Validate checks if a bar has consistent data
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return errors.New("bar symbol cannot be empty")
	}
	if b.Date.IsZero() {
		return errors.New("bar date is zero")
	}
	if b.High.LessThan(b.Low) {
		return errors.New("bar high cannot be less than low")
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return errors.New("bar open price must be between high and low")
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return errors.New("bar close price must be between high and low")
	}
	if b.Volume < 0 {
		return errors.New("bar volume cannot be negative")
	}
	return nil
}

type accumulator struct {
	bar         Bar
	first, last market.Tick
}

func newAccumulator(symbol string, start time.Time, timeframe string) *accumulator {
	return &accumulator{bar: Bar{Symbol: symbol, Date: start, Timeframe: timeframe}}
}

func (a *accumulator) add(t market.Tick) error {
	if t.Quantity < 0 {
		return fmt.Errorf("tick %s seq %d has negative quantity %d", t.Symbol, t.Sequence, t.Quantity)
	}

	if a.bar.Trades == 0 {
		a.first, a.last = t, t
		a.bar.Open, a.bar.High, a.bar.Low, a.bar.Close = t.Price, t.Price, t.Price, t.Price
		a.bar.Volume = t.Quantity
		a.bar.Trades = 1
		return nil
	}

	if t.Quantity > math.MaxInt64-a.bar.Volume {
		return fmt.Errorf("%w: %s on %s", ErrVolumeOverflow, a.bar.Symbol, a.bar.Date.Format(market.DateLayout))
	}
	a.bar.Volume += t.Quantity
	a.bar.Trades++

	if t.Before(a.first) {
		a.first = t
		a.bar.Open = t.Price
	}
	if a.last.Before(t) {
		a.last = t
		a.bar.Close = t.Price
	}
	if t.Price.GreaterThan(a.bar.High) {
		a.bar.High = t.Price
	}
	if t.Price.LessThan(a.bar.Low) {
		a.bar.Low = t.Price
	}
	return nil
}

// Aggregate builds the daily bar of ticks that all share one symbol and date.
// Input order does not matter. An empty input yields no bar.
func Aggregate(ticks []market.Tick) (*Bar, error) {
	if len(ticks) == 0 {
		return nil, nil
	}

	symbol, date := ticks[0].Symbol, ticks[0].Date()
	acc := newAccumulator(symbol, date, Daily)
	for _, t := range ticks {
		if t.Symbol != symbol || !t.Date().Equal(date) {
			return nil, fmt.Errorf("cannot aggregate %s/%s with %s/%s into one bar",
				symbol, date.Format(market.DateLayout), t.Symbol, t.Date().Format(market.DateLayout))
		}
		if err := acc.add(t); err != nil {
			return nil, err
		}
	}
	return &acc.bar, nil
}

// AggregateDaily groups ticks per symbol and date and returns one bar per group,
// ordered by symbol then date.
func AggregateDaily(ticks []market.Tick) ([]Bar, error) {
	return Resample(ticks, Daily)
}

type bucketKey struct {
	symbol string
	start  time.Time
}

// Resample groups ticks into timeframe buckets per symbol.
func Resample(ticks []market.Tick, timeframe string) ([]Bar, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("invalid timeframe: %s", timeframe)
	}

	accs := make(map[bucketKey]*accumulator)
	for _, t := range ticks {
		k := bucketKey{symbol: t.Symbol, start: tfutils.BucketStart(t.Timestamp, timeframe)}
		acc, ok := accs[k]
		if !ok {
			acc = newAccumulator(k.symbol, k.start, timeframe)
			accs[k] = acc
		}
		if err := acc.add(t); err != nil {
			return nil, err
		}
	}

	bars := make([]Bar, 0, len(accs))
	for _, acc := range accs {
		bars = append(bars, acc.bar)
	}
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		return bars[i].Date.Before(bars[j].Date)
	})
	return bars, nil
}

// DailyBars streams daily bars out of ticks ordered by symbol then timestamp.
func DailyBars(ticks iter.Seq2[market.Tick, error]) iter.Seq2[Bar, error] {
	return Bars(ticks, Daily)
}

// Bars streams timeframe bars in a single pass. Ticks of one bucket must be
// contiguous in the input, which holds for (symbol, timestamp) ordering.
func Bars(ticks iter.Seq2[market.Tick, error], timeframe string) iter.Seq2[Bar, error] {
	return func(yield func(Bar, error) bool) {
		if !tfutils.IsValidTimeframe(timeframe) {
			yield(Bar{}, fmt.Errorf("invalid timeframe: %s", timeframe))
			return
		}

		var acc *accumulator
		for t, err := range ticks {
			if err != nil {
				yield(Bar{}, err)
				return
			}

			start := tfutils.BucketStart(t.Timestamp, timeframe)
			if acc != nil && (acc.bar.Symbol != t.Symbol || !acc.bar.Date.Equal(start)) {
				if !yield(acc.bar, nil) {
					return
				}
				acc = nil
			}
			if acc == nil {
				acc = newAccumulator(t.Symbol, start, timeframe)
			}
			if err := acc.add(t); err != nil {
				yield(Bar{}, err)
				return
			}
		}

		if acc != nil {
			yield(acc.bar, nil)
		}
	}
}

// ResampleTicks streams one tick per symbol and timeframe bucket out of ticks
// ordered by symbol then timestamp. Quantity is the bucket total. Prices, the
// book and open interest come from the last tick of the bucket. The timestamp
// is the bucket start. Empty buckets produce nothing.
func ResampleTicks(ticks iter.Seq2[market.Tick, error], timeframe string) iter.Seq2[market.Tick, error] {
	return func(yield func(market.Tick, error) bool) {
		if !tfutils.IsValidTimeframe(timeframe) {
			yield(market.Tick{}, fmt.Errorf("invalid timeframe: %s", timeframe))
			return
		}

		var (
			cur     market.Tick
			last    market.Tick
			pending bool
		)
		flush := func() bool {
			out := last
			out.Timestamp = cur.Timestamp
			out.Quantity = cur.Quantity
			out.RunID = ""
			return yield(out, nil)
		}

		for t, err := range ticks {
			if err != nil {
				yield(market.Tick{}, err)
				return
			}
			if t.Quantity < 0 {
				yield(market.Tick{}, fmt.Errorf("tick %s seq %d has negative quantity %d", t.Symbol, t.Sequence, t.Quantity))
				return
			}

			start := tfutils.BucketStart(t.Timestamp, timeframe)
			if pending && (cur.Symbol != t.Symbol || !cur.Timestamp.Equal(start)) {
				if !flush() {
					return
				}
				pending = false
			}
			if !pending {
				cur = market.Tick{Symbol: t.Symbol, Timestamp: start}
				last = t
				pending = true
			} else if last.Before(t) {
				last = t
			}

			if t.Quantity > math.MaxInt64-cur.Quantity {
				yield(market.Tick{}, fmt.Errorf("%w: %s at %s", ErrVolumeOverflow, t.Symbol, start.Format(time.RFC3339)))
				return
			}
			cur.Quantity += t.Quantity
		}

		if pending {
			flush()
		}
	}
}
