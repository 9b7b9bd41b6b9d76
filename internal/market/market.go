// Package market
package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

// ErrInvalidDateFormat is returned when a date does not match DateLayout.
var ErrInvalidDateFormat = errors.New("invalid date format, expected YYYY-MM-DD")

// Tick represents a single trade print.
type Tick struct {
	Symbol       string
	Timestamp    time.Time // UTC, microsecond precision
	Price        decimal.Decimal
	Quantity     int64
	Sequence     int64 // increasing per symbol within one archive
	BidPrice     decimal.Decimal
	BidQty       int64
	AskPrice     decimal.Decimal
	AskQty       int64
	OpenInterest int64
	RunID        string // ingestion run that stored the tick
}

// Date returns the calendar date of the tick.
func (t Tick) Date() time.Time {
	return Day(t.Timestamp)
}

// Before reports whether t sorts before o by timestamp, then by sequence.
func (t Tick) Before(o Tick) bool {
	if !t.Timestamp.Equal(o.Timestamp) {
		return t.Timestamp.Before(o.Timestamp)
	}
	return t.Sequence < o.Sequence
}

func (t Tick) Validate() error {
	if t.Symbol == "" {
		return errors.New("symbol is empty")
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is zero")
	}
	if t.Quantity < 0 {
		return fmt.Errorf("negative quantity %d", t.Quantity)
	}
	if t.BidQty < 0 || t.AskQty < 0 || t.OpenInterest < 0 {
		return errors.New("negative book quantity")
	}
	return nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date into a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
	}
	return d.UTC(), nil
}

// DateRange is an inclusive range of calendar days.
// A zero From or To leaves that side open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// SingleDay returns a range covering only day.
func SingleDay(day time.Time) DateRange {
	d := Day(day)
	return DateRange{From: d, To: d}
}

// ParseDateRange accepts "start", "start:end", "start:" and ":end".
// An empty string means today.
func ParseDateRange(s string, now time.Time) (DateRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SingleDay(now), nil
	}

	from, to, found := strings.Cut(s, ":")
	if !found {
		d, err := ParseDate(from)
		if err != nil {
			return DateRange{}, err
		}
		return SingleDay(d), nil
	}

	var r DateRange
	var err error
	if from != "" {
		if r.From, err = ParseDate(from); err != nil {
			return DateRange{}, err
		}
	}
	if to != "" {
		if r.To, err = ParseDate(to); err != nil {
			return DateRange{}, err
		}
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return DateRange{}, fmt.Errorf("%w: range start %s is after end %s", ErrInvalidDateFormat, from, to)
	}
	return r, nil
}

// Bounds returns the half-open instant interval [start, end) covered by the range.
// Open sides are returned as zero times.
func (r DateRange) Bounds() (start, end time.Time) {
	if !r.From.IsZero() {
		start = Day(r.From)
	}
	if !r.To.IsZero() {
		end = Day(r.To).AddDate(0, 0, 1)
	}
	return start, end
}

// Contains reports whether ts falls inside the range.
func (r DateRange) Contains(ts time.Time) bool {
	start, end := r.Bounds()
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && !ts.Before(end) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	var from, to string
	if !r.From.IsZero() {
		from = r.From.Format(DateLayout)
	}
	if !r.To.IsZero() {
		to = r.To.Format(DateLayout)
	}
	if from == to {
		return from
	}
	return from + ":" + to
}
