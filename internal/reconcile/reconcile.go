// Package reconcile compares daily bars derived from ticks with the
// exchange end-of-day snapshot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/market"
	"github.com/amirphl/tickstore/internal/reference"
)

// Check names, evaluated in this order for every symbol.
const (
	CheckVolume = "volume"
	CheckHigh   = "high"
	CheckLow    = "low"
)

// DefectMissingSymbol marks a symbol present on only one side.
const DefectMissingSymbol = "MissingSymbol"

// Sides a symbol can be missing from.
const (
	SideReference = "reference"
	SideTicks     = "ticks"
)

// ErrDuplicateSymbol is returned when an input lists a symbol twice for the date.
var ErrDuplicateSymbol = errors.New("duplicate symbol")

type Check struct {
	Name   string            `json:"name"`
	Passed bool              `json:"passed"`
	Detail map[string]string `json:"detail"`
}

// Result holds the checks of one symbol. Checks is empty when the symbol
// exists on one side only.
type Result struct {
	Symbol       string    `json:"symbol"`
	Date         time.Time `json:"date"`
	HasBar       bool      `json:"has_bar"`
	HasReference bool      `json:"has_reference"`
	Checks       []Check   `json:"checks"`
}

// Passed reports whether every check of r passed.
func (r Result) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

type Defect struct {
	Kind        string    `json:"kind"`
	Symbol      string    `json:"symbol"`
	Date        time.Time `json:"date"`
	MissingFrom string    `json:"missing_from"`
}

type Report struct {
	Date            time.Time `json:"date"`
	Results         []Result  `json:"results"`
	Defects         []Defect  `json:"defects"`
	BarCount        int       `json:"bar_count"`
	ReferenceCount  int       `json:"reference_count"`
	SymbolCountDiff int       `json:"symbol_count_diff"`
}

// FailedChecks returns the number of checks that did not pass.
func (r *Report) FailedChecks() int {
	n := 0
	for _, res := range r.Results {
		for _, c := range res.Checks {
			if !c.Passed {
				n++
			}
		}
	}
	return n
}

// Clean reports whether the date reconciled without failures or defects.
func (r *Report) Clean() bool {
	return r.FailedChecks() == 0 && len(r.Defects) == 0
}

// Compare reconciles bars and references of one date. It has no side effects
// and returns the same report for the same inputs.
func Compare(date time.Time, bars []candle.Bar, refs []reference.Record) (*Report, error) {
	date = market.Day(date)

	barBySymbol := make(map[string]candle.Bar, len(bars))
	for _, b := range bars {
		if _, dup := barBySymbol[b.Symbol]; dup {
			return nil, fmt.Errorf("%w: bar %s on %s", ErrDuplicateSymbol, b.Symbol, date.Format(market.DateLayout))
		}
		barBySymbol[b.Symbol] = b
	}
	refBySymbol := make(map[string]reference.Record, len(refs))
	for _, r := range refs {
		if _, dup := refBySymbol[r.Symbol]; dup {
			return nil, fmt.Errorf("%w: reference %s on %s", ErrDuplicateSymbol, r.Symbol, date.Format(market.DateLayout))
		}
		refBySymbol[r.Symbol] = r
	}

	symbols := make([]string, 0, len(barBySymbol)+len(refBySymbol))
	for s := range barBySymbol {
		symbols = append(symbols, s)
	}
	for s := range refBySymbol {
		if _, ok := barBySymbol[s]; !ok {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	report := &Report{
		Date:            date,
		Results:         make([]Result, 0, len(symbols)),
		Defects:         []Defect{},
		BarCount:        len(barBySymbol),
		ReferenceCount:  len(refBySymbol),
		SymbolCountDiff: len(refBySymbol) - len(barBySymbol),
	}

	for _, s := range symbols {
		bar, hasBar := barBySymbol[s]
		ref, hasRef := refBySymbol[s]
		res := Result{Symbol: s, Date: date, HasBar: hasBar, HasReference: hasRef, Checks: []Check{}}

		switch {
		case hasBar && hasRef:
			res.Checks = checkSymbol(bar, ref)
		case hasBar:
			report.Defects = append(report.Defects, Defect{Kind: DefectMissingSymbol, Symbol: s, Date: date, MissingFrom: SideReference})
		default:
			report.Defects = append(report.Defects, Defect{Kind: DefectMissingSymbol, Symbol: s, Date: date, MissingFrom: SideTicks})
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func checkSymbol(bar candle.Bar, ref reference.Record) []Check {
	return []Check{
		{
			Name:   CheckVolume,
			Passed: bar.Volume == ref.Volume,
			Detail: map[string]string{
				"reference_volume": strconv.FormatInt(ref.Volume, 10),
				"bar_volume":       strconv.FormatInt(bar.Volume, 10),
			},
		},
		{
			Name:   CheckHigh,
			Passed: ref.High.GreaterThanOrEqual(bar.High),
			Detail: map[string]string{
				"reference_high": ref.High.String(),
				"bar_high":       bar.High.String(),
			},
		},
		{
			Name:   CheckLow,
			Passed: ref.Low.LessThanOrEqual(bar.Low),
			Detail: map[string]string{
				"reference_low": ref.Low.String(),
				"bar_low":       bar.Low.String(),
			},
		},
	}
}

// BarSource yields daily bars; db.Storage satisfies it.
type BarSource interface {
	QueryBars(ctx context.Context, symbol string, r market.DateRange) iter.Seq2[candle.Bar, error]
}

// ReferenceSource loads the snapshot records of a day.
type ReferenceSource interface {
	Load(ctx context.Context, day time.Time) ([]reference.Record, error)
}

// Engine reads both sides of a date and compares them.
type Engine struct {
	bars   BarSource
	refs   ReferenceSource
	logger *zap.Logger
}

func NewEngine(bars BarSource, refs ReferenceSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{bars: bars, refs: refs, logger: logger}
}

// Run reconciles date (YYYY-MM-DD). Only read failures are returned as errors;
// check failures and defects are part of the report.
func (e *Engine) Run(ctx context.Context, date string) (*Report, error) {
	day, err := market.ParseDate(date)
	if err != nil {
		return nil, err
	}

	var bars []candle.Bar
	for b, err := range e.bars.QueryBars(ctx, "", market.SingleDay(day)) {
		if err != nil {
			return nil, fmt.Errorf("failed to read bars for %s: %w", date, err)
		}
		bars = append(bars, b)
	}

	refs, err := e.refs.Load(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference for %s: %w", date, err)
	}

	report, err := Compare(day, bars, refs)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Reconciliation | finished",
		zap.String("date", date),
		zap.Int("bars", report.BarCount),
		zap.Int("references", report.ReferenceCount),
		zap.Int("failed_checks", report.FailedChecks()),
		zap.Int("defects", len(report.Defects)))
	return report, nil
}
