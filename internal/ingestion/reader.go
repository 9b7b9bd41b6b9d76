package ingestion

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/tickstore/internal/market"
)

const tickTimeLayout = "02/01/2006 15:04:05"

// Archive member columns. Matching ignores case and surrounding space.
const (
	colDate         = "date"
	colTime         = "time"
	colTicker       = "ticker"
	colLTP          = "ltp"
	colLTQ          = "ltq"
	colBuyPrice     = "buyprice"
	colBuyQty       = "buyqty"
	colSellPrice    = "sellprice"
	colSellQty      = "sellqty"
	colOpenInterest = "openinterest"
)

var requiredColumns = []string{colDate, colTime, colTicker, colLTP, colLTQ}

// ArchiveReader streams ticks out of a daily zip archive. Every *.csv member
// is read in name order; sequences count per symbol across the archive.
type ArchiveReader struct {
	Day          time.Time
	SymbolSuffix string

	seq   map[string]int64
	files int
}

func NewArchiveReader(day time.Time, symbolSuffix string) *ArchiveReader {
	return &ArchiveReader{Day: market.Day(day), SymbolSuffix: symbolSuffix, seq: make(map[string]int64)}
}

// Files returns the number of members read so far.
func (r *ArchiveReader) Files() int {
	return r.files
}

// Read calls fn for every tick of the archive at path. It stops at the first
// malformed row, fn error or context cancellation.
func (r *ArchiveReader) Read(ctx context.Context, path string, fn func(market.Tick) error) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer zr.Close()

	members := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			continue
		}
		members = append(members, f)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })

	for _, f := range members {
		if err := r.readMember(ctx, f, fn); err != nil {
			return err
		}
		r.files++
	}
	return nil
}

func (r *ArchiveReader) readMember(ctx context.Context, f *zip.File, fn func(market.Tick) error) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open member %s: %w", f.Name, err)
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return &RecordParseError{File: f.Name, Line: 1, Err: err}
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return &RecordParseError{File: f.Name, Line: 1, Column: c, Err: errors.New("missing column")}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return &RecordParseError{File: f.Name, Line: line, Err: err}
		}

		line, _ := cr.FieldPos(0)
		t, perr := r.parseRecord(rec, cols)
		if perr != nil {
			perr.File, perr.Line = f.Name, line
			return perr
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}

func (r *ArchiveReader) parseRecord(rec []string, cols map[string]int) (market.Tick, *RecordParseError) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var t market.Tick

	t.Symbol = strings.TrimSuffix(field(colTicker), r.SymbolSuffix)
	if t.Symbol == "" {
		return t, &RecordParseError{Column: colTicker, Err: errors.New("empty symbol")}
	}

	ts, err := time.ParseInLocation(tickTimeLayout, field(colDate)+" "+field(colTime), time.UTC)
	if err != nil {
		return t, &RecordParseError{Column: colTime, Err: err}
	}
	t.Timestamp = ts.Truncate(time.Microsecond)
	if !market.Day(t.Timestamp).Equal(r.Day) {
		return t, &RecordParseError{Column: colDate, Err: fmt.Errorf("tick dated %s outside archive day %s",
			t.Timestamp.Format(market.DateLayout), r.Day.Format(market.DateLayout))}
	}

	if t.Price, err = decimal.NewFromString(field(colLTP)); err != nil {
		return t, &RecordParseError{Column: colLTP, Err: err}
	}
	if t.Quantity, err = parseQuantity(field(colLTQ), true); err != nil {
		return t, &RecordParseError{Column: colLTQ, Err: err}
	}

	if t.BidPrice, err = parseOptionalPrice(field(colBuyPrice)); err != nil {
		return t, &RecordParseError{Column: colBuyPrice, Err: err}
	}
	if t.BidQty, err = parseQuantity(field(colBuyQty), false); err != nil {
		return t, &RecordParseError{Column: colBuyQty, Err: err}
	}
	if t.AskPrice, err = parseOptionalPrice(field(colSellPrice)); err != nil {
		return t, &RecordParseError{Column: colSellPrice, Err: err}
	}
	if t.AskQty, err = parseQuantity(field(colSellQty), false); err != nil {
		return t, &RecordParseError{Column: colSellQty, Err: err}
	}
	if t.OpenInterest, err = parseQuantity(field(colOpenInterest), false); err != nil {
		return t, &RecordParseError{Column: colOpenInterest, Err: err}
	}

	r.seq[t.Symbol]++
	t.Sequence = r.seq[t.Symbol]
	return t, nil
}

// parseQuantity accepts integers and integral decimals such as "10.0".
func parseQuantity(s string, required bool) (int64, error) {
	if s == "" {
		if required {
			return 0, errors.New("empty quantity")
		}
		return 0, nil
	}

	q, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		d, derr := decimal.NewFromString(s)
		if derr != nil || !d.IsInteger() || !d.BigInt().IsInt64() {
			return 0, fmt.Errorf("invalid quantity %q", s)
		}
		q = d.IntPart()
	}
	if q < 0 {
		return 0, fmt.Errorf("negative quantity %d", q)
	}
	return q, nil
}

func parseOptionalPrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
