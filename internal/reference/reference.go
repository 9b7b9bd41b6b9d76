// Package reference reads the exchange end-of-day snapshot used to check
// bars derived from ticks.
package reference

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/market"
)

const snapshotDateLayout = "02-Jan-2006"

var ErrSnapshotNotFound = errors.New("reference snapshot not found")

// Record is one symbol of the end-of-day snapshot.
type Record struct {
	Symbol string
	Series string
	Date   time.Time
	High   decimal.Decimal
	Low    decimal.Decimal
	Volume int64
}

// Ticker maps an exchange symbol and series to the tick symbol. Equity
// series keep the bare symbol, others get the first two series letters,
// upper-cased.
func Ticker(symbol, series string) string {
	series = strings.ToUpper(series)
	if series == "EQ" || series == "" {
		return symbol
	}
	if len(series) > 2 {
		series = series[:2]
	}
	return symbol + "." + series
}

// EODSnapshot loads EODSNAPSHOT_<DDMONYYYY>bhav.csv.zip files from Root.
type EODSnapshot struct {
	Root   string
	logger *zap.Logger
}

func NewEODSnapshot(root string, logger *zap.Logger) *EODSnapshot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EODSnapshot{Root: root, logger: logger}
}

func FileName(day time.Time) string {
	return "EODSNAPSHOT_" + strings.ToUpper(day.Format("02Jan2006")) + "bhav.csv.zip"
}

// Load returns the records of day. Rows stamped with another date are skipped.
func (s *EODSnapshot) Load(ctx context.Context, day time.Time) ([]Record, error) {
	path := filepath.Join(s.Root, FileName(day))

	zr, err := zip.OpenReader(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer zr.Close()

	var member *zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() && strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			member = f
			break
		}
	}
	if member == nil {
		return nil, fmt.Errorf("%w: %s has no csv member", ErrSnapshotNotFound, path)
	}

	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", member.Name, err)
	}
	defer rc.Close()

	records, skipped, err := Parse(ctx, rc, day)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", member.Name, err)
	}
	if skipped > 0 {
		s.logger.Warn("Reference | skipped rows of other dates",
			zap.String("file", member.Name), zap.Int("skipped", skipped))
	}
	return records, nil
}

// Parse reads a snapshot CSV and keeps the rows dated day.
func Parse(ctx context.Context, r io.Reader, day time.Time) (records []Record, skipped int, err error) {
	day = market.Day(day)

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, c := range []string{"SYMBOL", "SERIES", "HIGH", "LOW", "TOTTRDQTY", "TIMESTAMP"} {
		if _, ok := cols[c]; !ok {
			return nil, 0, fmt.Errorf("missing column %s", c)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, skipped, nil
		}
		if err != nil {
			return nil, 0, err
		}
		line, _ := cr.FieldPos(0)

		field := func(name string) string {
			i := cols[name]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		date, err := time.Parse(snapshotDateLayout, field("TIMESTAMP"))
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: invalid TIMESTAMP: %w", line, err)
		}
		if !date.Equal(day) {
			skipped++
			continue
		}

		rr := Record{
			Symbol: Ticker(field("SYMBOL"), field("SERIES")),
			Series: field("SERIES"),
			Date:   date,
		}
		if rr.Symbol == "" {
			return nil, 0, fmt.Errorf("line %d: empty SYMBOL", line)
		}
		if rr.High, err = decimal.NewFromString(field("HIGH")); err != nil {
			return nil, 0, fmt.Errorf("line %d: invalid HIGH: %w", line, err)
		}
		if rr.Low, err = decimal.NewFromString(field("LOW")); err != nil {
			return nil, 0, fmt.Errorf("line %d: invalid LOW: %w", line, err)
		}
		if rr.Volume, err = strconv.ParseInt(field("TOTTRDQTY"), 10, 64); err != nil {
			return nil, 0, fmt.Errorf("line %d: invalid TOTTRDQTY: %w", line, err)
		}
		records = append(records, rr)
	}
}

// Exists reports whether the snapshot of day is present.
func (s *EODSnapshot) Exists(day time.Time) bool {
	info, err := os.Stat(filepath.Join(s.Root, FileName(day)))
	return err == nil && !info.IsDir()
}
