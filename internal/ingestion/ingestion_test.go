package ingestion

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/db"
	dbmock "github.com/amirphl/tickstore/internal/db/mock"
	"github.com/amirphl/tickstore/internal/market"
)

var testDay = time.Date(2022, 4, 4, 0, 0, 0, 0, time.UTC)

const header = "Date,Time,Ticker,LTP,BuyPrice,BuyQty,SellPrice,SellQty,LTQ,OpenInterest\n"

// writeArchive builds STOCK_TICK_<day>.zip in dir with the given members.
func writeArchive(t *testing.T, dir string, day time.Time, members map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, DefaultNaming().ArchiveName(day))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func rows(lines ...string) string {
	return header + strings.Join(lines, "\n") + "\n"
}

func defaultMembers() map[string]string {
	return map[string]string{
		"RELIANCE.NSE.csv": rows(
			"04/04/2022,09:15:00,RELIANCE.NSE,100,99.95,10,100.05,12,10,0",
			"04/04/2022,09:16:00,RELIANCE.NSE,105,104.9,3,105.1,4,5,0",
			"04/04/2022,09:17:00,RELIANCE.NSE,98,97.9,8,98.1,6,20,0",
		),
		"TCS.NSE.csv": rows(
			"04/04/2022,09:15:00,TCS.NSE,3500.25,,,,,4,",
		),
		"readme.txt": "not a tick file",
	}
}

func newTestPipeline(storage db.Storage, root string, batchSize int) *Pipeline {
	cfg := DefaultConfig()
	cfg.BatchSize = batchSize
	p := NewPipeline(storage, NewLocalLocator(root, DefaultNaming()), cfg, zap.NewNop(), nil)
	p.newID = func() string { return "run-1" }
	return p
}

func countTicks(t *testing.T, s db.Storage) int64 {
	t.Helper()
	n, err := s.CountTicks(context.Background(), testDay)
	require.NoError(t, err)
	return n
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("loads every member", func(t *testing.T) {
		root := t.TempDir()
		writeArchive(t, root, testDay, defaultMembers())
		storage := db.NewMemory()

		res, err := newTestPipeline(storage, root, 2).Ingest(ctx, "2022-04-04")
		require.NoError(t, err)

		assert.Equal(t, testDay, res.Date)
		assert.Equal(t, "run-1", res.RunID)
		assert.Equal(t, 2, res.Files)
		assert.Equal(t, 4, res.Ticks)
		assert.Equal(t, 2, res.Batches)
		assert.Equal(t, 2, res.Symbols)

		var got []market.Tick
		for tk, err := range storage.QueryTicks(ctx, "RELIANCE", market.SingleDay(testDay)) {
			require.NoError(t, err)
			got = append(got, tk)
		}
		require.Len(t, got, 3)
		assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Sequence, got[1].Sequence, got[2].Sequence})
		assert.Equal(t, "100", got[0].Price.String())
		assert.Equal(t, "99.95", got[0].BidPrice.String())
		assert.Equal(t, int64(12), got[0].AskQty)
		assert.Equal(t, "run-1", got[0].RunID)
		assert.Equal(t, time.Date(2022, 4, 4, 9, 15, 0, 0, time.UTC), got[0].Timestamp)

		var bars int
		for b, err := range storage.QueryBars(ctx, "RELIANCE", market.SingleDay(testDay)) {
			require.NoError(t, err)
			assert.Equal(t, int64(35), b.Volume)
			assert.Equal(t, "98", b.Close.String())
			bars++
		}
		assert.Equal(t, 1, bars)
	})

	t.Run("second run is rejected", func(t *testing.T) {
		root := t.TempDir()
		writeArchive(t, root, testDay, defaultMembers())
		storage := db.NewMemory()
		p := newTestPipeline(storage, root, 100)

		_, err := p.Ingest(ctx, "2022-04-04")
		require.NoError(t, err)

		_, err = p.Ingest(ctx, "2022-04-04")
		assert.ErrorIs(t, err, ErrAlreadyIngested)
		assert.Equal(t, int64(4), countTicks(t, storage))
	})

	t.Run("invalid date never touches storage", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		storage := dbmock.NewMockStorage(ctrl)

		_, err := newTestPipeline(storage, t.TempDir(), 100).Ingest(ctx, "04-04-2022")
		assert.ErrorIs(t, err, market.ErrInvalidDateFormat)
	})

	t.Run("missing archive", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		storage := dbmock.NewMockStorage(ctrl)

		_, err := newTestPipeline(storage, t.TempDir(), 100).Ingest(ctx, "2022-04-05")
		assert.ErrorIs(t, err, ErrArchiveNotFound)
	})

	t.Run("bad row after a committed batch leaves nothing", func(t *testing.T) {
		root := t.TempDir()
		writeArchive(t, root, testDay, map[string]string{
			"A.csv": rows(
				"04/04/2022,09:15:00,A.NSE,10,,,,,1,",
				"04/04/2022,09:15:01,A.NSE,11,,,,,1,",
				"04/04/2022,09:15:02,A.NSE,abc,,,,,1,",
			),
		})
		storage := db.NewMemory()

		_, err := newTestPipeline(storage, root, 1).Ingest(ctx, "2022-04-04")
		require.ErrorIs(t, err, ErrIngestionFailed)

		var perr *RecordParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "A.csv", perr.File)
		assert.Equal(t, 4, perr.Line)
		assert.Equal(t, colLTP, perr.Column)
		assert.Equal(t, int64(0), countTicks(t, storage))
	})

	t.Run("cancelled context", func(t *testing.T) {
		root := t.TempDir()
		writeArchive(t, root, testDay, defaultMembers())
		storage := db.NewMemory()

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newTestPipeline(storage, root, 1).Ingest(cctx, "2022-04-04")
		assert.ErrorIs(t, err, ErrIngestionFailed)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int64(0), countTicks(t, storage))
	})
}

func TestIngestStorageFailures(t *testing.T) {
	ctx := context.Background()
	writeErr := fmt.Errorf("%w: insert ticks: %w", db.ErrStorageWrite, errors.New("connection reset"))

	setup := func(t *testing.T) (*dbmock.MockStorage, *Pipeline) {
		root := t.TempDir()
		writeArchive(t, root, testDay, defaultMembers())
		storage := dbmock.NewMockStorage(gomock.NewController(t))
		storage.EXPECT().CountTicks(gomock.Any(), testDay).Return(int64(0), nil)
		return storage, newTestPipeline(storage, root, 2)
	}

	t.Run("second batch fails and first is compensated", func(t *testing.T) {
		storage, p := setup(t)
		gomock.InOrder(
			storage.EXPECT().InsertTicks(gomock.Any(), gomock.Len(2)).Return(nil),
			storage.EXPECT().InsertTicks(gomock.Any(), gomock.Len(2)).Return(writeErr),
			storage.EXPECT().DeleteTicks(gomock.Any(), testDay, "run-1").Return(int64(2), nil),
		)

		_, err := p.Ingest(ctx, "2022-04-04")
		assert.ErrorIs(t, err, ErrIngestionFailed)
		assert.ErrorIs(t, err, db.ErrStorageWrite)
		assert.NotErrorIs(t, err, ErrFatalInconsistency)
	})

	t.Run("failed compensation is fatal", func(t *testing.T) {
		storage, p := setup(t)
		gomock.InOrder(
			storage.EXPECT().InsertTicks(gomock.Any(), gomock.Any()).Return(nil),
			storage.EXPECT().InsertTicks(gomock.Any(), gomock.Any()).Return(writeErr),
			storage.EXPECT().DeleteTicks(gomock.Any(), testDay, "run-1").Return(int64(0), errors.New("db down")),
		)

		_, err := p.Ingest(ctx, "2022-04-04")
		assert.ErrorIs(t, err, ErrFatalInconsistency)
		assert.ErrorIs(t, err, db.ErrStorageWrite)
	})

	t.Run("first batch fails without compensation", func(t *testing.T) {
		storage, p := setup(t)
		storage.EXPECT().InsertTicks(gomock.Any(), gomock.Any()).Return(writeErr)

		_, err := p.Ingest(ctx, "2022-04-04")
		assert.ErrorIs(t, err, ErrIngestionFailed)
	})

	t.Run("concurrent winner surfaces as already ingested", func(t *testing.T) {
		storage, p := setup(t)
		dup := fmt.Errorf("%w: insert ticks: %w", db.ErrStorageWrite, db.ErrDuplicateTick)
		storage.EXPECT().InsertTicks(gomock.Any(), gomock.Any()).Return(dup)

		_, err := p.Ingest(ctx, "2022-04-04")
		assert.ErrorIs(t, err, ErrAlreadyIngested)
		assert.ErrorIs(t, err, db.ErrDuplicateTick)
	})

	t.Run("count failure", func(t *testing.T) {
		root := t.TempDir()
		writeArchive(t, root, testDay, defaultMembers())
		storage := dbmock.NewMockStorage(gomock.NewController(t))
		storage.EXPECT().CountTicks(gomock.Any(), testDay).Return(int64(0), errors.New("timeout"))

		_, err := newTestPipeline(storage, root, 2).Ingest(ctx, "2022-04-04")
		assert.ErrorIs(t, err, ErrIngestionFailed)
	})
}

func TestBackfill(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root, testDay, defaultMembers())
	writeArchive(t, root, testDay.AddDate(0, 0, 1), map[string]string{
		"A.csv": rows("05/04/2022,09:15:00,A.NSE,10,,,,,1,"),
	})

	storage := db.NewMemory()
	cfg := DefaultConfig()
	cfg.Parallelism = 3
	p := NewPipeline(storage, NewLocalLocator(root, DefaultNaming()), cfg, zap.NewNop(), nil)

	out := p.Backfill(context.Background(), []string{"2022-04-04", "2022-04-05", "2022-04-06", "bad"})
	require.Len(t, out, 4)

	assert.NoError(t, out[0].Err)
	assert.Equal(t, 4, out[0].Result.Ticks)
	assert.NoError(t, out[1].Err)
	assert.Equal(t, 1, out[1].Result.Ticks)
	assert.ErrorIs(t, out[2].Err, ErrArchiveNotFound)
	assert.ErrorIs(t, out[3].Err, market.ErrInvalidDateFormat)
	assert.NotEqual(t, out[0].Result.RunID, out[1].Result.RunID)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "already_ingested", outcome(fmt.Errorf("x: %w", ErrAlreadyIngested)))
	assert.Equal(t, "fatal_inconsistency", outcome(ErrFatalInconsistency))
	assert.Equal(t, "archive_not_found", outcome(ErrArchiveNotFound))
	assert.Equal(t, "failed", outcome(ErrIngestionFailed))
}
