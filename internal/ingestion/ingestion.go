// Package ingestion loads daily tick archives into storage.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/tickstore/internal/db"
	"github.com/amirphl/tickstore/internal/market"
	"github.com/amirphl/tickstore/internal/metrics"
)

// Config holds ingestion pipeline settings.
type Config struct {
	BatchSize      int           `yaml:"batch_size" env:"BATCH_SIZE"`
	SymbolSuffix   string        `yaml:"symbol_suffix" env:"SYMBOL_SUFFIX"`
	Parallelism    int           `yaml:"parallelism" env:"PARALLELISM"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout" env:"CLEANUP_TIMEOUT"`
}

// DefaultConfig returns default ingestion configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      5000,
		SymbolSuffix:   ".NSE",
		Parallelism:    2,
		CleanupTimeout: time.Minute,
	}
}

// Result describes a successful run.
type Result struct {
	Date     time.Time
	RunID    string
	Archive  string
	Files    int
	Ticks    int
	Batches  int
	Symbols  int
	Duration time.Duration
}

// Pipeline ingests one archive per call. Runs for different dates may
// proceed concurrently; the storage unique key settles same-date races.
type Pipeline struct {
	storage db.Storage
	locator Locator
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// NewPipeline creates a pipeline. m may be nil.
func NewPipeline(storage db.Storage, locator Locator, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = def.CleanupTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		storage: storage,
		locator: locator,
		config:  cfg,
		logger:  logger,
		metrics: m,
		newID:   uuid.NewString,
	}
}

// Ingest loads the archive for date (YYYY-MM-DD). Either every tick of the
// archive is stored or none is.
func (p *Pipeline) Ingest(ctx context.Context, date string) (*Result, error) {
	day, err := market.ParseDate(date)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := p.ingest(ctx, day)
	took := time.Since(start)

	ticks := 0
	if err == nil {
		res.Duration = took
		ticks = res.Ticks
	}
	p.metrics.ObserveIngestion(outcome(err), took, ticks)

	if err != nil {
		p.logger.Error("IngestionService | run failed",
			zap.String("date", date), zap.Duration("took", took), zap.Error(err))
		return nil, err
	}

	p.logger.Info("IngestionService | run finished",
		zap.String("date", date),
		zap.String("run_id", res.RunID),
		zap.Int("files", res.Files),
		zap.Int("ticks", res.Ticks),
		zap.Int("symbols", res.Symbols),
		zap.Duration("took", took))
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, day time.Time) (*Result, error) {
	date := day.Format(market.DateLayout)
	runID := p.newID()
	log := p.logger.With(zap.String("date", date), zap.String("run_id", runID))

	archive, release, err := p.locator.Locate(ctx, day)
	if err != nil {
		return nil, err
	}
	defer release()

	n, err := p.storage.CountTicks(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIngestionFailed, date, err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: %s already has %d ticks", ErrAlreadyIngested, date, n)
	}

	log.Info("IngestionService | loading archive", zap.String("archive", archive))

	res := &Result{Date: day, RunID: runID, Archive: archive}
	symbols := make(map[string]struct{})
	batch := make([]market.Tick, 0, p.config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.storage.InsertTicks(ctx, batch); err != nil {
			return err
		}
		res.Ticks += len(batch)
		res.Batches++
		log.Debug("IngestionService | batch committed", zap.Int("batch", res.Batches), zap.Int("size", len(batch)))
		batch = make([]market.Tick, 0, p.config.BatchSize)
		return nil
	}

	reader := NewArchiveReader(day, p.config.SymbolSuffix)
	err = reader.Read(ctx, archive, func(t market.Tick) error {
		t.RunID = runID
		batch = append(batch, t)
		symbols[t.Symbol] = struct{}{}
		if len(batch) >= p.config.BatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return nil, p.abort(ctx, log, day, runID, res.Batches > 0, err)
	}

	res.Files = reader.Files()
	res.Symbols = len(symbols)
	return res, nil
}

// abort removes whatever this run committed and classifies cause.
func (p *Pipeline) abort(ctx context.Context, log *zap.Logger, day time.Time, runID string, committed bool, cause error) error {
	date := day.Format(market.DateLayout)

	if committed {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.CleanupTimeout)
		defer cancel()

		deleted, err := p.storage.DeleteTicks(cleanupCtx, day, runID)
		if err != nil {
			log.Error("IngestionService | compensating delete failed", zap.Error(err), zap.NamedError("cause", cause))
			return fmt.Errorf("%w: %s run %s: cleanup: %w (cause: %w)", ErrFatalInconsistency, date, runID, err, cause)
		}
		log.Warn("IngestionService | rolled back partial run", zap.Int64("deleted", deleted))
	}

	if errors.Is(cause, db.ErrDuplicateTick) {
		return fmt.Errorf("%w: %s: %w", ErrAlreadyIngested, date, cause)
	}
	return fmt.Errorf("%w: %s: %w", ErrIngestionFailed, date, cause)
}

// Outcome is the result of one date in a backfill.
type Outcome struct {
	Date   string
	Result *Result
	Err    error
}

// Backfill ingests several dates, at most Parallelism at a time. A failing
// date never stops the others.
func (p *Pipeline) Backfill(ctx context.Context, dates []string) []Outcome {
	out := make([]Outcome, len(dates))

	var g errgroup.Group
	g.SetLimit(p.config.Parallelism)
	for i, date := range dates {
		g.Go(func() error {
			res, err := p.Ingest(ctx, date)
			out[i] = Outcome{Date: date, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrFatalInconsistency):
		return "fatal_inconsistency"
	case errors.Is(err, ErrAlreadyIngested):
		return "already_ingested"
	case errors.Is(err, ErrArchiveNotFound):
		return "archive_not_found"
	default:
		return "failed"
	}
}
