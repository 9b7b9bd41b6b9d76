// Package service exposes the operations called by the command line and
// the scheduler: ingest, query and reconcile.
package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/candle"
	"github.com/amirphl/tickstore/internal/db"
	"github.com/amirphl/tickstore/internal/ingestion"
	"github.com/amirphl/tickstore/internal/market"
	"github.com/amirphl/tickstore/internal/metrics"
	"github.com/amirphl/tickstore/internal/reconcile"
	"github.com/amirphl/tickstore/internal/tfutils"
)

// DefaultFrequency is the resampling bucket used when none is given.
const DefaultFrequency = "1s"

type Service struct {
	storage  db.Storage
	pipeline *ingestion.Pipeline
	engine   *reconcile.Engine
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// New wires the service. m may be nil.
func New(storage db.Storage, pipeline *ingestion.Pipeline, engine *reconcile.Engine, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		storage:  storage,
		pipeline: pipeline,
		engine:   engine,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest loads the tick archive of date (YYYY-MM-DD).
func (s *Service) Ingest(ctx context.Context, date string) (*ingestion.Result, error) {
	return s.pipeline.Ingest(ctx, date)
}

// Backfill ingests several dates; each date gets its own outcome.
func (s *Service) Backfill(ctx context.Context, dates []string) []ingestion.Outcome {
	return s.pipeline.Backfill(ctx, dates)
}

// GetTicks streams the ticks of symbol (all symbols when empty) in dateRange.
// The range is validated before storage is touched.
func (s *Service) GetTicks(ctx context.Context, symbol, dateRange string) (iter.Seq2[market.Tick, error], error) {
	r, err := market.ParseDateRange(dateRange, s.now())
	if err != nil {
		return nil, err
	}
	return s.storage.QueryTicks(ctx, symbol, r), nil
}

// GetTicksResampled streams ticks folded into frequency buckets such as "1s"
// or "30s". An empty frequency means one second.
func (s *Service) GetTicksResampled(ctx context.Context, symbol, dateRange, frequency string) (iter.Seq2[market.Tick, error], error) {
	if frequency == "" {
		frequency = DefaultFrequency
	}
	if !tfutils.IsValidTimeframe(frequency) {
		return nil, fmt.Errorf("unsupported frequency %q, want Ns or one of %v", frequency, tfutils.GetSupportedTimeframes())
	}
	r, err := market.ParseDateRange(dateRange, s.now())
	if err != nil {
		return nil, err
	}
	return candle.ResampleTicks(s.storage.QueryTicks(ctx, symbol, r), frequency), nil
}

// GetBars streams daily bars of symbol in dateRange.
func (s *Service) GetBars(ctx context.Context, symbol, dateRange string) (iter.Seq2[candle.Bar, error], error) {
	r, err := market.ParseDateRange(dateRange, s.now())
	if err != nil {
		return nil, err
	}
	return s.storage.QueryBars(ctx, symbol, r), nil
}

// GetBarsByTimeframe streams bars of any supported timeframe.
func (s *Service) GetBarsByTimeframe(ctx context.Context, symbol, dateRange, timeframe string) (iter.Seq2[candle.Bar, error], error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe %q, want Ns or one of %v", timeframe, tfutils.GetSupportedTimeframes())
	}
	if timeframe == candle.Daily {
		return s.GetBars(ctx, symbol, dateRange)
	}
	r, err := market.ParseDateRange(dateRange, s.now())
	if err != nil {
		return nil, err
	}
	return candle.Bars(s.storage.QueryTicks(ctx, symbol, r), timeframe), nil
}

// RunReconciliation compares the bars of date with the reference snapshot.
func (s *Service) RunReconciliation(ctx context.Context, date string) (*reconcile.Report, error) {
	report, err := s.engine.Run(ctx, date)
	if err != nil {
		return nil, err
	}

	for _, res := range report.Results {
		for _, c := range res.Checks {
			s.metrics.ObserveCheck(c.Name, c.Passed)
		}
	}
	for _, d := range report.Defects {
		s.metrics.ObserveDefect(d.Kind)
	}
	return report, nil
}

// Purge deletes every tick of date so the day can be ingested again.
func (s *Service) Purge(ctx context.Context, date string) (int64, error) {
	day, err := market.ParseDate(date)
	if err != nil {
		return 0, err
	}
	n, err := s.storage.DeleteTicks(ctx, day, "")
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", date, err)
	}
	s.logger.Info("Service | purged", zap.String("date", date), zap.Int64("ticks", n))
	return n, nil
}
