// Package scheduler runs the daily ingest and reconcile job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/ingestion"
	"github.com/amirphl/tickstore/internal/market"
	"github.com/amirphl/tickstore/internal/notifier"
	"github.com/amirphl/tickstore/internal/reconcile"
	"github.com/amirphl/tickstore/internal/reference"
)

// Runner is the part of the service the job drives.
type Runner interface {
	Ingest(ctx context.Context, date string) (*ingestion.Result, error)
	RunReconciliation(ctx context.Context, date string) (*reconcile.Report, error)
}

// Scheduler manages the cron entries.
type Scheduler struct {
	Cron     *cron.Cron
	runner   Runner
	notifier notifier.Notifier
	lagDays  int
	logger   *zap.Logger
	ctx      context.Context
	now      func() time.Time
}

func NewScheduler(ctx context.Context, runner Runner, n notifier.Notifier, lagDays int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner:   runner,
		notifier: n,
		lagDays:  lagDays,
		logger:   logger,
		ctx:      ctx,
		now:      time.Now,
	}
}

// Register adds the daily job under the cron expression expr (six fields,
// seconds first).
func (s *Scheduler) Register(expr string) error {
	if _, err := s.Cron.AddFunc(expr, func() { s.RunFor(s.targetDate()) }); err != nil {
		return fmt.Errorf("register daily task: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("Scheduler | started", zap.Int("entries", len(s.Cron.Entries())))
}

// Stop stops the cron and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info("Scheduler | stopped")
}

// RunNow runs the job for the current target date.
func (s *Scheduler) RunNow() {
	s.RunFor(s.targetDate())
}

func (s *Scheduler) targetDate() string {
	return s.now().UTC().AddDate(0, 0, -s.lagDays).Format(market.DateLayout)
}

// RunFor ingests date and reconciles it. A date ingested earlier is still
// reconciled. Failures and mismatches are sent to the notifier.
func (s *Scheduler) RunFor(date string) {
	log := s.logger.With(zap.String("date", date))
	log.Info("Scheduler | running daily task")

	res, err := s.runner.Ingest(s.ctx, date)
	switch {
	case err == nil:
		log.Info("Scheduler | ingested", zap.Int("ticks", res.Ticks))
	case errors.Is(err, ingestion.ErrAlreadyIngested):
		log.Info("Scheduler | already ingested")
	case errors.Is(err, ingestion.ErrArchiveNotFound):
		log.Warn("Scheduler | no archive, skipping", zap.Error(err))
		return
	default:
		log.Error("Scheduler | ingestion failed", zap.Error(err))
		s.trySend(notifier.FormatIngestionError(date, err))
		return
	}

	report, err := s.runner.RunReconciliation(s.ctx, date)
	if errors.Is(err, reference.ErrSnapshotNotFound) {
		log.Warn("Scheduler | no reference snapshot, skipping reconciliation")
		return
	}
	if err != nil {
		log.Error("Scheduler | reconciliation failed", zap.Error(err))
		s.trySend(fmt.Sprintf("[FAILED] reconciliation %s\n%v", date, err))
		return
	}
	if !report.Clean() {
		s.trySend(notifier.FormatReport(report))
	}
}

func (s *Scheduler) trySend(text string) {
	if err := s.notifier.SendWithRetry(s.ctx, text); err != nil {
		s.logger.Error("Scheduler | send notification failed", zap.Error(err))
	}
}
