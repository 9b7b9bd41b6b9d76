package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"iter"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/config"
	"github.com/amirphl/tickstore/internal/db"
	"github.com/amirphl/tickstore/internal/exchange"
	"github.com/amirphl/tickstore/internal/ingestion"
	"github.com/amirphl/tickstore/internal/journal"
	"github.com/amirphl/tickstore/internal/market"
	"github.com/amirphl/tickstore/internal/metrics"
	"github.com/amirphl/tickstore/internal/notifier"
	"github.com/amirphl/tickstore/internal/order"
	"github.com/amirphl/tickstore/internal/reconcile"
	"github.com/amirphl/tickstore/internal/reference"
	"github.com/amirphl/tickstore/internal/scheduler"
	"github.com/amirphl/tickstore/internal/service"
	"github.com/amirphl/tickstore/internal/utils"
)

const usage = `usage: tickstore [-config file] <command> [args]

commands:
  migrate                         create or verify the ticks table
  ingest <date>                   load the tick archive of date (YYYY-MM-DD)
  backfill <date|from:to>...      ingest several dates
  ticks -symbol S -range R [-frequency 1s]
                                  print ticks as CSV, optionally resampled
  bars -symbol S -range R [-timeframe 1d|Ns]
                                  print bars as CSV
  reconcile <date>                compare bars with the reference snapshot (JSON)
  purge <date>                    delete every tick of date
  order -symbol S -price P -qty Q [-side buy] [-type limit]
                                  pass an order through to the configured venue
  schedule                        run the daily ingest and reconcile job
`

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	storage  db.Storage
	metrics  *metrics.Metrics
	service  *service.Service
	notifier notifier.Notifier
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	storage, err := db.Open(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if err := storage.EnsureSchema(ctx); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	var locator ingestion.Locator
	if cfg.Ingestion.UseS3 {
		locator, err = ingestion.NewS3Locator(ctx, cfg.Ingestion.S3, cfg.Ingestion.Naming())
		if err != nil {
			storage.Close()
			return nil, err
		}
	} else {
		locator = ingestion.NewLocalLocator(cfg.Ingestion.Root, cfg.Ingestion.Naming())
	}

	m := metrics.New()
	pipeline := ingestion.NewPipeline(storage, locator, cfg.Ingestion.Pipeline, logger, m)
	engine := reconcile.NewEngine(storage, reference.NewEODSnapshot(cfg.Reference.Root, logger), logger)

	var n notifier.Notifier = notifier.NewLogNotifier(logger)
	if cfg.Telegram.Enabled() {
		n = notifier.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Retries, cfg.Telegram.RetryDelay, logger)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		storage:  storage,
		metrics:  m,
		service:  service.New(storage, pipeline, engine, m, logger),
		notifier: n,
	}, nil
}

func (a *app) Close() {
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("Main | closing storage failed", zap.Error(err))
	}
}

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := utils.InitLogger(cfg.Log); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	logger := utils.GetLogger()
	defer logger.Sync()

	command, args := flag.Arg(0), flag.Args()[1:]
	if err := checkDateArgs(command, args); err != nil {
		logger.Error("Main | invalid arguments", zap.String("command", command), zap.Error(err))
		logger.Sync()
		os.Exit(exitCode(err))
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	if err := a.run(ctx, command, args); err != nil {
		logger.Error("Main | command failed", zap.String("command", command), zap.Error(err))
		a.Close()
		os.Exit(exitCode(err))
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "migrate":
		log.Println("Schema is up to date")
		return nil
	case "ingest":
		return a.ingest(ctx, args)
	case "backfill":
		return a.backfill(ctx, args)
	case "ticks":
		return a.ticks(ctx, args)
	case "bars":
		return a.bars(ctx, args)
	case "reconcile":
		return a.reconcile(ctx, args)
	case "purge":
		return a.purge(ctx, args)
	case "order":
		return a.order(ctx, args)
	case "schedule":
		return a.schedule(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) ingest(ctx context.Context, args []string) error {
	date, err := oneDate(args)
	if err != nil {
		return err
	}
	res, err := a.service.Ingest(ctx, date)
	if err != nil {
		return err
	}
	log.Printf("Ingested %d ticks of %d symbols from %s (run %s, %v)", res.Ticks, res.Symbols, res.Archive, res.RunID, res.Duration)
	return nil
}

func (a *app) backfill(ctx context.Context, args []string) error {
	dates, err := expandDates(args)
	if err != nil {
		return err
	}
	outcomes := a.service.Backfill(ctx, dates)

	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			log.Printf("%s: %d ticks", o.Date, o.Result.Ticks)
		case errors.Is(o.Err, ingestion.ErrAlreadyIngested):
			log.Printf("%s: already ingested", o.Date)
		default:
			failed++
			log.Printf("%s: %v", o.Date, o.Err)
			if errors.Is(o.Err, ingestion.ErrFatalInconsistency) {
				a.trySend(ctx, notifier.FormatIngestionError(o.Date, o.Err))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dates failed", failed, len(outcomes))
	}
	return nil
}

func (a *app) ticks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ticks", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Symbol, empty for all")
	dateRange := fs.String("range", "", "Date range: YYYY-MM-DD, from:to, from: or :to (default today)")
	frequency := fs.String("frequency", "", "Resample into buckets such as 1s or 30s (default raw ticks)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		seq iter.Seq2[market.Tick, error]
		err error
	)
	if *frequency == "" {
		seq, err = a.service.GetTicks(ctx, *symbol, *dateRange)
	} else {
		seq, err = a.service.GetTicksResampled(ctx, *symbol, *dateRange, *frequency)
	}
	if err != nil {
		return err
	}
	return writeTicksCSV(os.Stdout, seq)
}

func (a *app) bars(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bars", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Symbol, empty for all")
	dateRange := fs.String("range", "", "Date range: YYYY-MM-DD, from:to, from: or :to (default today)")
	timeframe := fs.String("timeframe", "1d", "Bar timeframe: 1m, 5m, 15m, 30m, 1h, 4h, 1d or Ns")
	if err := fs.Parse(args); err != nil {
		return err
	}

	seq, err := a.service.GetBarsByTimeframe(ctx, *symbol, *dateRange, *timeframe)
	if err != nil {
		return err
	}
	return writeBarsCSV(os.Stdout, seq)
}

func (a *app) reconcile(ctx context.Context, args []string) error {
	date, err := oneDate(args)
	if err != nil {
		return err
	}
	report, err := a.service.RunReconciliation(ctx, date)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Clean() {
		a.trySend(ctx, notifier.FormatReport(report))
	}
	return nil
}

func (a *app) purge(ctx context.Context, args []string) error {
	date, err := oneDate(args)
	if err != nil {
		return err
	}
	n, err := a.service.Purge(ctx, date)
	if err != nil {
		return err
	}
	log.Printf("Deleted %d ticks of %s", n, date)
	return nil
}

func (a *app) order(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("order", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Symbol")
	price := fs.String("price", "0", "Limit price")
	qty := fs.Int64("qty", 0, "Quantity")
	side := fs.String("side", "buy", "buy or sell")
	orderType := fs.String("type", a.cfg.Orders.OrderType, "limit or market")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", *price, err)
	}

	placer, err := exchange.NewPlacer(a.cfg.Orders.Venue, a.cfg.Orders.WallexAPIKey, a.logger)
	if err != nil {
		return err
	}
	desk := order.NewDesk(placer, journal.NewBook(), a.logger)

	ack, err := desk.Place(ctx, order.Request{Symbol: *symbol, Side: *side, Type: *orderType, Price: p, Quantity: *qty})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ack)
}

func (a *app) schedule(ctx context.Context) error {
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
			a.logger.Error("Main | metrics server failed", zap.Error(err))
		}
	}()

	s := scheduler.NewScheduler(ctx, a.service, a.notifier, a.cfg.Schedule.LagDays, a.logger)
	if err := s.Register(a.cfg.Schedule.Cron); err != nil {
		return err
	}
	s.Start()
	if a.cfg.Schedule.RunOnStart {
		go s.RunNow()
	}

	<-ctx.Done()
	log.Println("Shutting down scheduler...")
	s.Stop()
	return nil
}

func (a *app) trySend(ctx context.Context, msg string) {
	if err := a.notifier.SendWithRetry(ctx, msg); err != nil {
		a.logger.Warn("Main | notification failed", zap.Error(err))
	}
}
