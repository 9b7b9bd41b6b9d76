// Package metrics registers:
//
//	#tickstore_ingested_ticks_total
//	#tickstore_ingestions_total{outcome}
//	#tickstore_ingestion_duration_seconds
//	#tickstore_reconciliation_checks_total{check,result}
//	#tickstore_reconciliation_defects_total{kind}
//	#go_* and process_* system metrics
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	registry          *prometheus.Registry
	ingestedTicks     prometheus.Counter
	ingestions        *prometheus.CounterVec
	ingestionDuration prometheus.Histogram
	checks            *prometheus.CounterVec
	defects           *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickstore_ingested_ticks_total",
			Help: "Number of ticks committed by ingestion runs",
		}),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickstore_ingestions_total",
			Help: "Number of ingestion runs by outcome",
		}, []string{"outcome"}),
		ingestionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickstore_ingestion_duration_seconds",
			Help:    "Wall time of ingestion runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickstore_reconciliation_checks_total",
			Help: "Reconciliation checks by name and result",
		}, []string{"check", "result"}),
		defects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickstore_reconciliation_defects_total",
			Help: "Symbol-set defects found by reconciliation",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.ingestedTicks,
		m.ingestions,
		m.ingestionDuration,
		m.checks,
		m.defects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveIngestion records one finished ingestion run.
func (m *Metrics) ObserveIngestion(outcome string, took time.Duration, ticks int) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(outcome).Inc()
	m.ingestionDuration.Observe(took.Seconds())
	if ticks > 0 {
		m.ingestedTicks.Add(float64(ticks))
	}
}

// ObserveCheck records a single reconciliation check.
func (m *Metrics) ObserveCheck(check string, passed bool) {
	if m == nil {
		return
	}
	result := "pass"
	if !passed {
		result = "fail"
	}
	m.checks.WithLabelValues(check, result).Inc()
}

// ObserveDefect records a symbol-set defect.
func (m *Metrics) ObserveDefect(kind string) {
	if m == nil {
		return
	}
	m.defects.WithLabelValues(kind).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics | shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Metrics | serving", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
