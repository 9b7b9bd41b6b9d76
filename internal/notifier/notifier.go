// Package notifier
package notifier

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/market"
	"github.com/amirphl/tickstore/internal/reconcile"
)

// Notifier interface for sending notifications (e.g., Telegram, email).
type Notifier interface {
	Send(ctx context.Context, msg string) error
	SendWithRetry(ctx context.Context, msg string) error
}

// LogNotifier writes messages to the logger. Used when no chat is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(_ context.Context, msg string) error {
	l.logger.Info("Notifier | message", zap.String("text", msg))
	return nil
}

func (l *LogNotifier) SendWithRetry(ctx context.Context, msg string) error {
	return l.Send(ctx, msg)
}

// maxListed caps the symbols named in one message.
const maxListed = 10

// FormatReport summarizes a reconciliation report for chat delivery.
func FormatReport(r *reconcile.Report) string {
	var b strings.Builder
	status := "OK"
	if !r.Clean() {
		status = "MISMATCH"
	}
	fmt.Fprintf(&b, "[%s] reconciliation %s\n", status, r.Date.Format(market.DateLayout))
	fmt.Fprintf(&b, "bars: %d, reference: %d, failed checks: %d, missing symbols: %d\n",
		r.BarCount, r.ReferenceCount, r.FailedChecks(), len(r.Defects))

	listed := 0
	for _, res := range r.Results {
		for _, c := range res.Checks {
			if c.Passed {
				continue
			}
			if listed == maxListed {
				fmt.Fprintf(&b, "...\n")
				return b.String()
			}
			fmt.Fprintf(&b, "%s %s %s\n", res.Symbol, c.Name, formatDetail(c.Detail))
			listed++
		}
	}
	for _, d := range r.Defects {
		if listed == maxListed {
			fmt.Fprintf(&b, "...\n")
			break
		}
		fmt.Fprintf(&b, "%s missing from %s\n", d.Symbol, d.MissingFrom)
		listed++
	}
	return b.String()
}

// FormatIngestionError describes a failed daily ingestion.
func FormatIngestionError(date string, err error) string {
	return fmt.Sprintf("[FAILED] ingestion %s\n%v", date, err)
}

func formatDetail(detail map[string]string) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+detail[k])
	}
	return strings.Join(parts, " ")
}
