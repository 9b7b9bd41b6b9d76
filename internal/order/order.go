// Package order
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/journal"
)

// Journal event types written by Desk.
const (
	EventPlaced   = "order"
	EventRejected = "order_rejected"
)

var ErrInvalidOrder = errors.New("invalid order")

// Request represents a new order to be submitted.
type Request struct {
	ClientOrderID string
	Symbol        string
	Side          string // "buy" or "sell"
	Type          string // "limit" or "market"
	Price         decimal.Decimal
	Quantity      int64
}

func (r Request) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	switch r.Side {
	case "buy", "sell":
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, r.Side)
	}
	switch r.Type {
	case "limit":
		if !r.Price.IsPositive() {
			return fmt.Errorf("%w: limit price must be positive, got %s", ErrInvalidOrder, r.Price)
		}
	case "market":
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidOrder, r.Type)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, r.Quantity)
	}
	return nil
}

// Ack represents the response from the venue.
type Ack struct {
	ClientOrderID string          `json:"client_order_id"`
	Venue         string          `json:"venue"`
	Status        string          `json:"status"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	AcceptedAt    time.Time       `json:"accepted_at"`
}

// Placer hands a request to a venue.
type Placer interface {
	Name() string
	Place(ctx context.Context, req Request) (Ack, error)
}

// EchoPlacer acknowledges every request without forwarding it.
type EchoPlacer struct {
	now func() time.Time
}

func NewEchoPlacer() *EchoPlacer {
	return &EchoPlacer{now: time.Now}
}

func (e *EchoPlacer) Name() string { return "echo" }

func (e *EchoPlacer) Place(ctx context.Context, req Request) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	return Ack{
		ClientOrderID: req.ClientOrderID,
		Venue:         e.Name(),
		Status:        "ACCEPTED",
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		AcceptedAt:    e.now().UTC(),
	}, nil
}

// Desk validates requests, forwards them to a Placer and journals the outcome.
type Desk struct {
	placer  Placer
	journal journal.Journaler
	logger  *zap.Logger
	newID   func() string
}

func NewDesk(p Placer, j journal.Journaler, logger *zap.Logger) *Desk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desk{placer: p, journal: j, logger: logger, newID: uuid.NewString}
}

// Place fills in defaults (side buy, type limit, a fresh client order id),
// submits the request and records it in the journal.
func (d *Desk) Place(ctx context.Context, req Request) (Ack, error) {
	req.Side = strings.ToLower(req.Side)
	req.Type = strings.ToLower(req.Type)
	if req.Side == "" {
		req.Side = "buy"
	}
	if req.Type == "" {
		req.Type = "limit"
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = d.newID()
	}
	if err := req.Validate(); err != nil {
		return Ack{}, err
	}

	ack, err := d.placer.Place(ctx, req)
	if err != nil {
		d.logger.Error("Order | placement failed",
			zap.String("venue", d.placer.Name()),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err))
		if jerr := d.journal.LogEvent(journal.Event{
			Type:        EventRejected,
			Description: err.Error(),
			Data:        requestData(req),
		}); jerr != nil {
			d.logger.Warn("Order | journal write failed", zap.Error(jerr))
		}
		return Ack{}, fmt.Errorf("failed to place order on %s: %w", d.placer.Name(), err)
	}

	data := requestData(req)
	data["venue"] = ack.Venue
	data["status"] = ack.Status
	if err := d.journal.LogEvent(journal.Event{
		Time:        ack.AcceptedAt,
		Type:        EventPlaced,
		Description: fmt.Sprintf("%s %d %s @ %s", req.Side, req.Quantity, req.Symbol, req.Price),
		Data:        data,
	}); err != nil {
		return ack, fmt.Errorf("failed to journal order %s: %w", req.ClientOrderID, err)
	}

	d.logger.Info("Order | placed",
		zap.String("venue", ack.Venue),
		zap.String("client_order_id", ack.ClientOrderID),
		zap.String("status", ack.Status))
	return ack, nil
}

// Orders returns the journaled placements.
func (d *Desk) Orders() ([]journal.Event, error) {
	return d.journal.GetEvents(EventPlaced, time.Time{}, time.Time{})
}

func requestData(req Request) map[string]any {
	return map[string]any{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"type":            req.Type,
		"price":           req.Price.String(),
		"quantity":        req.Quantity,
	}
}
