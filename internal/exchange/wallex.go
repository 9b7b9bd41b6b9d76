package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	wallex "github.com/wallexchange/wallex-go"
	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/order"
)

// WallexPlacer forwards orders to the Wallex REST API.
type WallexPlacer struct {
	submit func(*wallex.OrderParams) (order.Ack, error)
	logger *zap.Logger
}

func NewWallexPlacer(apiKey string, logger *zap.Logger) *WallexPlacer {
	client := wallex.New(wallex.ClientOptions{APIKey: apiKey})
	return newWallexPlacer(func(params *wallex.OrderParams) (order.Ack, error) {
		resp, err := client.PlaceOrder(params)
		if err != nil {
			return order.Ack{}, err
		}
		return order.Ack{
			ClientOrderID: resp.ClientOrderID,
			Status:        strings.ToUpper(resp.Status),
			FilledQty:     decimalPtr(resp.ExecutedQty),
			AvgPrice:      decimalPtr(resp.ExecutedPrice),
			AcceptedAt:    resp.CreatedAt.UTC(),
		}, nil
	}, logger)
}

func newWallexPlacer(submit func(*wallex.OrderParams) (order.Ack, error), logger *zap.Logger) *WallexPlacer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WallexPlacer{submit: submit, logger: logger}
}

func (w *WallexPlacer) Name() string {
	return "wallex"
}

func (w *WallexPlacer) Place(ctx context.Context, req order.Request) (order.Ack, error) {
	select {
	case <-ctx.Done():
		w.logger.Warn("Exchange | wallex Place cancelled", zap.String("client_order_id", req.ClientOrderID))
		return order.Ack{}, ctx.Err()
	default:
	}

	params := &wallex.OrderParams{
		Symbol:   NormalizeSymbol(req.Symbol),
		Type:     strings.ToUpper(req.Type),
		Side:     strings.ToUpper(req.Side),
		Price:    wallex.Number(req.Price.String()),
		Quantity: wallex.Number(decimal.NewFromInt(req.Quantity).String()),
	}
	ack, err := w.submit(params)
	if err != nil {
		return order.Ack{}, err
	}
	if ack.ClientOrderID == "" {
		return order.Ack{}, errors.New("wallex returned no client order id")
	}

	ack.Venue = w.Name()
	ack.Symbol = req.Symbol
	ack.Side = req.Side
	ack.Type = req.Type
	ack.Price = req.Price
	ack.Quantity = req.Quantity
	if ack.AcceptedAt.IsZero() {
		ack.AcceptedAt = time.Now().UTC()
	}
	return ack, nil
}

func decimalPtr(n *wallex.Number) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	out, err := decimal.NewFromString(string(*n))
	if err != nil {
		return decimal.Zero
	}
	return out
}
