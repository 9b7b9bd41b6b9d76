package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/tickstore/internal/journal"
)

type failingPlacer struct{ err error }

func (f failingPlacer) Name() string { return "broken" }

func (f failingPlacer) Place(context.Context, Request) (Ack, error) { return Ack{}, f.err }

func TestRequestValidate(t *testing.T) {
	valid := Request{Symbol: "RELIANCE", Side: "buy", Type: "limit", Price: decimal.NewFromInt(100), Quantity: 5}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty symbol", func(r *Request) { r.Symbol = "" }},
		{"bad side", func(r *Request) { r.Side = "hold" }},
		{"bad type", func(r *Request) { r.Type = "oco" }},
		{"zero limit price", func(r *Request) { r.Price = decimal.Zero }},
		{"zero quantity", func(r *Request) { r.Quantity = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidOrder)
		})
	}

	market := valid
	market.Type = "market"
	market.Price = decimal.Zero
	assert.NoError(t, market.Validate())
}

func TestDeskPlace(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2022, 4, 4, 10, 0, 0, 0, time.UTC)

	t.Run("echo fills defaults and journals", func(t *testing.T) {
		book := journal.NewBook()
		echo := NewEchoPlacer()
		echo.now = func() time.Time { return at }
		desk := NewDesk(echo, book, nil)
		desk.newID = func() string { return "cid-1" }

		ack, err := desk.Place(ctx, Request{Symbol: "RELIANCE", Price: decimal.RequireFromString("2500.5"), Quantity: 10})
		require.NoError(t, err)
		assert.Equal(t, "cid-1", ack.ClientOrderID)
		assert.Equal(t, "echo", ack.Venue)
		assert.Equal(t, "ACCEPTED", ack.Status)
		assert.Equal(t, "buy", ack.Side)
		assert.Equal(t, "limit", ack.Type)
		assert.Equal(t, at, ack.AcceptedAt)

		orders, err := desk.Orders()
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, at, orders[0].Time)
		assert.Equal(t, "buy 10 RELIANCE @ 2500.5", orders[0].Description)
		assert.Equal(t, "cid-1", orders[0].Data["client_order_id"])
	})

	t.Run("invalid request is not forwarded", func(t *testing.T) {
		book := journal.NewBook()
		desk := NewDesk(failingPlacer{err: errors.New("must not be called")}, book, nil)

		_, err := desk.Place(ctx, Request{Symbol: "RELIANCE", Price: decimal.NewFromInt(1), Quantity: -1})
		assert.ErrorIs(t, err, ErrInvalidOrder)
		assert.Equal(t, 0, book.Len())
	})

	t.Run("venue failure is journaled as rejected", func(t *testing.T) {
		book := journal.NewBook()
		boom := errors.New("insufficient balance")
		desk := NewDesk(failingPlacer{err: boom}, book, nil)

		_, err := desk.Place(ctx, Request{Symbol: "RELIANCE", Side: "SELL", Price: decimal.NewFromInt(1), Quantity: 1})
		assert.ErrorIs(t, err, boom)

		rejected, _ := book.GetEvents(EventRejected, time.Time{}, time.Time{})
		require.Len(t, rejected, 1)
		assert.Equal(t, "sell", rejected[0].Data["side"])
		orders, _ := desk.Orders()
		assert.Empty(t, orders)
	})

	t.Run("separate desks keep separate journals", func(t *testing.T) {
		a, b := journal.NewBook(), journal.NewBook()
		_, err := NewDesk(NewEchoPlacer(), a, nil).Place(ctx, Request{Symbol: "X", Type: "market", Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, a.Len())
		assert.Equal(t, 0, b.Len())
	})
}
