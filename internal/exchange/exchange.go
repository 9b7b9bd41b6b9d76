// Package exchange
package exchange

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/amirphl/tickstore/internal/order"
)

// NewPlacer returns the order venue named by venue.
func NewPlacer(venue, apiKey string, logger *zap.Logger) (order.Placer, error) {
	switch venue {
	case "", "echo":
		return order.NewEchoPlacer(), nil
	case "wallex":
		if apiKey == "" {
			return nil, fmt.Errorf("wallex venue requires an api key")
		}
		return NewWallexPlacer(apiKey, logger), nil
	default:
		return nil, fmt.Errorf("unknown order venue %q", venue)
	}
}

// NormalizeSymbol maps "btc-usdt" style symbols to the venue form.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}
