package domain

import (
	"context"
	"time"
)

// LegOrder describes the two legs of an arbitrage commit handed to the
// order-placement collaborator.
type LegOrder struct {
	CorrelationID    string
	PairName         string
	Direction        Direction
	PolymarketToken  string
	KalshiTicker     string
	PolyPriceCents   int64
	KalshiPriceCents int64
	Contracts        int64
}

// LegReceipt reports both venue order ids after a fully filled two-leg order.
type LegReceipt struct {
	PolyOrderID   string
	KalshiOrderID string
	FilledAt      time.Time
}

// OrderPlacer submits a two-leg order to the venues. Implementations must
// return an error wrapping ErrPartialFill when exactly one leg filled; that
// signal is load-bearing for the circuit breaker.
type OrderPlacer interface {
	PlaceLegs(ctx context.Context, order LegOrder) (LegReceipt, error)
}

// QuoteFeed produces price quotes for one venue. The engine does not care how
// quotes are obtained (WebSocket push, REST poll, simulation), only that each
// quote carries a usable ObservedAt.
type QuoteFeed interface {
	Run(ctx context.Context) error
	Quotes() <-chan PriceQuote
}
