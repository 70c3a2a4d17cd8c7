package domain

import "time"

// Direction identifies which side of each venue a two-leg position buys.
type Direction string

const (
	// DirectionPolyYesKalshiNo buys YES on Polymarket and NO on Kalshi.
	DirectionPolyYesKalshiNo Direction = "poly_yes_kalshi_no"
	// DirectionPolyNoKalshiYes buys NO on Polymarket and YES on Kalshi.
	DirectionPolyNoKalshiYes Direction = "poly_no_kalshi_yes"
)

// Opportunity is a derived, ephemeral view of the better arbitrage direction
// for a matched pair at a moment in time. It is recomputed on every relevant
// price update and never persisted. All money fields are per-contract cents.
type Opportunity struct {
	PairName         string
	Direction        Direction
	PolyPriceCents   int64 // cost of the Polymarket leg
	KalshiPriceCents int64 // cost of the Kalshi leg
	TotalCostCents   int64
	GrossSpreadCents int64
	FeesCents        int64
	NetProfitCents   int64
	IsProfitable     bool
	ExpiresAt        *time.Time
	ComputedAt       time.Time
}

// NearMiss records an opportunity whose gross spread was positive but whose
// net profit fell short of the bar. Kept for threshold tuning.
type NearMiss struct {
	ID               string
	PairName         string
	Direction        Direction
	GrossSpreadCents int64
	FeesCents        int64
	NetProfitCents   int64
	ObservedAt       time.Time
}
