// Package fees computes per-venue trading fees and the guaranteed net profit
// of a two-leg cross-venue position. All arithmetic is integer cents; every
// other component calls ResolutionProfit rather than recomputing spread math,
// so display and execution can never drift apart.
package fees

import "github.com/oddslab/pairarb/internal/domain"

// ceilDiv returns n/d rounded up. n and d must be non-negative, d > 0.
func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}

// PolymarketFeeCents returns the per-contract taker fee in cents for a
// Polymarket leg priced at priceCents. Standard event markets are fee-free;
// the 15-minute high-frequency class charges
//
//	price * 0.25 * (p*(1-p))^2  where p = price/100
//
// a convex curve that peaks near the midpoint and vanishes at the extremes.
// Fractional cents round up.
func PolymarketFeeCents(priceCents int64, fifteenMinute bool) int64 {
	if !fifteenMinute || priceCents <= 0 || priceCents >= domain.FullPayoutCents {
		return 0
	}
	comp := domain.FullPayoutCents - priceCents
	// price^3 * (100-price)^2 / (4 * 10^8); max ~1.2e10, well inside int64.
	n := priceCents * priceCents * priceCents * comp * comp
	return ceilDiv(n, 400_000_000)
}

// KalshiFeeCents returns the per-contract trading fee in cents for a Kalshi
// leg priced at priceCents: 0.07 * p * (1-p) dollars per contract, halved to
// 0.035 for the index-market subclass. Kalshi rounds fees up to the next
// whole cent.
func KalshiFeeCents(priceCents int64, indexMarket bool) int64 {
	if priceCents <= 0 || priceCents >= domain.FullPayoutCents {
		return 0
	}
	n := 7 * priceCents * (domain.FullPayoutCents - priceCents)
	d := int64(10_000)
	if indexMarket {
		d = 20_000
	}
	return ceilDiv(n, d)
}

// ProfitOpts carries the market-class flags and the minimum-profit bar for a
// resolution-profit calculation.
type ProfitOpts struct {
	PolyFifteenMinute bool
	KalshiIndexMarket bool
	MinNetProfitCents int64
}

// Profit is the per-contract economics of buying both legs at the given
// prices and holding to guaranteed resolution.
type Profit struct {
	TotalCostCents   int64
	GrossSpreadCents int64
	FeesCents        int64
	NetProfitCents   int64
	IsProfitable     bool
}

// ResolutionProfit computes the guaranteed per-contract outcome of buying one
// Polymarket leg at polyPriceCents and the opposing Kalshi leg at
// kalshiPriceCents. Gross spread is the $1.00 payout minus combined cost;
// net profit subtracts both venue fees.
func ResolutionProfit(polyPriceCents, kalshiPriceCents int64, opts ProfitOpts) Profit {
	totalCost := polyPriceCents + kalshiPriceCents
	gross := domain.FullPayoutCents - totalCost
	fee := PolymarketFeeCents(polyPriceCents, opts.PolyFifteenMinute) +
		KalshiFeeCents(kalshiPriceCents, opts.KalshiIndexMarket)
	net := gross - fee
	return Profit{
		TotalCostCents:   totalCost,
		GrossSpreadCents: gross,
		FeesCents:        fee,
		NetProfitCents:   net,
		IsProfitable:     net >= opts.MinNetProfitCents,
	}
}
