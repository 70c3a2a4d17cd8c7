package domain

import "time"

// Venue identifies one of the two trading venues a pair spans.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// FullPayoutCents is the guaranteed per-contract payout of a resolved
// prediction market.
const FullPayoutCents int64 = 100

// PriceQuote is one venue's current YES/NO pricing for a single instrument.
// Prices are integer cents in (0, 100) for anything tradeable.
type PriceQuote struct {
	Venue         Venue
	InstrumentID  string
	YesPriceCents int64
	NoPriceCents  int64
	ObservedAt    time.Time
	Source        string // "ws", "rest", "sim"
}

// FreshAt reports whether the quote was observed within maxAge of now.
// Stale quotes never participate in spread calculation.
func (q PriceQuote) FreshAt(now time.Time, maxAge time.Duration) bool {
	if q.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(q.ObservedAt) <= maxAge
}

// Tradeable reports whether both sides of the quote are inside the
// tradeable band. Prices at or below floorCents are treated as "no
// liquidity" and skipped.
func (q PriceQuote) Tradeable(floorCents int64) bool {
	return q.YesPriceCents > floorCents && q.YesPriceCents < FullPayoutCents &&
		q.NoPriceCents > floorCents && q.NoPriceCents < FullPayoutCents
}
