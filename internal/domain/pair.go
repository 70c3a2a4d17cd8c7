package domain

import "time"

// MatchedPair links a Polymarket instrument and a Kalshi instrument that are
// believed to settle on the same event. Pairs are supplied by an external
// matching collaborator and are immutable once resolved; ExpiresAt may be nil
// for open-ended markets.
type MatchedPair struct {
	Name             string
	PolymarketToken  string
	KalshiTicker     string
	ExpiresAt        *time.Time
	// PolyFifteenMinute marks the Polymarket 15-minute high-frequency
	// market class, which carries a taker fee (standard event markets
	// are fee-free).
	PolyFifteenMinute bool
	// KalshiIndexMarket marks the Kalshi index-market subclass with the
	// halved fee multiplier.
	KalshiIndexMarket bool
}

// Expired reports whether the pair's market has passed its expiry.
func (p MatchedPair) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// TimeToExpiry returns the remaining time before expiry, or false for
// open-ended pairs.
func (p MatchedPair) TimeToExpiry(now time.Time) (time.Duration, bool) {
	if p.ExpiresAt == nil {
		return 0, false
	}
	return p.ExpiresAt.Sub(now), true
}
