package feed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
)

// SimFeed emits random-walk quotes for both legs of the configured pairs.
// It exists for paper trading and local development; prices stay inside
// (1, 99) cents and the YES/NO sides of each instrument are kept roughly
// complementary with venue-specific noise, so cross-venue spreads open and
// close the way they do on the real books.
type SimFeed struct {
	interval time.Duration
	out      chan domain.PriceQuote
	logger   *slog.Logger

	mu    sync.Mutex
	pairs []domain.MatchedPair
	// yes price per instrument key, in cents
	prices map[string]int64
}

// NewSimFeed creates a SimFeed ticking every interval.
func NewSimFeed(pairs []domain.MatchedPair, interval time.Duration, logger *slog.Logger) *SimFeed {
	if interval <= 0 {
		interval = time.Second
	}
	f := &SimFeed{
		pairs:    pairs,
		interval: interval,
		out:      make(chan domain.PriceQuote, 64),
		logger:   logger.With(slog.String("component", "sim_feed")),
		prices:   make(map[string]int64),
	}
	for _, p := range pairs {
		f.seed(p)
	}
	return f
}

// seed starts both venues near the same mid so the pair opens without an
// artificial arbitrage gap. Callers hold f.mu or own f exclusively.
func (f *SimFeed) seed(p domain.MatchedPair) {
	mid := int64(20 + rand.IntN(60))
	f.prices["poly:"+p.PolymarketToken] = mid
	f.prices["kalshi:"+p.KalshiTicker] = mid + int64(rand.IntN(5)) - 2
}

// SubscribePair starts emitting quotes for a pair added at runtime.
func (f *SimFeed) SubscribePair(p domain.MatchedPair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.pairs {
		if existing.Name == p.Name {
			return
		}
	}
	f.pairs = append(f.pairs, p)
	f.seed(p)
}

// UnsubscribePair stops emitting quotes for a pair.
func (f *SimFeed) UnsubscribePair(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pairs {
		if p.Name == name {
			f.pairs = append(f.pairs[:i], f.pairs[i+1:]...)
			delete(f.prices, "poly:"+p.PolymarketToken)
			delete(f.prices, "kalshi:"+p.KalshiTicker)
			return
		}
	}
}

// snapshot copies the current pair set for one tick's emission.
func (f *SimFeed) snapshot() []domain.MatchedPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MatchedPair(nil), f.pairs...)
}

// Quotes returns the synthetic quote stream.
func (f *SimFeed) Quotes() <-chan domain.PriceQuote {
	return f.out
}

// Run emits one quote per instrument per tick until the context is
// cancelled.
func (f *SimFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	defer close(f.out)

	f.logger.Info("sim feed started",
		slog.Int("pairs", len(f.snapshot())),
		slog.Duration("interval", f.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UTC()
			for _, p := range f.snapshot() {
				polyYes := f.step("poly:" + p.PolymarketToken)
				kalshiYes := f.step("kalshi:" + p.KalshiTicker)

				quotes := [2]domain.PriceQuote{
					{
						Venue:         domain.VenuePolymarket,
						InstrumentID:  p.PolymarketToken,
						YesPriceCents: polyYes,
						NoPriceCents:  domain.FullPayoutCents - polyYes + f.spreadNoise(),
						ObservedAt:    now,
						Source:        "sim",
					},
					{
						Venue:         domain.VenueKalshi,
						InstrumentID:  p.KalshiTicker,
						YesPriceCents: kalshiYes,
						NoPriceCents:  domain.FullPayoutCents - kalshiYes + f.spreadNoise(),
						ObservedAt:    now,
						Source:        "sim",
					},
				}
				for _, q := range quotes {
					q.NoPriceCents = clampCents(q.NoPriceCents)
					select {
					case f.out <- q:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}
}

// step advances one instrument's YES price by a small random increment.
func (f *SimFeed) step(key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.prices[key] + int64(rand.IntN(5)) - 2
	p = clampCents(p)
	f.prices[key] = p
	return p
}

// spreadNoise widens the NO side by a small bid/ask-style offset.
func (f *SimFeed) spreadNoise() int64 {
	return int64(rand.IntN(3)) - 1
}

func clampCents(p int64) int64 {
	if p < 2 {
		return 2
	}
	if p > 98 {
		return 98
	}
	return p
}
