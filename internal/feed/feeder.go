// Package feed supplies the engine with price quotes. A Feeder merges any
// number of venue feeds into a single stream; SimFeed generates synthetic
// quotes for paper trading.
package feed

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/oddslab/pairarb/internal/domain"
)

// Feeder fans several venue feeds into one output channel.
type Feeder struct {
	feeds  []domain.QuoteFeed
	out    chan domain.PriceQuote
	logger *slog.Logger
}

// NewFeeder creates a Feeder over the given feeds. buffer sizes the merged
// channel; when it fills, producers block rather than drop quotes.
func NewFeeder(feeds []domain.QuoteFeed, buffer int, logger *slog.Logger) *Feeder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Feeder{
		feeds:  feeds,
		out:    make(chan domain.PriceQuote, buffer),
		logger: logger.With(slog.String("component", "feeder")),
	}
}

// Quotes returns the merged quote stream.
func (f *Feeder) Quotes() <-chan domain.PriceQuote {
	return f.out
}

// Run starts every feed and pumps their quotes into the merged channel until
// the context is cancelled or a feed fails.
func (f *Feeder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, feed := range f.feeds {
		g.Go(func() error {
			return feed.Run(ctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case q, ok := <-feed.Quotes():
					if !ok {
						return nil
					}
					select {
					case f.out <- q:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}

	f.logger.Info("feeder started", slog.Int("feeds", len(f.feeds)))
	err := g.Wait()
	close(f.out)
	return err
}
