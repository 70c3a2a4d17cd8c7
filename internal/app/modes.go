package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddslab/pairarb/internal/archive"
	"github.com/oddslab/pairarb/internal/domain"
	"github.com/oddslab/pairarb/internal/engine"
	"github.com/oddslab/pairarb/internal/execlock"
	"github.com/oddslab/pairarb/internal/execution"
	"github.com/oddslab/pairarb/internal/feed"
	"github.com/oddslab/pairarb/internal/ledger"
	"github.com/oddslab/pairarb/internal/risk"
	"github.com/oddslab/pairarb/internal/server"
	"github.com/oddslab/pairarb/internal/server/handler"
	"github.com/oddslab/pairarb/internal/server/ws"
)

// runEngine runs the arbitrage loop. In monitor mode everything evaluates
// and records exactly as in trade mode, but no orders are placed and no
// ledger entries are written.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, executeEnabled bool) error {
	cfg := a.cfg

	pairs := make([]domain.MatchedPair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, domain.MatchedPair{
			Name:              p.Name,
			PolymarketToken:   p.PolymarketToken,
			KalshiTicker:      p.KalshiTicker,
			ExpiresAt:         p.ExpiresAt,
			PolyFifteenMinute: p.PolyFifteenMinute,
			KalshiIndexMarket: p.KalshiIndexMarket,
		})
	}

	led := ledger.New(ledger.Config{
		InitialPolymarketCents: cfg.Balances.InitialPolymarketCents,
		InitialKalshiCents:     cfg.Balances.InitialKalshiCents,
		ResolutionGrace:        cfg.Balances.ResolutionGrace.Duration,
		StopLossToleranceCents: cfg.Balances.StopLossToleranceCents,
	}, deps.LedgerStore, a.logger)
	if err := led.Load(ctx); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	breaker := risk.New(risk.Config{
		MaxDailyLossCents:    cfg.Risk.MaxDailyLossCents,
		MaxConsecutiveErrors: cfg.Risk.MaxConsecutiveErrors,
		MaxContractsPerPair:  cfg.Risk.MaxContractsPerPair,
		MaxTotalContracts:    cfg.Risk.MaxTotalContracts,
		MaxDailyTrades:       cfg.Risk.MaxDailyTrades,
		AlertCooldown:        cfg.Risk.AlertCooldown.Duration,
	}, a.logger)
	var hub *ws.Hub
	if cfg.Server.Enabled {
		hub = ws.NewHub(cfg.Mode, a.logger)
	}

	breaker.SetOnTrip(func(cause risk.TripCause, reason string) {
		if hub != nil {
			hub.Broadcast("breaker", map[string]any{
				"tripped": true,
				"cause":   string(cause),
				"reason":  reason,
			})
		}
		// A trip must always reach an operator, whatever the event filter.
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = deps.Notifier.NotifyAll(notifyCtx, "Circuit breaker tripped",
			fmt.Sprintf("cause=%s: %s", cause, reason))
	})

	placer := execution.NewSimulatedPlacer(cfg.Execution.SimLatency.Duration, a.logger)
	placer.InjectFailures(cfg.Execution.SimFailEvery, cfg.Execution.SimPartialEvery)
	orders := execution.NewOrderManager(cfg.Execution.OrderTimeout.Duration, a.logger)

	eng := engine.New(engine.Config{
		MaxQuoteAge:       cfg.Engine.MaxQuoteAge.Duration,
		PriceFloorCents:   cfg.Engine.PriceFloorCents,
		MinNetProfitCents: cfg.Engine.MinNetProfitCents,
		ContractsPerTrade: cfg.Execution.ContractsPerTrade,
		NearMissCooldown:  cfg.Engine.NearMissCooldown.Duration,
		ExecuteEnabled:    executeEnabled,
	}, pairs, led, breaker, execlock.New(), orders, placer, a.logger)
	eng.SetNearMissStore(deps.NearMissStore)
	eng.SetAlerter(deps.Notifier)
	if deps.QuoteCache != nil {
		eng.SetQuoteCache(deps.QuoteCache)
	}

	sweeper := engine.NewSweeper(cfg.Engine.SweepInterval.Duration, eng, led, breaker, a.logger)
	sweeper.SetAlerter(deps.Notifier)

	simFeed := feed.NewSimFeed(pairs, cfg.Engine.FeedInterval.Duration, a.logger)
	eng.AddPairSubscriber(simFeed)
	feeder := feed.NewFeeder([]domain.QuoteFeed{simFeed}, 0, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	if hub != nil {
		eng.SetBroadcaster(hub)
		g.Go(func() error { return hub.Run(ctx) })

		srv := server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
		}, server.Handlers{
			Health:        handler.NewHealthHandler(a.logger),
			Status:        handler.NewStatusHandler(cfg.Mode, breaker),
			Portfolio:     handler.NewPortfolioHandler(led),
			Opportunities: handler.NewOpportunityHandler(eng, deps.NearMissStore),
			Pairs:         handler.NewPairsHandler(eng, a.logger),
			Breaker:       handler.NewBreakerHandler(breaker, a.logger),
		}, hub, a.logger)

		g.Go(func() error {
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		})
	}

	if deps.BlobWriter != nil {
		archiver := archive.NewNearMissArchiver(
			deps.NearMissStore,
			deps.BlobWriter,
			cfg.S3.ArchiveRetention.Duration,
			500,
			a.logger,
		)
		g.Go(func() error {
			return archiver.RunPeriodic(ctx, cfg.S3.ArchiveInterval.Duration)
		})
	}

	g.Go(func() error { return feeder.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx, feeder.Quotes()) })
	g.Go(func() error { return sweeper.Run(ctx) })

	return g.Wait()
}
