package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
	"github.com/oddslab/pairarb/internal/ledger"
	"github.com/oddslab/pairarb/internal/risk"
)

// Sweeper is the engine's housekeeping loop. Each pass it resolves settled
// positions, checks open positions against the stop-loss, and polls the
// breaker so the UTC day rolls even when no trade activity touches it.
type Sweeper struct {
	interval time.Duration
	ledger   *ledger.Ledger
	breaker  *risk.CircuitBreaker
	engine   *Engine
	alerter  Alerter // optional
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewSweeper creates a Sweeper sharing the engine's pairs and quote book.
func NewSweeper(interval time.Duration, eng *Engine, led *ledger.Ledger, breaker *risk.CircuitBreaker, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		interval: interval,
		ledger:   led,
		breaker:  breaker,
		engine:   eng,
		logger:   logger.With(slog.String("component", "sweeper")),
		nowFn:    time.Now,
	}
}

// SetAlerter attaches operator notifications.
func (s *Sweeper) SetAlerter(a Alerter) { s.alerter = a }

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one housekeeping pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	// Status rolls the UTC day as a side effect, clearing daily counters
	// and daily-loss trips on quiet days.
	s.breaker.Status()

	for _, pos := range s.ledger.OpenPositions() {
		s.sweepPosition(ctx, pos)
	}
}

func (s *Sweeper) sweepPosition(ctx context.Context, pos domain.Position) {
	trade, err := s.ledger.Resolve(ctx, pos.PairName)
	if err == nil && trade != nil {
		s.logger.Info("resolved position",
			slog.String("pair", pos.PairName),
			slog.Int64("pnl_cents", trade.PnLCents),
		)
		if s.alerter != nil {
			_ = s.alerter.Notify(ctx, "resolve", "Position resolved",
				fmt.Sprintf("%s settled: %+dc", pos.PairName, trade.PnLCents))
		}
		return
	}
	if err != nil && !errors.Is(err, domain.ErrNotSettled) {
		s.logger.Error("resolve failed",
			slog.String("pair", pos.PairName),
			slog.String("error", err.Error()),
		)
		return
	}

	// Still live: compare the current value of the held legs against
	// entry, using only fresh quotes.
	polyLive, kalshiLive, ok := s.liveLegPrices(pos)
	if !ok {
		return
	}
	if !s.ledger.StopLossTriggered(pos, polyLive, kalshiLive) {
		return
	}

	trade, err = s.ledger.StopLossExit(ctx, pos.PairName, polyLive, kalshiLive)
	if err != nil || trade == nil {
		if err != nil {
			s.logger.Error("stop-loss exit failed",
				slog.String("pair", pos.PairName),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if trade.PnLCents < 0 {
		s.breaker.RecordLoss(-trade.PnLCents)
	}
	if s.alerter != nil {
		_ = s.alerter.NotifyAll(ctx, "Stop-loss exit",
			fmt.Sprintf("%s unwound at %+dc (entry %dc/contract, live %dc/contract)",
				pos.PairName, trade.PnLCents,
				pos.PolyPriceCents+pos.KalshiPriceCents, polyLive+kalshiLive))
	}
}

// liveLegPrices returns the current prices of the position's own legs. Both
// quotes must be present and fresh; a stale book must not trigger an exit.
func (s *Sweeper) liveLegPrices(pos domain.Position) (polyLive, kalshiLive int64, ok bool) {
	pair, found := s.engine.Pair(pos.PairName)
	if !found {
		return 0, 0, false
	}

	now := s.nowFn()
	polyQ, pOK := s.engine.Quote(domain.VenuePolymarket, pair.PolymarketToken)
	kalshiQ, kOK := s.engine.Quote(domain.VenueKalshi, pair.KalshiTicker)
	if !pOK || !kOK {
		return 0, 0, false
	}
	maxAge := s.engine.cfg.MaxQuoteAge
	if !polyQ.FreshAt(now, maxAge) || !kalshiQ.FreshAt(now, maxAge) {
		return 0, 0, false
	}

	switch pos.Direction {
	case domain.DirectionPolyYesKalshiNo:
		return polyQ.YesPriceCents, kalshiQ.NoPriceCents, true
	case domain.DirectionPolyNoKalshiYes:
		return polyQ.NoPriceCents, kalshiQ.YesPriceCents, true
	default:
		return 0, 0, false
	}
}
