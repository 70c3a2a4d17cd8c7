// Package ledger owns the venue balances, open positions, and the append-only
// trade journal. It is the single source of truth for "can we afford this":
// nothing else reads or writes balances. Every mutation runs to completion
// under one lock, so balances are never observable in a partially-deducted
// state, and the resulting snapshot is persisted after each mutating call.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddslab/pairarb/internal/domain"
)

// Config holds the ledger's seed balances and exit parameters.
type Config struct {
	InitialPolymarketCents int64
	InitialKalshiCents     int64
	// ResolutionGrace is added to a position's expiry before the
	// guaranteed payout may be booked; resolving early is a correctness
	// bug because the guarantee only holds after settlement.
	ResolutionGrace time.Duration
	// StopLossToleranceCents is how far, per contract, the live value of
	// a position's legs may fall below its entry cost before the
	// emergency exit fires.
	StopLossToleranceCents int64
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Ledger tracks balances and positions in memory and mirrors every mutation
// to its store.
type Ledger struct {
	cfg    Config
	store  domain.LedgerStore
	logger *slog.Logger
	nowFn  func() time.Time

	mu        sync.Mutex
	balances  map[domain.Venue]int64
	positions map[string]domain.Position // keyed by pair name
	trades    []domain.Trade
	wins      int
	losses    int
	bestPnL   int64
	worstPnL  int64
}

// New creates a Ledger backed by the given store. Call Load before use.
func New(cfg Config, store domain.LedgerStore, logger *slog.Logger) *Ledger {
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{
		cfg:    cfg,
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
		nowFn:  nowFn,
		balances: map[domain.Venue]int64{
			domain.VenuePolymarket: cfg.InitialPolymarketCents,
			domain.VenueKalshi:     cfg.InitialKalshiCents,
		},
		positions: make(map[string]domain.Position),
	}
}

// Load hydrates the ledger from its store. A missing snapshot keeps the
// configured seed balances.
func (l *Ledger) Load(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.logger.Info("no ledger snapshot found, starting from seed balances",
				slog.Int64("polymarket_cents", l.cfg.InitialPolymarketCents),
				slog.Int64("kalshi_cents", l.cfg.InitialKalshiCents),
			)
			return nil
		}
		return fmt.Errorf("ledger: load snapshot: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[domain.Venue]int64, len(snap.Balances))
	for v, b := range snap.Balances {
		l.balances[v] = b
	}
	l.positions = make(map[string]domain.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		l.positions[p.PairName] = p
	}
	l.trades = append([]domain.Trade(nil), snap.Trades...)
	l.wins, l.losses = snap.Wins, snap.Losses
	l.bestPnL, l.worstPnL = snap.BestTradeCents, snap.WorstTradeCents

	l.logger.Info("ledger restored",
		slog.Int("open_positions", len(l.positions)),
		slog.Int("trades", len(l.trades)),
	)
	return nil
}

// CanAfford checks that both leg costs fit their venue balances and that no
// open position already claims the pair.
func (l *Ledger) CanAfford(opp domain.Opportunity, contracts int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canAffordLocked(opp, contracts)
}

func (l *Ledger) canAffordLocked(opp domain.Opportunity, contracts int64) error {
	if _, exists := l.positions[opp.PairName]; exists {
		return fmt.Errorf("ledger: %s: %w", opp.PairName, domain.ErrDuplicatePosition)
	}
	polyCost := opp.PolyPriceCents * contracts
	kalshiCost := opp.KalshiPriceCents * contracts
	if polyCost > l.balances[domain.VenuePolymarket] {
		return fmt.Errorf("ledger: polymarket leg needs %dc, have %dc: %w",
			polyCost, l.balances[domain.VenuePolymarket], domain.ErrInsufficientBalance)
	}
	if kalshiCost > l.balances[domain.VenueKalshi] {
		return fmt.Errorf("ledger: kalshi leg needs %dc, have %dc: %w",
			kalshiCost, l.balances[domain.VenueKalshi], domain.ErrInsufficientBalance)
	}
	return nil
}

// Commit books a new position: both leg costs are deducted and an ENTRY trade
// is journaled, atomically with respect to the balances.
func (l *Ledger) Commit(ctx context.Context, opp domain.Opportunity, contracts int64) (domain.Position, error) {
	l.mu.Lock()
	if err := l.canAffordLocked(opp, contracts); err != nil {
		l.mu.Unlock()
		return domain.Position{}, err
	}

	now := l.nowFn().UTC()
	polyCost := opp.PolyPriceCents * contracts
	kalshiCost := opp.KalshiPriceCents * contracts
	pos := domain.Position{
		ID:                     uuid.New().String(),
		PairName:               opp.PairName,
		Direction:              opp.Direction,
		PolyPriceCents:         opp.PolyPriceCents,
		KalshiPriceCents:       opp.KalshiPriceCents,
		Contracts:              contracts,
		TotalCostCents:         polyCost + kalshiCost,
		FeesCents:              opp.FeesCents * contracts,
		ExpectedNetProfitCents: opp.NetProfitCents * contracts,
		ExpiresAt:              opp.ExpiresAt,
		EnteredAt:              now,
	}

	l.balances[domain.VenuePolymarket] -= polyCost
	l.balances[domain.VenueKalshi] -= kalshiCost
	l.positions[pos.PairName] = pos
	l.trades = append(l.trades, domain.Trade{
		ID:         uuid.New().String(),
		Kind:       domain.TradeEntry,
		PairName:   pos.PairName,
		Direction:  pos.Direction,
		Contracts:  contracts,
		CostCents:  pos.TotalCostCents,
		FeesCents:  pos.FeesCents,
		ExecutedAt: now,
	})
	snap := l.snapshotLocked(now)
	l.mu.Unlock()

	l.persist(ctx, snap)
	l.logger.Info("position entered",
		slog.String("pair", pos.PairName),
		slog.String("direction", string(pos.Direction)),
		slog.Int64("contracts", contracts),
		slog.Int64("total_cost_cents", pos.TotalCostCents),
		slog.Int64("expected_net_cents", pos.ExpectedNetProfitCents),
	)
	return pos, nil
}

// Resolve books the guaranteed $1.00-per-contract payout for an expired
// position. Calling it for a pair with no open position is a no-op returning
// (nil, nil), so repeated sweeps are always safe. Calling it before expiry
// plus the grace period returns ErrNotSettled: the guarantee only holds
// after settlement.
func (l *Ledger) Resolve(ctx context.Context, pairName string) (*domain.Trade, error) {
	l.mu.Lock()
	pos, ok := l.positions[pairName]
	if !ok {
		l.mu.Unlock()
		return nil, nil
	}
	now := l.nowFn().UTC()
	if pos.ExpiresAt == nil || now.Before(pos.ExpiresAt.Add(l.cfg.ResolutionGrace)) {
		l.mu.Unlock()
		return nil, fmt.Errorf("ledger: %s: %w", pairName, domain.ErrNotSettled)
	}

	payout := domain.FullPayoutCents * pos.Contracts
	netPnL := payout - pos.TotalCostCents - pos.FeesCents
	// Net credits split evenly between the venues; the odd cent lands on
	// the Polymarket side.
	credits := payout - pos.FeesCents
	l.balances[domain.VenuePolymarket] += (credits + 1) / 2
	l.balances[domain.VenueKalshi] += credits / 2

	trade := l.closeLocked(pos, domain.TradeResolve, netPnL, now)
	snap := l.snapshotLocked(now)
	l.mu.Unlock()

	l.persist(ctx, snap)
	l.logger.Info("position resolved",
		slog.String("pair", pairName),
		slog.Int64("payout_cents", payout),
		slog.Int64("net_pnl_cents", netPnL),
	)
	return &trade, nil
}

// StopLossExit unwinds a position at live market prices before resolution.
// This is the only code path that can realize a loss on what was modeled as
// risk-free; it exists because live prices, unlike the entry snapshot, can
// reveal that the two matched instruments were never equivalent. The live
// prices are the current costs of the position's own legs. A missing
// position returns ErrNoPosition.
func (l *Ledger) StopLossExit(ctx context.Context, pairName string, polyLiveCents, kalshiLiveCents int64) (*domain.Trade, error) {
	l.mu.Lock()
	pos, ok := l.positions[pairName]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("ledger: %s: %w", pairName, domain.ErrNoPosition)
	}

	now := l.nowFn().UTC()
	proceeds := (polyLiveCents + kalshiLiveCents) * pos.Contracts
	netPnL := proceeds - pos.TotalCostCents - pos.FeesCents

	// Per-leg proceeds go back to their own venue; fees come out of the
	// Kalshi credit first, spilling over to the Polymarket side.
	feesLeft := pos.FeesCents
	kalshiCredit := kalshiLiveCents * pos.Contracts
	if feesLeft >= kalshiCredit {
		feesLeft -= kalshiCredit
		kalshiCredit = 0
	} else {
		kalshiCredit -= feesLeft
		feesLeft = 0
	}
	polyCredit := polyLiveCents*pos.Contracts - feesLeft
	l.balances[domain.VenuePolymarket] += polyCredit
	l.balances[domain.VenueKalshi] += kalshiCredit

	trade := l.closeLocked(pos, domain.TradeStopLossExit, netPnL, now)
	snap := l.snapshotLocked(now)
	l.mu.Unlock()

	l.persist(ctx, snap)
	l.logger.Warn("stop-loss exit",
		slog.String("pair", pairName),
		slog.Int64("proceeds_cents", proceeds),
		slog.Int64("net_pnl_cents", netPnL),
	)
	return &trade, nil
}

// StopLossTriggered reports whether the live per-contract value of the
// position's legs has fallen more than the configured tolerance below the
// entry cost.
func (l *Ledger) StopLossTriggered(pos domain.Position, polyLiveCents, kalshiLiveCents int64) bool {
	entryPerContract := pos.PolyPriceCents + pos.KalshiPriceCents
	livePerContract := polyLiveCents + kalshiLiveCents
	return entryPerContract-livePerContract > l.cfg.StopLossToleranceCents
}

// closeLocked removes the position, journals the closing trade, and updates
// the running win/loss counters.
func (l *Ledger) closeLocked(pos domain.Position, kind domain.TradeKind, netPnL int64, now time.Time) domain.Trade {
	delete(l.positions, pos.PairName)
	trade := domain.Trade{
		ID:         uuid.New().String(),
		Kind:       kind,
		PairName:   pos.PairName,
		Direction:  pos.Direction,
		Contracts:  pos.Contracts,
		CostCents:  pos.TotalCostCents,
		FeesCents:  pos.FeesCents,
		PnLCents:   netPnL,
		ExecutedAt: now,
	}
	l.trades = append(l.trades, trade)

	if netPnL >= 0 {
		l.wins++
	} else {
		l.losses++
	}
	if netPnL > l.bestPnL || l.wins+l.losses == 1 {
		l.bestPnL = netPnL
	}
	if netPnL < l.worstPnL || l.wins+l.losses == 1 {
		l.worstPnL = netPnL
	}
	return trade
}

// OpenPositions returns a copy of all open positions.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// PositionContext reports the ledger's exposure for the breaker's cap checks.
func (l *Ledger) PositionContext(pairName string) domain.PositionContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ctx domain.PositionContext
	for name, p := range l.positions {
		ctx.TotalContracts += p.Contracts
		if name == pairName {
			ctx.ContractsForPair = p.Contracts
		}
	}
	return ctx
}

// Balance returns the current balance for one venue.
func (l *Ledger) Balance(v domain.Venue) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[v]
}

// Trades returns the most recent journal entries, newest last, up to limit
// (zero means all).
func (l *Ledger) Trades(limit int) []domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.trades)
	if limit > 0 && limit < n {
		return append([]domain.Trade(nil), l.trades[n-limit:]...)
	}
	return append([]domain.Trade(nil), l.trades...)
}

// PortfolioSummary is the side-effect-free read model for dashboards.
func (l *Ledger) PortfolioSummary() domain.PortfolioSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := domain.PortfolioSummary{
		PolymarketBalanceCents: l.balances[domain.VenuePolymarket],
		KalshiBalanceCents:     l.balances[domain.VenueKalshi],
		OpenPositions:          len(l.positions),
		Wins:                   l.wins,
		Losses:                 l.losses,
		BestTradeCents:         l.bestPnL,
		WorstTradeCents:        l.worstPnL,
		TradeCount:             len(l.trades),
	}
	for _, p := range l.positions {
		sum.OpenCostCents += p.TotalCostCents
		sum.ExpectedProfitCents += p.ExpectedNetProfitCents
	}
	for _, t := range l.trades {
		sum.RealizedPnLCents += t.PnLCents
	}
	return sum
}

// snapshotLocked builds a persistable copy of the current state. Callers
// persist it after releasing the lock so storage latency never blocks reads.
func (l *Ledger) snapshotLocked(now time.Time) domain.LedgerSnapshot {
	snap := domain.LedgerSnapshot{
		Balances:        make(map[domain.Venue]int64, len(l.balances)),
		Positions:       make([]domain.Position, 0, len(l.positions)),
		Trades:          append([]domain.Trade(nil), l.trades...),
		Wins:            l.wins,
		Losses:          l.losses,
		BestTradeCents:  l.bestPnL,
		WorstTradeCents: l.worstPnL,
		SavedAt:         now,
	}
	for v, b := range l.balances {
		snap.Balances[v] = b
	}
	for _, p := range l.positions {
		snap.Positions = append(snap.Positions, p)
	}
	return snap
}

func (l *Ledger) persist(ctx context.Context, snap domain.LedgerSnapshot) {
	if err := l.store.Save(ctx, snap); err != nil {
		// Persistence failure must not halt trading; the in-memory state
		// stays authoritative and the next mutation retries the write.
		l.logger.Error("ledger snapshot save failed",
			slog.String("error", err.Error()),
		)
	}
}
