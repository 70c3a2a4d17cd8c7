// Package engine turns the merged quote stream into trades. It keeps an
// in-process book of the latest quote per instrument, re-evaluates the
// affected pairs on every update, and hands profitable spreads through the
// risk and execution gates.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddslab/pairarb/internal/domain"
	"github.com/oddslab/pairarb/internal/execlock"
	"github.com/oddslab/pairarb/internal/execution"
	"github.com/oddslab/pairarb/internal/fees"
	"github.com/oddslab/pairarb/internal/ledger"
	"github.com/oddslab/pairarb/internal/risk"
)

// Alerter is the notification surface the engine needs.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// Broadcaster pushes engine events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Config holds the engine's evaluation and execution parameters.
type Config struct {
	// MaxQuoteAge is how old a quote may be and still participate in an
	// evaluation.
	MaxQuoteAge time.Duration
	// PriceFloorCents excludes quotes at or below this price (and its
	// mirror near 100) from evaluation.
	PriceFloorCents int64
	// MinNetProfitCents is the base per-contract profit bar. The
	// effective bar tightens as a pair approaches expiry.
	MinNetProfitCents int64
	// ContractsPerTrade is the fixed order size.
	ContractsPerTrade int64
	// NearMissCooldown throttles near-miss recording per pair.
	NearMissCooldown time.Duration
	// DenyLogCooldown throttles repeated breaker-denial logs per pair.
	DenyLogCooldown time.Duration
	// ExecuteEnabled gates order placement; false means monitor-only.
	ExecuteEnabled bool
}

type quoteKey struct {
	venue      domain.Venue
	instrument string
}

// PairSubscriber is told when pairs are added or removed at runtime, so
// quote feeds can adjust their subscriptions.
type PairSubscriber interface {
	SubscribePair(pair domain.MatchedPair)
	UnsubscribePair(name string)
}

// Engine evaluates spreads and drives execution.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time

	ledger  *ledger.Ledger
	breaker *risk.CircuitBreaker
	lock    *execlock.TradeLock
	orders  *execution.OrderManager
	placer  domain.OrderPlacer

	quoteCache    domain.QuoteCache    // optional
	nearMissStore domain.NearMissStore // optional
	alerter       Alerter              // optional
	broadcaster   Broadcaster          // optional
	subscribers   []PairSubscriber

	mu            sync.RWMutex
	pairs         map[string]domain.MatchedPair
	quotes        map[quoteKey]domain.PriceQuote
	byInstrument  map[quoteKey][]string
	opportunities map[string]domain.Opportunity
	lastNearMiss  map[string]time.Time
	lastDenyLog   map[string]time.Time
}

// New creates an Engine over the given pairs and collaborators. quoteCache,
// nearMissStore, alerter, and broadcaster may each be nil.
func New(
	cfg Config,
	pairs []domain.MatchedPair,
	led *ledger.Ledger,
	breaker *risk.CircuitBreaker,
	lock *execlock.TradeLock,
	orders *execution.OrderManager,
	placer domain.OrderPlacer,
	logger *slog.Logger,
) *Engine {
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = 60 * time.Second
	}
	if cfg.PriceFloorCents <= 0 {
		cfg.PriceFloorCents = 2
	}
	if cfg.ContractsPerTrade <= 0 {
		cfg.ContractsPerTrade = 10
	}
	if cfg.NearMissCooldown <= 0 {
		cfg.NearMissCooldown = 30 * time.Second
	}
	if cfg.DenyLogCooldown <= 0 {
		cfg.DenyLogCooldown = time.Minute
	}

	e := &Engine{
		cfg:           cfg,
		pairs:         make(map[string]domain.MatchedPair, len(pairs)),
		logger:        logger.With(slog.String("component", "engine")),
		nowFn:         time.Now,
		ledger:        led,
		breaker:       breaker,
		lock:          lock,
		orders:        orders,
		placer:        placer,
		quotes:        make(map[quoteKey]domain.PriceQuote),
		byInstrument:  make(map[quoteKey][]string),
		opportunities: make(map[string]domain.Opportunity),
		lastNearMiss:  make(map[string]time.Time),
		lastDenyLog:   make(map[string]time.Time),
	}
	for _, p := range pairs {
		e.pairs[p.Name] = p
		pk := quoteKey{domain.VenuePolymarket, p.PolymarketToken}
		kk := quoteKey{domain.VenueKalshi, p.KalshiTicker}
		e.byInstrument[pk] = append(e.byInstrument[pk], p.Name)
		e.byInstrument[kk] = append(e.byInstrument[kk], p.Name)
	}
	return e
}

// SetQuoteCache attaches an external quote read model.
func (e *Engine) SetQuoteCache(qc domain.QuoteCache) { e.quoteCache = qc }

// SetNearMissStore attaches near-miss recording.
func (e *Engine) SetNearMissStore(s domain.NearMissStore) { e.nearMissStore = s }

// SetAlerter attaches operator notifications.
func (e *Engine) SetAlerter(a Alerter) { e.alerter = a }

// SetBroadcaster attaches dashboard push.
func (e *Engine) SetBroadcaster(b Broadcaster) { e.broadcaster = b }

// AddPairSubscriber registers a feed to be told about runtime pair changes.
// Must be called before Run, like the other setters.
func (e *Engine) AddPairSubscriber(s PairSubscriber) {
	e.subscribers = append(e.subscribers, s)
}

// AddPair starts evaluating a new matched pair. The quote feeds subscribed
// through AddPairSubscriber pick it up immediately.
func (e *Engine) AddPair(p domain.MatchedPair) error {
	if p.Name == "" || p.PolymarketToken == "" || p.KalshiTicker == "" {
		return fmt.Errorf("engine: pair needs name, polymarket token, and kalshi ticker")
	}

	e.mu.Lock()
	if _, exists := e.pairs[p.Name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: pair %q already configured", p.Name)
	}
	e.pairs[p.Name] = p
	pk := quoteKey{domain.VenuePolymarket, p.PolymarketToken}
	kk := quoteKey{domain.VenueKalshi, p.KalshiTicker}
	e.byInstrument[pk] = append(e.byInstrument[pk], p.Name)
	e.byInstrument[kk] = append(e.byInstrument[kk], p.Name)
	e.mu.Unlock()

	for _, s := range e.subscribers {
		s.SubscribePair(p)
	}
	e.logger.Info("pair added", slog.String("pair", p.Name))
	return nil
}

// RemovePair stops evaluating a pair. An open position on the pair is left
// to the sweeper, which resolves it from the ledger's own record. Returns
// false when the pair is unknown.
func (e *Engine) RemovePair(name string) bool {
	e.mu.Lock()
	p, exists := e.pairs[name]
	if !exists {
		e.mu.Unlock()
		return false
	}
	delete(e.pairs, name)
	for _, key := range []quoteKey{
		{domain.VenuePolymarket, p.PolymarketToken},
		{domain.VenueKalshi, p.KalshiTicker},
	} {
		names := e.byInstrument[key]
		for i, n := range names {
			if n == name {
				e.byInstrument[key] = append(names[:i], names[i+1:]...)
				break
			}
		}
		if len(e.byInstrument[key]) == 0 {
			delete(e.byInstrument, key)
			delete(e.quotes, key)
		}
	}
	delete(e.opportunities, name)
	delete(e.lastNearMiss, name)
	delete(e.lastDenyLog, name)
	e.mu.Unlock()

	for _, s := range e.subscribers {
		s.UnsubscribePair(name)
	}
	e.logger.Info("pair removed", slog.String("pair", name))
	return true
}

// Run consumes quotes until the channel closes or the context is cancelled.
func (e *Engine) Run(ctx context.Context, quotes <-chan domain.PriceQuote) error {
	e.logger.Info("engine started",
		slog.Int("pairs", len(e.pairs)),
		slog.Bool("execute_enabled", e.cfg.ExecuteEnabled),
		slog.Int64("min_net_profit_cents", e.cfg.MinNetProfitCents),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q, ok := <-quotes:
			if !ok {
				e.logger.Info("quote stream closed")
				return nil
			}
			e.handleQuote(ctx, q)
		}
	}
}

// handleQuote stores the quote and re-evaluates every pair that references
// the instrument.
func (e *Engine) handleQuote(ctx context.Context, q domain.PriceQuote) {
	key := quoteKey{q.Venue, q.InstrumentID}

	e.mu.Lock()
	e.quotes[key] = q
	affected := make([]domain.MatchedPair, 0, len(e.byInstrument[key]))
	for _, name := range e.byInstrument[key] {
		affected = append(affected, e.pairs[name])
	}
	e.mu.Unlock()

	if e.quoteCache != nil {
		// Best effort; a cache outage must not stall evaluation.
		if err := e.quoteCache.SetQuote(ctx, q); err != nil {
			e.logger.Warn("quote cache write failed",
				slog.String("instrument", q.InstrumentID),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, pair := range affected {
		e.evaluate(ctx, pair)
	}
}

// evaluate recomputes both directions for a pair from the current book and
// acts on the better one.
func (e *Engine) evaluate(ctx context.Context, pair domain.MatchedPair) {
	now := e.nowFn()
	if pair.Expired(now) {
		return
	}

	e.mu.RLock()
	polyQ, polyOK := e.quotes[quoteKey{domain.VenuePolymarket, pair.PolymarketToken}]
	kalshiQ, kalshiOK := e.quotes[quoteKey{domain.VenueKalshi, pair.KalshiTicker}]
	e.mu.RUnlock()

	if !polyOK || !kalshiOK {
		return
	}
	if !polyQ.FreshAt(now, e.cfg.MaxQuoteAge) || !kalshiQ.FreshAt(now, e.cfg.MaxQuoteAge) {
		return
	}
	if !polyQ.Tradeable(e.cfg.PriceFloorCents) || !kalshiQ.Tradeable(e.cfg.PriceFloorCents) {
		return
	}

	minNet := e.effectiveMinNet(pair, now)
	baseOpts := fees.ProfitOpts{
		PolyFifteenMinute: pair.PolyFifteenMinute,
		KalshiIndexMarket: pair.KalshiIndexMarket,
		MinNetProfitCents: minNet,
	}

	// Direction 1: buy YES on Polymarket, NO on Kalshi.
	p1 := fees.ResolutionProfit(polyQ.YesPriceCents, kalshiQ.NoPriceCents, baseOpts)
	// Direction 2: the inverse legs.
	p2 := fees.ResolutionProfit(polyQ.NoPriceCents, kalshiQ.YesPriceCents, baseOpts)

	dir := domain.DirectionPolyYesKalshiNo
	best := p1
	polyPrice, kalshiPrice := polyQ.YesPriceCents, kalshiQ.NoPriceCents
	if p2.NetProfitCents > p1.NetProfitCents {
		dir = domain.DirectionPolyNoKalshiYes
		best = p2
		polyPrice, kalshiPrice = polyQ.NoPriceCents, kalshiQ.YesPriceCents
	}

	opp := domain.Opportunity{
		PairName:         pair.Name,
		Direction:        dir,
		PolyPriceCents:   polyPrice,
		KalshiPriceCents: kalshiPrice,
		TotalCostCents:   best.TotalCostCents,
		GrossSpreadCents: best.GrossSpreadCents,
		FeesCents:        best.FeesCents,
		NetProfitCents:   best.NetProfitCents,
		IsProfitable:     best.IsProfitable,
		ExpiresAt:        pair.ExpiresAt,
		ComputedAt:       now.UTC(),
	}

	e.mu.Lock()
	e.opportunities[pair.Name] = opp
	e.mu.Unlock()

	if e.broadcaster != nil {
		e.broadcaster.Broadcast("opportunity", opp)
	}
	if e.quoteCache != nil {
		if err := e.quoteCache.SetOpportunity(ctx, opp); err != nil {
			e.logger.Warn("opportunity cache write failed",
				slog.String("pair", pair.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	switch {
	case opp.IsProfitable:
		e.tryExecute(ctx, opp)
	case opp.GrossSpreadCents > 0:
		e.recordNearMiss(ctx, opp, now)
	}
}

// effectiveMinNet tightens the profit bar as expiry approaches: the closer
// the pair is to resolution, the less time there is to notice that the two
// instruments were never truly equivalent.
func (e *Engine) effectiveMinNet(pair domain.MatchedPair, now time.Time) int64 {
	base := e.cfg.MinNetProfitCents
	tte, ok := pair.TimeToExpiry(now)
	if !ok || tte >= 24*time.Hour {
		return base
	}

	// Linear 1.0 at 24h down to 2.0 at expiry, doubled again inside the
	// final two hours, capped at 4.0.
	mult := 1.0 + (1.0 - tte.Hours()/24.0)
	if tte < 2*time.Hour {
		mult *= 2
	}
	if mult > 4.0 {
		mult = 4.0
	}
	return int64(math.Ceil(float64(base) * mult))
}

// tryExecute runs the full gate sequence for a profitable opportunity. Any
// gate failing skips this tick; the next quote re-evaluates from scratch.
func (e *Engine) tryExecute(ctx context.Context, opp domain.Opportunity) {
	if !e.cfg.ExecuteEnabled {
		return
	}

	contracts := e.cfg.ContractsPerTrade
	if d := e.breaker.Check(opp, e.ledger.PositionContext(opp.PairName), contracts); !d.Allowed {
		e.logDenied(opp.PairName, d.Reason)
		return
	}

	if !e.lock.TryAcquire() {
		// Another execution is in flight; this tick's opportunity is
		// stale by the time the lock frees, so skip rather than queue.
		e.logDenied(opp.PairName, domain.ErrLockHeld.Error())
		return
	}
	defer e.lock.Release()

	if err := e.ledger.CanAfford(opp, contracts); err != nil {
		e.logDenied(opp.PairName, err.Error())
		return
	}

	pair, ok := e.Pair(opp.PairName)
	if !ok {
		// Removed between evaluation and execution.
		return
	}
	leg := domain.LegOrder{
		CorrelationID:    uuid.New().String(),
		PairName:         opp.PairName,
		Direction:        opp.Direction,
		PolymarketToken:  pair.PolymarketToken,
		KalshiTicker:     pair.KalshiTicker,
		PolyPriceCents:   opp.PolyPriceCents,
		KalshiPriceCents: opp.KalshiPriceCents,
		Contracts:        contracts,
	}

	result := e.orders.ExecuteWithTimeout(ctx, func(actionCtx context.Context) error {
		if _, err := e.placer.PlaceLegs(actionCtx, leg); err != nil {
			return err
		}
		_, err := e.ledger.Commit(actionCtx, opp, contracts)
		return err
	}, leg.CorrelationID)

	switch {
	case result.TimedOut():
		e.breaker.RecordTimeout()
		e.logger.Warn("execution timed out",
			slog.String("pair", opp.PairName),
			slog.String("correlation_id", leg.CorrelationID),
		)
	case result.Failed():
		e.breaker.RecordError(result.Err)
		e.logger.Error("execution failed",
			slog.String("pair", opp.PairName),
			slog.String("error", result.Err.Error()),
		)
		if risk.IsPartialFill(result.Err) && e.alerter != nil {
			_ = e.alerter.NotifyAll(ctx, "Partial fill",
				fmt.Sprintf("Pair %s: one leg filled without the other. Manual unwind required: %v",
					opp.PairName, result.Err))
		}
	default:
		e.breaker.RecordSuccess()
		e.logger.Info("trade executed",
			slog.String("pair", opp.PairName),
			slog.String("direction", string(opp.Direction)),
			slog.Int64("contracts", contracts),
			slog.Int64("net_profit_cents", opp.NetProfitCents*contracts),
			slog.Duration("elapsed", result.Elapsed),
		)
		if e.broadcaster != nil {
			e.broadcaster.Broadcast("trade", opp)
		}
		if e.alerter != nil {
			_ = e.alerter.Notify(ctx, "trade", "Trade executed",
				fmt.Sprintf("%s %s: %d contracts, expected +%dc",
					opp.PairName, opp.Direction, contracts, opp.NetProfitCents*contracts))
		}
	}
}

// recordNearMiss persists a spread that was positive gross but negative (or
// sub-threshold) net, throttled per pair.
func (e *Engine) recordNearMiss(ctx context.Context, opp domain.Opportunity, now time.Time) {
	if e.nearMissStore == nil {
		return
	}

	e.mu.Lock()
	last := e.lastNearMiss[opp.PairName]
	if now.Sub(last) < e.cfg.NearMissCooldown {
		e.mu.Unlock()
		return
	}
	e.lastNearMiss[opp.PairName] = now
	e.mu.Unlock()

	nm := domain.NearMiss{
		ID:               uuid.New().String(),
		PairName:         opp.PairName,
		Direction:        opp.Direction,
		GrossSpreadCents: opp.GrossSpreadCents,
		FeesCents:        opp.FeesCents,
		NetProfitCents:   opp.NetProfitCents,
		ObservedAt:       now.UTC(),
	}
	if err := e.nearMissStore.Insert(ctx, nm); err != nil {
		e.logger.Warn("near miss insert failed",
			slog.String("pair", opp.PairName),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) logDenied(pairName, reason string) {
	now := e.nowFn()
	e.mu.Lock()
	last := e.lastDenyLog[pairName]
	if now.Sub(last) < e.cfg.DenyLogCooldown {
		e.mu.Unlock()
		return
	}
	e.lastDenyLog[pairName] = now
	e.mu.Unlock()

	e.logger.Info("execution denied",
		slog.String("pair", pairName),
		slog.String("reason", reason),
	)
}

// Quote returns the latest stored quote for an instrument, if any.
func (e *Engine) Quote(venue domain.Venue, instrumentID string) (domain.PriceQuote, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.quotes[quoteKey{venue, instrumentID}]
	return q, ok
}

// Opportunities returns the latest evaluation per pair.
func (e *Engine) Opportunities() []domain.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Opportunity, 0, len(e.opportunities))
	for _, o := range e.opportunities {
		out = append(out, o)
	}
	return out
}

// Pair returns the pair with the given name, if configured.
func (e *Engine) Pair(name string) (domain.MatchedPair, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pairs[name]
	return p, ok
}

// Pairs returns the configured pairs.
func (e *Engine) Pairs() []domain.MatchedPair {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.MatchedPair, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, p)
	}
	return out
}
