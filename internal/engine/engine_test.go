package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
	"github.com/oddslab/pairarb/internal/execlock"
	"github.com/oddslab/pairarb/internal/execution"
	"github.com/oddslab/pairarb/internal/ledger"
	"github.com/oddslab/pairarb/internal/risk"
	"github.com/oddslab/pairarb/internal/store/memory"
)

type fakePlacer struct {
	mu     sync.Mutex
	orders []domain.LegOrder
	err    error
}

func (p *fakePlacer) PlaceLegs(ctx context.Context, order domain.LegOrder) (domain.LegReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.LegReceipt{}, p.err
	}
	p.orders = append(p.orders, order)
	return domain.LegReceipt{PolyOrderID: "p1", KalshiOrderID: "k1", FilledAt: time.Now()}, nil
}

func (p *fakePlacer) placed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

type harness struct {
	engine  *Engine
	ledger  *ledger.Ledger
	breaker *risk.CircuitBreaker
	placer  *fakePlacer
	now     time.Time
}

func newHarness(t *testing.T, cfg Config, pairs []domain.MatchedPair) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	h := &harness{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}

	h.ledger = ledger.New(ledger.Config{
		InitialPolymarketCents: 100_000,
		InitialKalshiCents:     100_000,
		ResolutionGrace:        time.Minute,
		StopLossToleranceCents: 10,
		Now:                    func() time.Time { return h.now },
	}, memory.NewLedgerStore(), logger)

	h.breaker = risk.New(risk.Config{
		MaxDailyLossCents:    10_000,
		MaxConsecutiveErrors: 3,
		MaxContractsPerPair:  100,
		MaxTotalContracts:    500,
	}, logger)

	h.placer = &fakePlacer{}
	h.engine = New(cfg, pairs, h.ledger, h.breaker, execlock.New(),
		execution.NewOrderManager(time.Second, logger), h.placer, logger)
	h.engine.nowFn = func() time.Time { return h.now }
	return h
}

func quote(venue domain.Venue, instrument string, yes, no int64, at time.Time) domain.PriceQuote {
	return domain.PriceQuote{
		Venue:         venue,
		InstrumentID:  instrument,
		YesPriceCents: yes,
		NoPriceCents:  no,
		ObservedAt:    at,
		Source:        "test",
	}
}

func standardPair() domain.MatchedPair {
	return domain.MatchedPair{
		Name:            "btc-close",
		PolymarketToken: "tok-1",
		KalshiTicker:    "KX-BTC",
	}
}

func TestProfitableSpreadExecutes(t *testing.T) {
	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	// YES at 40 on Polymarket, NO at 45 on Kalshi: 15c gross before fees.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))

	if h.placer.placed() != 1 {
		t.Fatalf("orders placed = %d, want 1", h.placer.placed())
	}
	positions := h.ledger.OpenPositions()
	if len(positions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(positions))
	}
	pos := positions[0]
	if pos.Direction != domain.DirectionPolyYesKalshiNo {
		t.Fatalf("direction = %s", pos.Direction)
	}
	if pos.Contracts != 10 || pos.TotalCostCents != 850 {
		t.Fatalf("position = %+v", pos)
	}
	if got := h.ledger.Balance(domain.VenuePolymarket); got != 100_000-400 {
		t.Fatalf("polymarket balance = %d", got)
	}

	opps := h.engine.Opportunities()
	if len(opps) != 1 || !opps[0].IsProfitable {
		t.Fatalf("opportunities = %+v", opps)
	}
}

func TestInverseDirectionSelected(t *testing.T) {
	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 1,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	// Polymarket NO at 30 plus Kalshi YES at 50 is the cheap combination.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 70, 30, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 50, 50, h.now))

	positions := h.ledger.OpenPositions()
	if len(positions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(positions))
	}
	if positions[0].Direction != domain.DirectionPolyNoKalshiYes {
		t.Fatalf("direction = %s, want %s", positions[0].Direction, domain.DirectionPolyNoKalshiYes)
	}
}

func TestMonitorModeNeverPlacesOrders(t *testing.T) {
	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    false,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))

	if h.placer.placed() != 0 {
		t.Fatalf("orders placed in monitor mode: %d", h.placer.placed())
	}
	// The opportunity is still evaluated and published.
	opps := h.engine.Opportunities()
	if len(opps) != 1 || !opps[0].IsProfitable {
		t.Fatalf("opportunities = %+v", opps)
	}
}

func TestStaleQuoteSkipsEvaluation(t *testing.T) {
	h := newHarness(t, Config{
		MaxQuoteAge:       30 * time.Second,
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now.Add(-2*time.Minute)))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))

	if h.placer.placed() != 0 {
		t.Fatalf("executed on a stale quote")
	}
	if len(h.engine.Opportunities()) != 0 {
		t.Fatal("opportunity published from a stale quote")
	}
}

func TestPriceFloorExcludesExtremes(t *testing.T) {
	h := newHarness(t, Config{
		PriceFloorCents:   2,
		MinNetProfitCents: 1,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	// A 1c leg is inside the floor even though the arithmetic spread is
	// enormous.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 1, 99, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))

	if h.placer.placed() != 0 {
		t.Fatalf("executed through the price floor")
	}
}

func TestNearMissRecordedWithCooldown(t *testing.T) {
	h := newHarness(t, Config{
		MaxQuoteAge:       10 * time.Minute,
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		NearMissCooldown:  time.Minute,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	store := memory.NewNearMissStore()
	h.engine.SetNearMissStore(store)
	ctx := context.Background()

	// 97c total: 3c gross, under the 5c bar after fees.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 48, 52, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 51, 49, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 51, 49, h.now))

	rows, err := store.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("near misses = %d, want 1 (cooldown)", len(rows))
	}
	if rows[0].GrossSpreadCents != 3 {
		t.Fatalf("gross = %d, want 3", rows[0].GrossSpreadCents)
	}
	if h.placer.placed() != 0 {
		t.Fatalf("sub-threshold spread executed")
	}

	// Past the cooldown the next observation records again.
	h.now = h.now.Add(2 * time.Minute)
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 51, 49, h.now))
	rows, _ = store.ListRecent(ctx, 0)
	if len(rows) != 2 {
		t.Fatalf("near misses = %d after cooldown, want 2", len(rows))
	}
}

func TestExpiryTightensProfitBar(t *testing.T) {
	h := newHarness(t, Config{MinNetProfitCents: 10}, nil)

	open := domain.MatchedPair{Name: "open"}
	if got := h.engine.effectiveMinNet(open, h.now); got != 10 {
		t.Fatalf("no expiry bar = %d, want 10", got)
	}

	far := h.now.Add(48 * time.Hour)
	if got := h.engine.effectiveMinNet(domain.MatchedPair{Name: "far", ExpiresAt: &far}, h.now); got != 10 {
		t.Fatalf("48h bar = %d, want 10", got)
	}

	twelve := h.now.Add(12 * time.Hour)
	if got := h.engine.effectiveMinNet(domain.MatchedPair{Name: "mid", ExpiresAt: &twelve}, h.now); got != 15 {
		t.Fatalf("12h bar = %d, want 15", got)
	}

	oneHour := h.now.Add(time.Hour)
	// mult = (1 + 23/24) * 2 = 3.9166..; ceil(10 * 3.9166) = 40.
	if got := h.engine.effectiveMinNet(domain.MatchedPair{Name: "late", ExpiresAt: &oneHour}, h.now); got != 40 {
		t.Fatalf("1h bar = %d, want 40", got)
	}

	soon := h.now.Add(time.Minute)
	// Capped at 4x.
	if got := h.engine.effectiveMinNet(domain.MatchedPair{Name: "soon", ExpiresAt: &soon}, h.now); got != 40 {
		t.Fatalf("1m bar = %d, want 40", got)
	}
}

func TestBreakerDenialBlocksExecution(t *testing.T) {
	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	h.breaker.RecordLoss(20_000)

	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))

	if h.placer.placed() != 0 {
		t.Fatalf("executed while breaker tripped")
	}
}

func TestDuplicatePositionNotReentered(t *testing.T) {
	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))
	// Same spread again while the position is open.
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))

	if h.placer.placed() != 1 {
		t.Fatalf("orders placed = %d, want 1", h.placer.placed())
	}
}

func TestSweeperResolvesExpiredPosition(t *testing.T) {
	expiry := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	pair := standardPair()
	pair.ExpiresAt = &expiry

	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{pair})
	ctx := context.Background()

	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))
	if len(h.ledger.OpenPositions()) != 1 {
		t.Fatal("no position to sweep")
	}

	sw := NewSweeper(time.Second, h.engine, h.ledger, h.breaker, slog.New(slog.DiscardHandler))

	// Before settlement nothing happens.
	sw.Sweep(ctx)
	if len(h.ledger.OpenPositions()) != 1 {
		t.Fatal("position resolved before settlement")
	}

	// Past expiry plus the grace window the payout is booked.
	h.now = expiry.Add(2 * time.Minute)
	sw.nowFn = func() time.Time { return h.now }
	sw.Sweep(ctx)
	if len(h.ledger.OpenPositions()) != 0 {
		t.Fatal("position not resolved after settlement")
	}
	sum := h.ledger.PortfolioSummary()
	if sum.Wins != 1 || sum.RealizedPnLCents <= 0 {
		t.Fatalf("summary after resolve = %+v", sum)
	}
}

func TestSweeperStopLossOnDivergence(t *testing.T) {
	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, []domain.MatchedPair{standardPair()})
	ctx := context.Background()

	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))
	if len(h.ledger.OpenPositions()) != 1 {
		t.Fatal("no position to sweep")
	}

	sw := NewSweeper(time.Second, h.engine, h.ledger, h.breaker, slog.New(slog.DiscardHandler))
	sw.nowFn = func() time.Time { return h.now }

	// Legs still near entry: no exit.
	sw.Sweep(ctx)
	if len(h.ledger.OpenPositions()) != 1 {
		t.Fatal("stop-loss fired inside tolerance")
	}

	// The held legs (poly YES, kalshi NO) collapse to 25 + 40 = 65c
	// against an 85c entry.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 25, 75, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 60, 40, h.now))
	sw.Sweep(ctx)

	if len(h.ledger.OpenPositions()) != 0 {
		t.Fatal("stop-loss did not fire on divergence")
	}
	sum := h.ledger.PortfolioSummary()
	if sum.Losses != 1 {
		t.Fatalf("losses = %d, want 1", sum.Losses)
	}
	// The realized loss feeds the daily-loss accounting.
	if st := h.breaker.Status(); st.DailyLossCents <= 0 {
		t.Fatalf("breaker daily loss = %d, want > 0", st.DailyLossCents)
	}
}

type fakeSubscriber struct {
	subscribed   []string
	unsubscribed []string
}

func (s *fakeSubscriber) SubscribePair(p domain.MatchedPair) {
	s.subscribed = append(s.subscribed, p.Name)
}

func (s *fakeSubscriber) UnsubscribePair(name string) {
	s.unsubscribed = append(s.unsubscribed, name)
}

func TestRuntimePairAddAndRemove(t *testing.T) {
	h := newHarness(t, Config{
		MinNetProfitCents: 5,
		ContractsPerTrade: 10,
		ExecuteEnabled:    true,
	}, nil)
	ctx := context.Background()
	sub := &fakeSubscriber{}
	h.engine.AddPairSubscriber(sub)

	// Quotes for an unconfigured pair go nowhere.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))
	if h.placer.placed() != 0 {
		t.Fatal("unconfigured pair must not trade")
	}

	if err := h.engine.AddPair(standardPair()); err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	if err := h.engine.AddPair(standardPair()); err == nil {
		t.Fatal("duplicate AddPair should fail")
	}
	if err := h.engine.AddPair(domain.MatchedPair{Name: "half"}); err == nil {
		t.Fatal("AddPair without instruments should fail")
	}
	if len(sub.subscribed) != 1 || sub.subscribed[0] != "btc-close" {
		t.Fatalf("subscribed = %v", sub.subscribed)
	}

	// The same spread now executes.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))
	if h.placer.placed() != 1 {
		t.Fatalf("orders placed = %d, want 1", h.placer.placed())
	}

	if !h.engine.RemovePair("btc-close") {
		t.Fatal("RemovePair returned false for configured pair")
	}
	if h.engine.RemovePair("btc-close") {
		t.Fatal("second RemovePair should return false")
	}
	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != "btc-close" {
		t.Fatalf("unsubscribed = %v", sub.unsubscribed)
	}
	if len(h.engine.Pairs()) != 0 {
		t.Fatalf("pairs = %v", h.engine.Pairs())
	}
	if len(h.engine.Opportunities()) != 0 {
		t.Fatal("opportunity survived pair removal")
	}

	// Quotes for the removed pair are ignored again.
	h.engine.handleQuote(ctx, quote(domain.VenuePolymarket, "tok-1", 40, 60, h.now))
	h.engine.handleQuote(ctx, quote(domain.VenueKalshi, "KX-BTC", 55, 45, h.now))
	if h.placer.placed() != 1 {
		t.Fatalf("orders placed = %d, want 1 after removal", h.placer.placed())
	}
}
