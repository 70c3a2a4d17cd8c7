package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
)

type memStore struct {
	mu    sync.Mutex
	snap  *domain.LedgerSnapshot
	saves int
	fail  bool
}

func (s *memStore) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	return *s.snap, nil
}

func (s *memStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.saves++
	s.snap = &snap
	return nil
}

func testLedger(store *memStore) *Ledger {
	return New(Config{
		InitialPolymarketCents: 10_000,
		InitialKalshiCents:     10_000,
		ResolutionGrace:        5 * time.Minute,
		StopLossToleranceCents: 10,
	}, store, slog.New(slog.DiscardHandler))
}

func testOpp(pair string, expiresAt *time.Time) domain.Opportunity {
	return domain.Opportunity{
		PairName:         pair,
		Direction:        domain.DirectionPolyYesKalshiNo,
		PolyPriceCents:   40,
		KalshiPriceCents: 45,
		TotalCostCents:   85,
		GrossSpreadCents: 15,
		FeesCents:        2,
		NetProfitCents:   13,
		IsProfitable:     true,
		ExpiresAt:        expiresAt,
	}
}

func TestCommitDeductsBothLegs(t *testing.T) {
	store := &memStore{}
	l := testLedger(store)

	pos, err := l.Commit(context.Background(), testOpp("btc-3pm", nil), 10)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := l.Balance(domain.VenuePolymarket); got != 10_000-400 {
		t.Fatalf("polymarket balance = %d, want %d", got, 10_000-400)
	}
	if got := l.Balance(domain.VenueKalshi); got != 10_000-450 {
		t.Fatalf("kalshi balance = %d, want %d", got, 10_000-450)
	}
	if pos.TotalCostCents != 850 {
		t.Fatalf("TotalCostCents = %d, want 850", pos.TotalCostCents)
	}
	if pos.FeesCents != 20 {
		t.Fatalf("FeesCents = %d, want 20", pos.FeesCents)
	}
	trades := l.Trades(0)
	if len(trades) != 1 || trades[0].Kind != domain.TradeEntry {
		t.Fatalf("expected single ENTRY trade, got %+v", trades)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
}

func TestCommitRejectsDuplicateAndOverdraft(t *testing.T) {
	l := testLedger(&memStore{})
	ctx := context.Background()

	if _, err := l.Commit(ctx, testOpp("btc-3pm", nil), 10); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if _, err := l.Commit(ctx, testOpp("btc-3pm", nil), 1); !errors.Is(err, domain.ErrDuplicatePosition) {
		t.Fatalf("duplicate Commit err = %v, want ErrDuplicatePosition", err)
	}

	// 300 contracts needs 12000c on the polymarket side.
	if _, err := l.Commit(ctx, testOpp("eth-3pm", nil), 300); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraft Commit err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.Balance(domain.VenueKalshi); got != 10_000-450 {
		t.Fatalf("kalshi balance changed on rejected commit: %d", got)
	}
}

func TestResolveCreditsPayoutAfterGrace(t *testing.T) {
	l := testLedger(&memStore{})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	expiry := now.Add(time.Hour)

	if _, err := l.Commit(ctx, testOpp("btc-4pm", &expiry), 10); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := l.Resolve(ctx, "btc-4pm"); !errors.Is(err, domain.ErrNotSettled) {
		t.Fatalf("early Resolve err = %v, want ErrNotSettled", err)
	}

	now = expiry.Add(6 * time.Minute)
	trade, err := l.Resolve(ctx, "btc-4pm")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if trade == nil || trade.Kind != domain.TradeResolve {
		t.Fatalf("trade = %+v, want RESOLVE", trade)
	}
	// payout 1000, fees 20, cost 850: net +130.
	if trade.PnLCents != 130 {
		t.Fatalf("PnLCents = %d, want 130", trade.PnLCents)
	}
	// Net credits 980 split evenly across the venues.
	if got := l.Balance(domain.VenuePolymarket); got != 10_000-400+490 {
		t.Fatalf("polymarket balance = %d, want %d", got, 10_000-400+490)
	}
	if got := l.Balance(domain.VenueKalshi); got != 10_000-450+490 {
		t.Fatalf("kalshi balance = %d, want %d", got, 10_000-450+490)
	}
	if len(l.OpenPositions()) != 0 {
		t.Fatal("position still open after resolve")
	}

	// Resolving again is a no-op.
	trade, err = l.Resolve(ctx, "btc-4pm")
	if err != nil || trade != nil {
		t.Fatalf("second Resolve = (%+v, %v), want (nil, nil)", trade, err)
	}
}

func TestResolveOddCentGoesToPolymarket(t *testing.T) {
	l := testLedger(&memStore{})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	expiry := now.Add(time.Hour)

	opp := testOpp("btc-4pm", &expiry)
	opp.FeesCents = 3 // odd total credit: 100 - 3 = 97
	if _, err := l.Commit(ctx, opp, 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	now = expiry.Add(time.Hour)
	if _, err := l.Resolve(ctx, "btc-4pm"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := l.Balance(domain.VenuePolymarket); got != 10_000-40+49 {
		t.Fatalf("polymarket balance = %d, want %d", got, 10_000-40+49)
	}
	if got := l.Balance(domain.VenueKalshi); got != 10_000-45+48 {
		t.Fatalf("kalshi balance = %d, want %d", got, 10_000-45+48)
	}
}

func TestResolveNeverFiresWithoutExpiry(t *testing.T) {
	l := testLedger(&memStore{})
	ctx := context.Background()

	if _, err := l.Commit(ctx, testOpp("open-ended", nil), 5); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := l.Resolve(ctx, "open-ended"); !errors.Is(err, domain.ErrNotSettled) {
		t.Fatalf("Resolve err = %v, want ErrNotSettled", err)
	}
}

func TestStopLossExitBooksLoss(t *testing.T) {
	l := testLedger(&memStore{})
	ctx := context.Background()

	if _, err := l.Commit(ctx, testOpp("btc-3pm", nil), 10); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	pos := l.OpenPositions()[0]

	// Entry legs cost 40+45=85; live value 30+40=70 is 15c under, past
	// the 10c tolerance.
	if !l.StopLossTriggered(pos, 30, 40) {
		t.Fatal("expected stop-loss trigger at 15c drawdown")
	}
	if l.StopLossTriggered(pos, 38, 40) {
		t.Fatal("unexpected trigger inside tolerance")
	}

	trade, err := l.StopLossExit(ctx, "btc-3pm", 30, 40)
	if err != nil {
		t.Fatalf("StopLossExit: %v", err)
	}
	// proceeds 700, cost 850, fees 20: net -170.
	if trade.Kind != domain.TradeStopLossExit || trade.PnLCents != -170 {
		t.Fatalf("trade = %+v, want STOP_LOSS_EXIT pnl -170", trade)
	}
	// Kalshi credit 400 minus all 20c of fees; polymarket credit 300.
	if got := l.Balance(domain.VenueKalshi); got != 10_000-450+380 {
		t.Fatalf("kalshi balance = %d, want %d", got, 10_000-450+380)
	}
	if got := l.Balance(domain.VenuePolymarket); got != 10_000-400+300 {
		t.Fatalf("polymarket balance = %d, want %d", got, 10_000-400+300)
	}

	sum := l.PortfolioSummary()
	if sum.Losses != 1 || sum.Wins != 0 {
		t.Fatalf("wins/losses = %d/%d, want 0/1", sum.Wins, sum.Losses)
	}
	if sum.WorstTradeCents != -170 {
		t.Fatalf("WorstTradeCents = %d, want -170", sum.WorstTradeCents)
	}
	if sum.RealizedPnLCents != -170 {
		t.Fatalf("RealizedPnLCents = %d, want -170", sum.RealizedPnLCents)
	}
}

func TestConcurrentCommitsSinglePosition(t *testing.T) {
	l := testLedger(&memStore{})
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	var okCount, dupCount int
	var mu sync.Mutex
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Commit(ctx, testOpp("btc-3pm", nil), 10)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				okCount++
			case errors.Is(err, domain.ErrDuplicatePosition):
				dupCount++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if okCount != 1 || dupCount != n-1 {
		t.Fatalf("ok=%d dup=%d, want 1/%d", okCount, dupCount, n-1)
	}
	if got := l.Balance(domain.VenuePolymarket); got != 10_000-400 {
		t.Fatalf("polymarket balance = %d after racing commits, want %d", got, 10_000-400)
	}
}

func TestSaveFailureDoesNotBlockTrading(t *testing.T) {
	store := &memStore{fail: true}
	l := testLedger(store)

	if _, err := l.Commit(context.Background(), testOpp("btc-3pm", nil), 5); err != nil {
		t.Fatalf("Commit with failing store: %v", err)
	}
	if got := l.Balance(domain.VenuePolymarket); got != 10_000-200 {
		t.Fatalf("balance = %d, want %d", got, 10_000-200)
	}
}

func TestLoadRestoresSnapshot(t *testing.T) {
	store := &memStore{}
	l := testLedger(store)
	ctx := context.Background()

	if err := l.Load(ctx); err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if _, err := l.Commit(ctx, testOpp("btc-3pm", nil), 10); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	restored := testLedger(store)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load snapshot: %v", err)
	}
	if got := restored.Balance(domain.VenuePolymarket); got != 10_000-400 {
		t.Fatalf("restored polymarket balance = %d, want %d", got, 10_000-400)
	}
	if len(restored.OpenPositions()) != 1 {
		t.Fatalf("restored positions = %d, want 1", len(restored.OpenPositions()))
	}
	if len(restored.Trades(0)) != 1 {
		t.Fatalf("restored trades = %d, want 1", len(restored.Trades(0)))
	}
}
