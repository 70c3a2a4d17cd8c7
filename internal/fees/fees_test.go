package fees

import "testing"

func TestPolymarketFeeStandardMarketsAreFree(t *testing.T) {
	for p := int64(1); p < 100; p++ {
		if got := PolymarketFeeCents(p, false); got != 0 {
			t.Fatalf("PolymarketFeeCents(%d, false)=%d want 0", p, got)
		}
	}
}

func TestPolymarketFeeFifteenMinuteCurve(t *testing.T) {
	// price^3 * (100-price)^2 / 4e8, rounded up.
	cases := []struct {
		price int64
		want  int64
	}{
		{50, 1},  // 312_500_000 / 4e8 = 0.78 -> 1
		{60, 1},  // 345_600_000 / 4e8 = 0.86 -> 1
		{2, 1},   // tiny but non-zero rounds up
		{0, 0},   // out of band
		{100, 0}, // out of band
	}
	for _, c := range cases {
		if got := PolymarketFeeCents(c.price, true); got != c.want {
			t.Errorf("PolymarketFeeCents(%d, true)=%d want %d", c.price, got, c.want)
		}
	}
}

func TestKalshiFeePeaksAtMidpoint(t *testing.T) {
	// 0.07 * p * (1-p) dollars: 1.75c/contract at 50/50, rounded up to 2.
	if got := KalshiFeeCents(50, false); got != 2 {
		t.Fatalf("KalshiFeeCents(50)=%d want 2", got)
	}
	if got := KalshiFeeCents(50, true); got != 1 {
		t.Fatalf("index KalshiFeeCents(50)=%d want 1", got)
	}
	mid := KalshiFeeCents(50, false)
	for _, p := range []int64{5, 20, 80, 95} {
		if KalshiFeeCents(p, false) > mid {
			t.Fatalf("KalshiFeeCents(%d) exceeds midpoint fee", p)
		}
	}
	if KalshiFeeCents(0, false) != 0 || KalshiFeeCents(100, false) != 0 {
		t.Fatal("fee must vanish outside (0, 100)")
	}
}

func TestResolutionProfitIdentity(t *testing.T) {
	// net == (100 - a - b) - fee(a) - fee(b), exactly, for every price pair
	// and market-class combination.
	for _, poly15 := range []bool{false, true} {
		for _, kidx := range []bool{false, true} {
			opts := ProfitOpts{PolyFifteenMinute: poly15, KalshiIndexMarket: kidx}
			for a := int64(1); a < 100; a++ {
				for b := int64(1); b < 100; b++ {
					p := ResolutionProfit(a, b, opts)
					wantGross := 100 - a - b
					wantFees := PolymarketFeeCents(a, poly15) + KalshiFeeCents(b, kidx)
					if p.GrossSpreadCents != wantGross {
						t.Fatalf("gross(%d,%d)=%d want %d", a, b, p.GrossSpreadCents, wantGross)
					}
					if p.NetProfitCents != wantGross-wantFees {
						t.Fatalf("net(%d,%d)=%d want %d", a, b, p.NetProfitCents, wantGross-wantFees)
					}
					if p.TotalCostCents != a+b {
						t.Fatalf("cost(%d,%d)=%d", a, b, p.TotalCostCents)
					}
				}
			}
		}
	}
}

func TestResolutionProfitDeterministic(t *testing.T) {
	opts := ProfitOpts{PolyFifteenMinute: true, MinNetProfitCents: 2}
	first := ResolutionProfit(47, 44, opts)
	for i := 0; i < 1000; i++ {
		if got := ResolutionProfit(47, 44, opts); got != first {
			t.Fatalf("call %d drifted: %+v != %+v", i, got, first)
		}
	}
}

func TestResolutionProfitScenario(t *testing.T) {
	// Poly YES at 40c + Kalshi NO at 45c, standard classes.
	p := ResolutionProfit(40, 45, ProfitOpts{MinNetProfitCents: 2})
	if p.GrossSpreadCents != 15 {
		t.Fatalf("gross=%d want 15", p.GrossSpreadCents)
	}
	// Standard Polymarket markets are free; only the Kalshi leg is charged.
	if p.FeesCents != KalshiFeeCents(45, false) {
		t.Fatalf("fees=%d want kalshi-only %d", p.FeesCents, KalshiFeeCents(45, false))
	}
	if p.NetProfitCents != 15-p.FeesCents {
		t.Fatalf("net=%d want %d", p.NetProfitCents, 15-p.FeesCents)
	}
	if !p.IsProfitable {
		t.Fatal("15c gross spread must clear a 2c bar")
	}
}

func TestResolutionProfitThreshold(t *testing.T) {
	// Net profit exactly at the bar is profitable; one cent under is not.
	at := ResolutionProfit(49, 49, ProfitOpts{MinNetProfitCents: 2 - KalshiFeeCents(49, false)})
	if !at.IsProfitable {
		t.Fatalf("net=%d should meet bar", at.NetProfitCents)
	}
	under := ResolutionProfit(49, 49, ProfitOpts{MinNetProfitCents: 3 - KalshiFeeCents(49, false)})
	if under.IsProfitable {
		t.Fatalf("net=%d should miss bar", under.NetProfitCents)
	}
}
