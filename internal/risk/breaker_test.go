package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() Config {
	return Config{
		MaxDailyLossCents:    5000,
		MaxConsecutiveErrors: 3,
		MaxContractsPerPair:  100,
		MaxTotalContracts:    500,
		MaxDailyTrades:       50,
		AlertCooldown:        5 * time.Minute,
	}
}

func opp(pair string) domain.Opportunity {
	return domain.Opportunity{PairName: pair, NetProfitCents: 10, IsProfitable: true}
}

func TestCheckAllowedWhileArmed(t *testing.T) {
	b := New(testConfig(), testLogger())
	d := b.Check(opp("fed-cut"), domain.PositionContext{}, 10)
	if !d.Allowed {
		t.Fatalf("armed breaker denied: %s", d.Reason)
	}
}

func TestDailyLossTripsAtLimit(t *testing.T) {
	b := New(testConfig(), testLogger())

	// Three losses accumulate to exactly the configured max.
	b.RecordLoss(2000)
	b.RecordLoss(2000)
	if d := b.Check(opp("fed-cut"), domain.PositionContext{}, 1); !d.Allowed {
		t.Fatalf("denied before limit: %s", d.Reason)
	}
	b.RecordLoss(1000)

	d := b.Check(opp("fed-cut"), domain.PositionContext{}, 1)
	if d.Allowed {
		t.Fatal("check allowed after daily loss limit")
	}
	if !strings.Contains(d.Reason, "Daily loss limit") {
		t.Fatalf("reason %q missing %q", d.Reason, "Daily loss limit")
	}
}

func TestDailyLossTripClearsAtMidnight(t *testing.T) {
	b := New(testConfig(), testLogger())
	now := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }
	b.lastResetDay = now.Format(time.DateOnly)

	b.RecordLoss(5000)
	if d := b.Check(opp("x"), domain.PositionContext{}, 1); d.Allowed {
		t.Fatal("should be tripped")
	}

	now = now.Add(time.Hour) // past UTC midnight
	st := b.Status()
	if st.Tripped {
		t.Fatalf("daily-loss trip should clear at rollover: %+v", st)
	}
	if st.DailyLossCents != 0 || st.DailyTradeCount != 0 {
		t.Fatalf("daily counters should reset: %+v", st)
	}
}

func TestPartialFillTripsImmediatelyAndSticks(t *testing.T) {
	b := New(testConfig(), testLogger())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }
	b.lastResetDay = now.Format(time.DateOnly)

	b.RecordError(fmt.Errorf("place legs: %w", domain.ErrPartialFill))

	if d := b.Check(opp("x"), domain.PositionContext{}, 1); d.Allowed {
		t.Fatal("partial fill did not trip")
	}

	// Neither successes, nor the cooldown window elapsing, nor the
	// midnight rollover may clear a partial-fill trip.
	b.RecordSuccess()
	now = now.Add(24 * time.Hour)
	if d := b.Check(opp("x"), domain.PositionContext{}, 1); d.Allowed {
		t.Fatal("partial-fill trip cleared without manual reset")
	}

	b.Reset()
	if d := b.Check(opp("x"), domain.PositionContext{}, 1); !d.Allowed {
		t.Fatalf("denied after manual reset: %s", d.Reason)
	}
}

func TestPartialFillDetectedFromMessage(t *testing.T) {
	b := New(testConfig(), testLogger())
	b.RecordError(errors.New("kalshi: order partially filled: 4/10"))
	if st := b.Status(); !st.Tripped || st.TripCause != CausePartialFill {
		t.Fatalf("message-based partial fill not detected: %+v", st)
	}
}

func TestConsecutiveErrorsTripAtThreshold(t *testing.T) {
	b := New(testConfig(), testLogger())
	clean := errors.New("venue rejected order")

	b.RecordError(clean)
	b.RecordError(clean)
	if st := b.Status(); st.Tripped {
		t.Fatal("tripped below threshold")
	}
	b.RecordError(clean)
	st := b.Status()
	if !st.Tripped || st.TripCause != CauseErrors {
		t.Fatalf("expected error trip at threshold: %+v", st)
	}

	// Error trips survive the midnight rollover.
	now := time.Now().UTC().Add(48 * time.Hour)
	b.nowFn = func() time.Time { return now }
	if st := b.Status(); !st.Tripped {
		t.Fatal("error trip cleared by rollover")
	}
}

func TestRecordSuccessResetsStreak(t *testing.T) {
	b := New(testConfig(), testLogger())
	clean := errors.New("venue rejected order")
	b.RecordError(clean)
	b.RecordError(clean)
	b.RecordSuccess()
	b.RecordError(clean)
	b.RecordError(clean)
	if st := b.Status(); st.Tripped {
		t.Fatalf("streak did not reset on success: %+v", st)
	}
}

func TestTimeoutIncrementsWithoutTripping(t *testing.T) {
	b := New(testConfig(), testLogger())
	for i := 0; i < 10; i++ {
		b.RecordTimeout()
	}
	st := b.Status()
	if st.Tripped {
		t.Fatal("timeouts alone must not trip the breaker")
	}
	if st.ConsecutiveErrors != 10 {
		t.Fatalf("consecutive_errors=%d want 10", st.ConsecutiveErrors)
	}
	// The accumulated streak counts when a clean error follows.
	b.RecordError(errors.New("venue rejected order"))
	if st := b.Status(); !st.Tripped {
		t.Fatal("clean error after timeout streak should trip")
	}
}

func TestPositionCaps(t *testing.T) {
	b := New(testConfig(), testLogger())

	d := b.Check(opp("fed-cut"), domain.PositionContext{ContractsForPair: 95}, 10)
	if d.Allowed {
		t.Fatal("per-pair cap not enforced")
	}
	if !strings.Contains(d.Reason, "Position cap") {
		t.Fatalf("reason %q", d.Reason)
	}

	d = b.Check(opp("fed-cut"), domain.PositionContext{TotalContracts: 495}, 10)
	if d.Allowed {
		t.Fatal("total cap not enforced")
	}
	if !strings.Contains(d.Reason, "Total position cap") {
		t.Fatalf("reason %q", d.Reason)
	}
}

func TestDailyTradeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyTrades = 2
	b := New(cfg, testLogger())
	b.RecordSuccess()
	b.RecordSuccess()
	d := b.Check(opp("x"), domain.PositionContext{}, 1)
	if d.Allowed {
		t.Fatal("daily trade limit not enforced")
	}
	if !strings.Contains(d.Reason, "Daily trade limit") {
		t.Fatalf("reason %q", d.Reason)
	}
}

func TestOnTripCooldownThrottlesAlertsOnly(t *testing.T) {
	cfg := testConfig()
	b := New(cfg, testLogger())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }
	b.lastResetDay = now.Format(time.DateOnly)

	alerts := make(chan TripCause, 4)
	b.SetOnTrip(func(cause TripCause, _ string) { alerts <- cause })

	// Recent alert: within the cooldown the trip still lands, silently.
	b.lastAlertAt = now.Add(-time.Minute)
	b.RecordError(fmt.Errorf("poly leg: %w", domain.ErrPartialFill))

	if d := b.Check(opp("x"), domain.PositionContext{}, 1); d.Allowed {
		t.Fatal("throttled alert must not weaken the trip")
	}
	select {
	case c := <-alerts:
		t.Fatalf("alert %q fired inside cooldown", c)
	case <-time.After(50 * time.Millisecond):
	}
}
