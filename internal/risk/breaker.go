// Package risk implements the circuit breaker that gates all new trades.
// Failure never propagates as a panic or process exit from here; it is
// recorded as state and the system keeps serving reads.
package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
)

// TripCause records why the breaker tripped; it determines whether the
// UTC-midnight rollover may automatically re-arm.
type TripCause string

const (
	CauseNone        TripCause = ""
	CauseDailyLoss   TripCause = "daily_loss"
	CauseErrors      TripCause = "consecutive_errors"
	CausePartialFill TripCause = "partial_fill"
)

// Config holds the breaker's risk limits.
type Config struct {
	MaxDailyLossCents    int64
	MaxConsecutiveErrors int
	MaxContractsPerPair  int64
	MaxTotalContracts    int64
	MaxDailyTrades       int
	// AlertCooldown throttles trip notifications only; it never shortens
	// a trip. A tripped breaker keeps denying until reset.
	AlertCooldown time.Duration
}

// Status is the breaker's read model, exposed verbatim to dashboards.
type Status struct {
	Tripped           bool      `json:"tripped"`
	TripReason        string    `json:"trip_reason,omitempty"`
	TripCause         TripCause `json:"trip_cause,omitempty"`
	TrippedAt         time.Time `json:"tripped_at,omitzero"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	DailyLossCents    int64     `json:"daily_loss_cents"`
	DailyTradeCount   int       `json:"daily_trade_count"`
	LastResetDate     string    `json:"last_reset_date"`
}

// Decision is the outcome of a pre-trade check. Err classifies a denial with
// a domain sentinel so callers can branch with errors.Is; Reason carries the
// human-readable detail shown verbatim on dashboards.
type Decision struct {
	Allowed bool
	Reason  string
	Err     error
}

// CircuitBreaker is a two-state (armed/tripped) risk machine. Armed -> tripped
// on daily loss, consecutive errors, or a partial fill; tripped -> armed only
// via explicit reset, or at UTC midnight when the cause was the daily-loss
// limit. Partial-fill and error trips indicate an unreliable execution path
// and always require manual intervention.
type CircuitBreaker struct {
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time
	onTrip func(cause TripCause, reason string)

	mu                sync.Mutex
	tripped           bool
	tripReason        string
	tripCause         TripCause
	trippedAt         time.Time
	consecutiveErrors int
	dailyLossCents    int64
	dailyTradeCount   int
	lastResetDay      string
	lastAlertAt       time.Time
}

// New creates an armed CircuitBreaker.
func New(cfg Config, logger *slog.Logger) *CircuitBreaker {
	b := &CircuitBreaker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "circuit_breaker")),
		nowFn:  time.Now,
	}
	b.lastResetDay = b.nowFn().UTC().Format(time.DateOnly)
	return b
}

// SetOnTrip registers a callback fired when the breaker trips, subject to the
// alert cooldown. Must be called before the breaker is shared.
func (b *CircuitBreaker) SetOnTrip(fn func(cause TripCause, reason string)) {
	b.onTrip = fn
}

// Check decides whether a new trade of the given size may proceed. Position
// caps are enforced from the supplied ledger context even while armed.
func (b *CircuitBreaker) Check(opp domain.Opportunity, pos domain.PositionContext, contracts int64) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	if b.tripped {
		return Decision{Allowed: false, Reason: b.tripReason, Err: domain.ErrBreakerTripped}
	}
	if b.cfg.MaxDailyTrades > 0 && b.dailyTradeCount >= b.cfg.MaxDailyTrades {
		return Decision{Allowed: false, Reason: fmt.Sprintf(
			"Daily trade limit reached (%d/%d)", b.dailyTradeCount, b.cfg.MaxDailyTrades),
			Err: domain.ErrPositionCapExceeded}
	}
	if b.cfg.MaxContractsPerPair > 0 && pos.ContractsForPair+contracts > b.cfg.MaxContractsPerPair {
		return Decision{Allowed: false, Reason: fmt.Sprintf(
			"Position cap for %s: %d held + %d requested > %d max",
			opp.PairName, pos.ContractsForPair, contracts, b.cfg.MaxContractsPerPair),
			Err: domain.ErrPositionCapExceeded}
	}
	if b.cfg.MaxTotalContracts > 0 && pos.TotalContracts+contracts > b.cfg.MaxTotalContracts {
		return Decision{Allowed: false, Reason: fmt.Sprintf(
			"Total position cap: %d held + %d requested > %d max",
			pos.TotalContracts, contracts, b.cfg.MaxTotalContracts),
			Err: domain.ErrPositionCapExceeded}
	}
	return Decision{Allowed: true}
}

// RecordSuccess notes a clean commit: the consecutive-error streak resets and
// the daily trade counter advances.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()
	b.consecutiveErrors = 0
	b.dailyTradeCount++
}

// RecordError notes a failed commit. A partial-fill error trips immediately,
// bypassing the consecutive-error counter; one is enough. Otherwise the
// streak advances and trips at the configured threshold.
func (b *CircuitBreaker) RecordError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	if IsPartialFill(err) {
		b.tripLocked(CausePartialFill, "Partial fill detected: "+err.Error())
		return
	}
	b.consecutiveErrors++
	if b.cfg.MaxConsecutiveErrors > 0 && b.consecutiveErrors >= b.cfg.MaxConsecutiveErrors {
		b.tripLocked(CauseErrors, fmt.Sprintf(
			"Too many consecutive execution errors (%d); last: %v", b.consecutiveErrors, err))
	}
}

// RecordTimeout notes a commit whose outcome is unknown. The streak advances
// but the trip threshold is deliberately not evaluated: an ambiguous outcome
// is not evidence of a broken execution path on its own.
func (b *CircuitBreaker) RecordTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()
	b.consecutiveErrors++
}

// RecordLoss accumulates realized daily loss and trips when the limit is hit.
func (b *CircuitBreaker) RecordLoss(cents int64) {
	if cents <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()
	b.dailyLossCents += cents
	if b.cfg.MaxDailyLossCents > 0 && !b.tripped && b.dailyLossCents >= b.cfg.MaxDailyLossCents {
		b.tripLocked(CauseDailyLoss, fmt.Sprintf(
			"Daily loss limit reached: %dc lost of %dc allowed", b.dailyLossCents, b.cfg.MaxDailyLossCents))
	}
}

// Reset re-arms the breaker manually, clearing the trip and the error streak.
// Daily loss and trade counters are kept; they roll at UTC midnight.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		b.logger.Info("breaker manually reset",
			slog.String("previous_reason", b.tripReason),
		)
	}
	b.untripLocked()
}

// ResetDaily clears the daily loss and trade counters without touching any
// trip state. It exists for the administrative surface; the automatic
// rollover happens on the first call after UTC midnight.
func (b *CircuitBreaker) ResetDaily() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyLossCents = 0
	b.dailyTradeCount = 0
	b.lastResetDay = b.nowFn().UTC().Format(time.DateOnly)
}

// Status returns the breaker's current state. The reason string is reported
// verbatim.
func (b *CircuitBreaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()
	return Status{
		Tripped:           b.tripped,
		TripReason:        b.tripReason,
		TripCause:         b.tripCause,
		TrippedAt:         b.trippedAt,
		ConsecutiveErrors: b.consecutiveErrors,
		DailyLossCents:    b.dailyLossCents,
		DailyTradeCount:   b.dailyTradeCount,
		LastResetDate:     b.lastResetDay,
	}
}

// rollDayLocked resets daily counters on the first call after UTC midnight
// and re-arms the breaker when the trip cause was the daily-loss limit.
func (b *CircuitBreaker) rollDayLocked() {
	day := b.nowFn().UTC().Format(time.DateOnly)
	if day == b.lastResetDay {
		return
	}
	b.lastResetDay = day
	b.dailyLossCents = 0
	b.dailyTradeCount = 0
	if b.tripped && b.tripCause == CauseDailyLoss {
		b.logger.Info("daily rollover cleared daily-loss trip",
			slog.String("day", day),
		)
		b.untripLocked()
	}
}

func (b *CircuitBreaker) tripLocked(cause TripCause, reason string) {
	if b.tripped {
		// Already tripped; first cause wins.
		return
	}
	now := b.nowFn().UTC()
	b.tripped = true
	b.tripCause = cause
	b.tripReason = reason
	b.trippedAt = now
	b.logger.Error("circuit breaker tripped",
		slog.String("cause", string(cause)),
		slog.String("reason", reason),
	)
	if b.onTrip != nil && now.Sub(b.lastAlertAt) >= b.cfg.AlertCooldown {
		b.lastAlertAt = now
		// Fired without holding callers up; the callback must not call
		// back into the breaker.
		go b.onTrip(cause, reason)
	}
}

func (b *CircuitBreaker) untripLocked() {
	b.tripped = false
	b.tripCause = CauseNone
	b.tripReason = ""
	b.trippedAt = time.Time{}
	b.consecutiveErrors = 0
}

// IsPartialFill reports whether err carries the partial-fill signal, either
// as the sentinel or in its message. Checked unconditionally on every
// recorded error.
func IsPartialFill(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrPartialFill) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "partial fill") || strings.Contains(msg, "partially filled")
}
