package domain

import "time"

// Position is a committed two-leg holding. Created only by a successful
// commit; at most one open Position exists per pair name. Destroyed by
// resolution or a stop-loss exit, never mutated otherwise.
type Position struct {
	ID                     string
	PairName               string
	Direction              Direction
	PolyPriceCents         int64 // entry price of the Polymarket leg, per contract
	KalshiPriceCents       int64 // entry price of the Kalshi leg, per contract
	Contracts              int64
	TotalCostCents         int64 // both legs, all contracts
	FeesCents              int64 // total fees across both legs
	ExpectedNetProfitCents int64
	ExpiresAt              *time.Time
	EnteredAt              time.Time
}

// TradeKind classifies entries in the append-only trade journal.
type TradeKind string

const (
	TradeEntry        TradeKind = "ENTRY"
	TradeResolve      TradeKind = "RESOLVE"
	TradeStopLossExit TradeKind = "STOP_LOSS_EXIT"
)

// Trade is an immutable journal record of an entry, resolution, or stop-loss
// exit. Used for audit and P&L reconstruction; never deleted.
type Trade struct {
	ID         string
	Kind       TradeKind
	PairName   string
	Direction  Direction
	Contracts  int64
	CostCents  int64 // total entry cost of the underlying position
	FeesCents  int64
	PnLCents   int64 // zero for ENTRY records
	ExecutedAt time.Time
}

// PositionContext carries the ledger's current exposure figures into the
// circuit breaker's position-cap checks.
type PositionContext struct {
	ContractsForPair int64
	TotalContracts   int64
}

// PortfolioSummary is the ledger's side-effect-free read model for dashboards.
type PortfolioSummary struct {
	PolymarketBalanceCents int64
	KalshiBalanceCents     int64
	OpenPositions          int
	OpenCostCents          int64
	ExpectedProfitCents    int64
	RealizedPnLCents       int64
	Wins                   int
	Losses                 int
	BestTradeCents         int64
	WorstTradeCents        int64
	TradeCount             int
}
