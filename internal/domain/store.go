package domain

import (
	"context"
	"io"
	"time"
)

// LedgerSnapshot is the full persisted state of the position ledger. It is
// loaded once at startup and rewritten after every mutating ledger operation.
type LedgerSnapshot struct {
	Balances        map[Venue]int64
	Positions       []Position
	Trades          []Trade
	Wins            int
	Losses          int
	BestTradeCents  int64
	WorstTradeCents int64
	SavedAt         time.Time
}

// LedgerStore persists ledger snapshots. Load returns ErrNotFound when no
// snapshot has been saved yet.
type LedgerStore interface {
	Load(ctx context.Context) (LedgerSnapshot, error)
	Save(ctx context.Context, snap LedgerSnapshot) error
}

// NearMissStore persists near-miss opportunities for offline tuning.
type NearMissStore interface {
	Insert(ctx context.Context, nm NearMiss) error
	ListRecent(ctx context.Context, limit int) ([]NearMiss, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]NearMiss, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuoteCache is an optional read model holding the latest accepted quote per
// venue instrument and the latest opportunity snapshot per pair, published
// for external dashboards.
type QuoteCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, venue Venue, instrumentID string) (PriceQuote, error)
	SetOpportunity(ctx context.Context, opp Opportunity) error
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
