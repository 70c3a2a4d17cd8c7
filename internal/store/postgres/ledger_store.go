package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslab/pairarb/internal/domain"
)

// LedgerStore persists ledger snapshots across the venue_balances, positions,
// trades, and ledger_stats tables.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given client.
func NewLedgerStore(client *Client) *LedgerStore {
	return &LedgerStore{pool: client.Pool()}
}

// Load reconstructs the latest snapshot. domain.ErrNotFound means the
// database has never been written to.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	var snap domain.LedgerSnapshot

	err := s.pool.QueryRow(ctx,
		`SELECT wins, losses, best_trade_cents, worst_trade_cents, saved_at
		 FROM ledger_stats WHERE id = 1`,
	).Scan(&snap.Wins, &snap.Losses, &snap.BestTradeCents, &snap.WorstTradeCents, &snap.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerSnapshot{}, domain.ErrNotFound
		}
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load stats: %w", err)
	}

	snap.Balances = make(map[domain.Venue]int64)
	rows, err := s.pool.Query(ctx, `SELECT venue, balance_cents FROM venue_balances`)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var venue string
		var cents int64
		if err := rows.Scan(&venue, &cents); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: scan balance: %w", err)
		}
		snap.Balances[domain.Venue(venue)] = cents
	}
	if err := rows.Err(); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: iterate balances: %w", err)
	}
	rows.Close()

	posRows, err := s.pool.Query(ctx,
		`SELECT id, pair_name, direction, poly_price_cents, kalshi_price_cents,
		        contracts, total_cost_cents, fees_cents, expected_net_profit_cents,
		        expires_at, entered_at
		 FROM positions ORDER BY entered_at`)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer posRows.Close()
	for posRows.Next() {
		var p domain.Position
		var direction string
		if err := posRows.Scan(&p.ID, &p.PairName, &direction, &p.PolyPriceCents,
			&p.KalshiPriceCents, &p.Contracts, &p.TotalCostCents, &p.FeesCents,
			&p.ExpectedNetProfitCents, &p.ExpiresAt, &p.EnteredAt); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Direction = domain.Direction(direction)
		snap.Positions = append(snap.Positions, p)
	}
	if err := posRows.Err(); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: iterate positions: %w", err)
	}

	tradeRows, err := s.pool.Query(ctx,
		`SELECT id, kind, pair_name, direction, contracts, cost_cents, fees_cents,
		        pnl_cents, executed_at
		 FROM trades ORDER BY executed_at`)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load trades: %w", err)
	}
	defer tradeRows.Close()
	for tradeRows.Next() {
		var t domain.Trade
		var kind, direction string
		if err := tradeRows.Scan(&t.ID, &kind, &t.PairName, &direction, &t.Contracts,
			&t.CostCents, &t.FeesCents, &t.PnLCents, &t.ExecutedAt); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Kind = domain.TradeKind(kind)
		t.Direction = domain.Direction(direction)
		snap.Trades = append(snap.Trades, t)
	}
	if err := tradeRows.Err(); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: iterate trades: %w", err)
	}

	return snap, nil
}

// Save writes the snapshot in a single transaction. Positions are replaced
// wholesale; trades are append-only and deduplicated on id.
func (s *LedgerStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	for venue, cents := range snap.Balances {
		if _, err := tx.Exec(ctx,
			`INSERT INTO venue_balances (venue, balance_cents, updated_at)
			 VALUES ($1, $2, NOW())
			 ON CONFLICT (venue) DO UPDATE
			 SET balance_cents = EXCLUDED.balance_cents, updated_at = NOW()`,
			string(venue), cents,
		); err != nil {
			return fmt.Errorf("postgres: upsert balance %s: %w", venue, err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("postgres: clear positions: %w", err)
	}
	for _, p := range snap.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (id, pair_name, direction, poly_price_cents,
			     kalshi_price_cents, contracts, total_cost_cents, fees_cents,
			     expected_net_profit_cents, expires_at, entered_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			p.ID, p.PairName, string(p.Direction), p.PolyPriceCents,
			p.KalshiPriceCents, p.Contracts, p.TotalCostCents, p.FeesCents,
			p.ExpectedNetProfitCents, p.ExpiresAt, p.EnteredAt,
		); err != nil {
			return fmt.Errorf("postgres: insert position %s: %w", p.PairName, err)
		}
	}

	for _, t := range snap.Trades {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trades (id, kind, pair_name, direction, contracts,
			     cost_cents, fees_cents, pnl_cents, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			t.ID, string(t.Kind), t.PairName, string(t.Direction), t.Contracts,
			t.CostCents, t.FeesCents, t.PnLCents, t.ExecutedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_stats (id, wins, losses, best_trade_cents, worst_trade_cents, saved_at)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET wins = EXCLUDED.wins, losses = EXCLUDED.losses,
		     best_trade_cents = EXCLUDED.best_trade_cents,
		     worst_trade_cents = EXCLUDED.worst_trade_cents,
		     saved_at = EXCLUDED.saved_at`,
		snap.Wins, snap.Losses, snap.BestTradeCents, snap.WorstTradeCents, snap.SavedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save: %w", err)
	}
	return nil
}
