package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslab/pairarb/internal/domain"
)

// NearMissStore persists near-miss observations for later export.
type NearMissStore struct {
	pool *pgxpool.Pool
}

// NewNearMissStore creates a NearMissStore backed by the given client.
func NewNearMissStore(client *Client) *NearMissStore {
	return &NearMissStore{pool: client.Pool()}
}

func (s *NearMissStore) Insert(ctx context.Context, nm domain.NearMiss) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO near_misses (id, pair_name, direction, gross_spread_cents,
		     fees_cents, net_profit_cents, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		nm.ID, nm.PairName, string(nm.Direction), nm.GrossSpreadCents,
		nm.FeesCents, nm.NetProfitCents, nm.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert near miss: %w", err)
	}
	return nil
}

func (s *NearMissStore) ListRecent(ctx context.Context, limit int) ([]domain.NearMiss, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, pair_name, direction, gross_spread_cents, fees_cents,
		        net_profit_cents, observed_at
		 FROM near_misses ORDER BY observed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list near misses: %w", err)
	}
	defer rows.Close()
	return scanNearMisses(rows)
}

func (s *NearMissStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.NearMiss, error) {
	if limit <= 0 {
		limit = 10_000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, pair_name, direction, gross_spread_cents, fees_cents,
		        net_profit_cents, observed_at
		 FROM near_misses WHERE observed_at < $1
		 ORDER BY observed_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list near misses before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return scanNearMisses(rows)
}

func (s *NearMissStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM near_misses WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete near misses: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanNearMisses(rows pgxRows) ([]domain.NearMiss, error) {
	var out []domain.NearMiss
	for rows.Next() {
		var nm domain.NearMiss
		var direction string
		if err := rows.Scan(&nm.ID, &nm.PairName, &direction, &nm.GrossSpreadCents,
			&nm.FeesCents, &nm.NetProfitCents, &nm.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan near miss: %w", err)
		}
		nm.Direction = domain.Direction(direction)
		out = append(out, nm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate near misses: %w", err)
	}
	return out, nil
}
