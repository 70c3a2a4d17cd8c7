// Package memory provides in-process implementations of the persistence
// interfaces, used when no database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
)

// LedgerStore keeps the latest snapshot in memory.
type LedgerStore struct {
	mu   sync.Mutex
	snap *domain.LedgerSnapshot
}

func NewLedgerStore() *LedgerStore { return &LedgerStore{} }

func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	return copySnapshot(*s.snap), nil
}

func (s *LedgerStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copySnapshot(snap)
	s.snap = &c
	return nil
}

func copySnapshot(snap domain.LedgerSnapshot) domain.LedgerSnapshot {
	out := snap
	out.Balances = make(map[domain.Venue]int64, len(snap.Balances))
	for v, b := range snap.Balances {
		out.Balances[v] = b
	}
	out.Positions = append([]domain.Position(nil), snap.Positions...)
	out.Trades = append([]domain.Trade(nil), snap.Trades...)
	return out
}

// NearMissStore keeps near-miss rows in memory, ordered by observation time.
type NearMissStore struct {
	mu   sync.Mutex
	rows []domain.NearMiss
}

func NewNearMissStore() *NearMissStore { return &NearMissStore{} }

func (s *NearMissStore) Insert(ctx context.Context, nm domain.NearMiss) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, nm)
	sort.SliceStable(s.rows, func(i, j int) bool {
		return s.rows[i].ObservedAt.Before(s.rows[j].ObservedAt)
	})
	return nil
}

func (s *NearMissStore) ListRecent(ctx context.Context, limit int) ([]domain.NearMiss, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rows)
	if limit > 0 && limit < n {
		return append([]domain.NearMiss(nil), s.rows[n-limit:]...), nil
	}
	return append([]domain.NearMiss(nil), s.rows...), nil
}

func (s *NearMissStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.NearMiss, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.NearMiss
	for _, r := range s.rows {
		if r.ObservedAt.Before(cutoff) {
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *NearMissStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var deleted int64
	for _, r := range s.rows {
		if r.ObservedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return deleted, nil
}
