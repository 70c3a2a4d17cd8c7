package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddslab/pairarb/internal/domain"
)

// SimulatedPlacer is an in-process domain.OrderPlacer used in sim mode and
// tests. Every order fills instantly after an optional latency, except for
// the injected failure cadences.
type SimulatedPlacer struct {
	latency time.Duration
	// FailEvery / PartialEvery make every n-th order fail; zero disables.
	failEvery    int
	partialEvery int
	logger       *slog.Logger

	mu    sync.Mutex
	count int
}

// NewSimulatedPlacer creates a placer with the given simulated venue latency.
func NewSimulatedPlacer(latency time.Duration, logger *slog.Logger) *SimulatedPlacer {
	return &SimulatedPlacer{
		latency: latency,
		logger:  logger.With(slog.String("component", "sim_placer")),
	}
}

// InjectFailures configures deterministic failures: every failEvery-th order
// is rejected cleanly, every partialEvery-th order reports a partial fill.
func (p *SimulatedPlacer) InjectFailures(failEvery, partialEvery int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failEvery = failEvery
	p.partialEvery = partialEvery
}

// PlaceLegs simulates filling both legs of the order.
func (p *SimulatedPlacer) PlaceLegs(ctx context.Context, order domain.LegOrder) (domain.LegReceipt, error) {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.LegReceipt{}, ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.count++
	n := p.count
	failEvery, partialEvery := p.failEvery, p.partialEvery
	p.mu.Unlock()

	if partialEvery > 0 && n%partialEvery == 0 {
		return domain.LegReceipt{}, fmt.Errorf(
			"sim: kalshi leg for %s filled, polymarket leg rejected: %w",
			order.PairName, domain.ErrPartialFill)
	}
	if failEvery > 0 && n%failEvery == 0 {
		return domain.LegReceipt{}, fmt.Errorf("sim: venue rejected order for %s", order.PairName)
	}

	receipt := domain.LegReceipt{
		PolyOrderID:   uuid.New().String(),
		KalshiOrderID: uuid.New().String(),
		FilledAt:      time.Now().UTC(),
	}
	p.logger.Debug("simulated fill",
		slog.String("pair", order.PairName),
		slog.String("direction", string(order.Direction)),
		slog.Int64("contracts", order.Contracts),
	)
	return receipt, nil
}
