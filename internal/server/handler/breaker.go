package handler

import (
	"log/slog"
	"net/http"

	"github.com/oddslab/pairarb/internal/risk"
)

// BreakerHandler exposes circuit-breaker state and the manual reset
// operations.
type BreakerHandler struct {
	breaker *risk.CircuitBreaker
	logger  *slog.Logger
}

// NewBreakerHandler creates a BreakerHandler.
func NewBreakerHandler(breaker *risk.CircuitBreaker, logger *slog.Logger) *BreakerHandler {
	return &BreakerHandler{breaker: breaker, logger: logger}
}

// GetBreaker responds with the current breaker status.
// GET /api/breaker
func (h *BreakerHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breaker.Status())
}

// Reset re-arms a tripped breaker. This is the operator acknowledging the
// trip cause has been dealt with.
// POST /api/breaker/reset
func (h *BreakerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("breaker manually reset", slog.String("remote_addr", r.RemoteAddr))
	h.breaker.Reset()
	writeJSON(w, http.StatusOK, h.breaker.Status())
}

// ResetDaily clears the daily loss and trade counters without touching a
// non-daily trip.
// POST /api/breaker/reset-daily
func (h *BreakerHandler) ResetDaily(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("breaker daily counters manually reset", slog.String("remote_addr", r.RemoteAddr))
	h.breaker.ResetDaily()
	writeJSON(w, http.StatusOK, h.breaker.Status())
}
