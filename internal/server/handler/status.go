package handler

import (
	"net/http"
	"time"

	"github.com/oddslab/pairarb/internal/risk"
)

// StatusHandler serves the bot's runtime status for the dashboard.
type StatusHandler struct {
	mode      string
	breaker   *risk.CircuitBreaker
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler for the given mode and breaker.
func NewStatusHandler(mode string, breaker *risk.CircuitBreaker) *StatusHandler {
	return &StatusHandler{mode: mode, breaker: breaker, startedAt: time.Now().UTC()}
}

// GetStatus responds with the current mode, uptime, and breaker state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"breaker":        h.breaker.Status(),
	})
}
