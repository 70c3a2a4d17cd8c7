package handler

import (
	"net/http"

	"github.com/oddslab/pairarb/internal/ledger"
)

// PortfolioHandler serves balances, positions, and the trade journal.
type PortfolioHandler struct {
	ledger *ledger.Ledger
}

// NewPortfolioHandler creates a PortfolioHandler over the given ledger.
func NewPortfolioHandler(led *ledger.Ledger) *PortfolioHandler {
	return &PortfolioHandler{ledger: led}
}

// GetPortfolio responds with the portfolio summary, open positions, and
// recent trades.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":   h.ledger.PortfolioSummary(),
		"positions": h.ledger.OpenPositions(),
		"trades":    h.ledger.Trades(limit),
	})
}
