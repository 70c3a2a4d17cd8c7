package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
	"github.com/oddslab/pairarb/internal/engine"
)

// PairsHandler serves the matched-pair set and its runtime mutations.
type PairsHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewPairsHandler creates a PairsHandler.
func NewPairsHandler(eng *engine.Engine, logger *slog.Logger) *PairsHandler {
	return &PairsHandler{engine: eng, logger: logger}
}

// ListPairs responds with every configured pair.
// GET /api/pairs
func (h *PairsHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pairs": h.engine.Pairs(),
	})
}

type addPairRequest struct {
	Name              string     `json:"name"`
	PolymarketToken   string     `json:"polymarket_token"`
	KalshiTicker      string     `json:"kalshi_ticker"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PolyFifteenMinute bool       `json:"poly_fifteen_minute"`
	KalshiIndexMarket bool       `json:"kalshi_index_market"`
}

// AddPair registers a new matched pair for evaluation.
// POST /api/pairs
func (h *PairsHandler) AddPair(w http.ResponseWriter, r *http.Request) {
	var req addPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair := domain.MatchedPair{
		Name:              req.Name,
		PolymarketToken:   req.PolymarketToken,
		KalshiTicker:      req.KalshiTicker,
		ExpiresAt:         req.ExpiresAt,
		PolyFifteenMinute: req.PolyFifteenMinute,
		KalshiIndexMarket: req.KalshiIndexMarket,
	}
	if err := h.engine.AddPair(pair); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Info("pair added via api",
		slog.String("pair", pair.Name),
		slog.String("remote_addr", r.RemoteAddr),
	)
	writeJSON(w, http.StatusCreated, pair)
}

// RemovePair stops evaluating a pair. Any open position survives in the
// ledger and is still resolved by the sweeper.
// DELETE /api/pairs/{name}
func (h *PairsHandler) RemovePair(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "pair name required")
		return
	}
	if !h.engine.RemovePair(name) {
		writeError(w, http.StatusNotFound, "pair not found")
		return
	}
	h.logger.Info("pair removed via api",
		slog.String("pair", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}
