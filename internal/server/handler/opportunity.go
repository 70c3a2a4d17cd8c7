package handler

import (
	"net/http"
	"sort"

	"github.com/oddslab/pairarb/internal/domain"
	"github.com/oddslab/pairarb/internal/engine"
)

// OpportunityHandler serves live evaluations and recorded near misses.
type OpportunityHandler struct {
	engine   *engine.Engine
	nearMiss domain.NearMissStore // optional
}

// NewOpportunityHandler creates an OpportunityHandler. nearMiss may be nil.
func NewOpportunityHandler(eng *engine.Engine, nearMiss domain.NearMissStore) *OpportunityHandler {
	return &OpportunityHandler{engine: eng, nearMiss: nearMiss}
}

// ListOpportunities responds with the latest evaluation for every pair,
// best net profit first.
// GET /api/opportunities
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opps := h.engine.Opportunities()
	sort.Slice(opps, func(i, j int) bool {
		return opps[i].NetProfitCents > opps[j].NetProfitCents
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opps,
	})
}

// ListNearMisses responds with recent near-miss observations.
// GET /api/opportunities/near-misses
func (h *OpportunityHandler) ListNearMisses(w http.ResponseWriter, r *http.Request) {
	if h.nearMiss == nil {
		writeJSON(w, http.StatusOK, map[string]any{"near_misses": []domain.NearMiss{}})
		return
	}
	rows, err := h.nearMiss.ListRecent(r.Context(), parseLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list near misses")
		return
	}
	if rows == nil {
		rows = []domain.NearMiss{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"near_misses": rows})
}
