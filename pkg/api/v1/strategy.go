package v1

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/coordination"
	"github.com/labfleet/repair-engine/pkg/models"
)

// StrategyHandler serves the registered strategy graphs
type StrategyHandler struct {
	coord *coordination.Coordinator
	log   *logrus.Logger
}

// NewStrategyHandler creates a new strategy handler
func NewStrategyHandler(coord *coordination.Coordinator, log *logrus.Logger) *StrategyHandler {
	return &StrategyHandler{
		coord: coord,
		log:   log,
	}
}

// RegisterRoutes registers strategy API routes
func (h *StrategyHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/strategies", h.ListStrategies).Methods("GET")
	router.HandleFunc("/api/v1/strategies/{name}", h.GetStrategy).Methods("GET")
}

// ListStrategies handles GET /api/v1/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := h.coord.Strategies()
	out := make([]models.StrategyDescription, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, s.Describe())
	}
	respondJSON(w, h.log, http.StatusOK, out, "")
}

// GetStrategy handles GET /api/v1/strategies/{name}
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s, ok := h.coord.Strategy(name)
	if !ok {
		respondError(w, h.log, http.StatusNotFound, "strategy not found: "+name)
		return
	}
	respondJSON(w, h.log, http.StatusOK, s.Describe(), "")
}
