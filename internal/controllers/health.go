package controllers

import (
	"net/http"

	"github.com/slhuckstead/accountmap/internal/services"
)

type HealthHandler struct {
	health *services.HealthService
}

func NewHealthHandler(health *services.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// HandleHealth answers 200 with the dependency report, or 500 when the
// service is too misconfigured to run.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.health.Check(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, report)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
