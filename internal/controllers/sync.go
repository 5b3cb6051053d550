package controllers

import (
	"log"
	"net/http"

	"github.com/slhuckstead/accountmap/internal/services"
)

type SyncHandler struct {
	sync         *services.SyncService
	validator    *services.Validator
	maxBodyBytes int64
}

func NewSyncHandler(sync *services.SyncService, validator *services.Validator, maxBodyBytes int64) *SyncHandler {
	return &SyncHandler{sync: sync, validator: validator, maxBodyBytes: maxBodyBytes}
}

// HandleSync handles POST /api/sync
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req, err := h.validator.DecodeSync(body)
	if err != nil {
		respondError(w, r, err)
		return
	}
	req.RequestID = RequestIDFrom(r.Context())

	if p := PrincipalFrom(r.Context()); p != nil {
		log.Printf("[sync] %s requested %s..%s", p.ID, req.StartDate.Format("2006-01-02"), req.EndDate.Format("2006-01-02"))
	}

	result, err := h.sync.Trigger(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
