package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/slhuckstead/accountmap/internal/services"
)

type ExportHandler struct {
	exports   *services.ExportService
	validator *services.Validator
	timeout   time.Duration
}

func NewExportHandler(exports *services.ExportService, validator *services.Validator, timeout time.Duration) *ExportHandler {
	return &ExportHandler{exports: exports, validator: validator, timeout: timeout}
}

// HandleExport handles GET /api/admin/mappings/export
// Errors found before the first byte get a normal error response; after that
// the stream is cut short and the failure is only logged.
func (h *ExportHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	filter, format, err := h.validator.ExportQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	plan, err := h.exports.Plan(r.Context(), filter, format)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("[export] Failed to extend write deadline: %v", err)
	}

	w.Header().Set("Content-Type", plan.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+plan.Filename+`"`)
	w.WriteHeader(http.StatusOK)

	rows, err := h.exports.Stream(ctx, plan, w, rc)
	if err != nil {
		log.Printf("[export] Request %s aborted after %d rows", RequestIDFrom(r.Context()), rows)
		return
	}
	log.Printf("[export] Request %s streamed %d rows as %s", RequestIDFrom(r.Context()), rows, plan.Format)
}
