package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/mapper"
	"github.com/slhuckstead/accountmap/internal/services"
)

type MappingsHandler struct {
	registry     *services.MappingRegistry
	lookup       *mapper.Lookup
	validator    *services.Validator
	maxBodyBytes int64
}

func NewMappingsHandler(registry *services.MappingRegistry, lookup *mapper.Lookup, validator *services.Validator, maxBodyBytes int64) *MappingsHandler {
	return &MappingsHandler{
		registry:     registry,
		lookup:       lookup,
		validator:    validator,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandlePublicList handles GET /api/mappings
func (h *MappingsHandler) HandlePublicList(w http.ResponseWriter, r *http.Request) {
	filter, err := h.validator.ListQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	page, err := h.lookup.Page(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// HandleResolve handles GET /api/mappings/resolve
func (h *MappingsHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	source, identifier, err := h.validator.ResolveQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	m, err := h.lookup.Account(r.Context(), source, identifier)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// HandleListMappings handles GET /api/admin/mappings
func (h *MappingsHandler) HandleListMappings(w http.ResponseWriter, r *http.Request) {
	filter, err := h.validator.ListQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	page, err := h.registry.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *MappingsHandler) HandleCreateMapping(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		respondError(w, r, err)
		return
	}

	in, err := h.validator.DecodeMapping(body)
	if err != nil {
		respondError(w, r, err)
		return
	}

	m, err := h.registry.Create(r.Context(), in, PrincipalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (h *MappingsHandler) HandleGetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *MappingsHandler) HandleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		respondError(w, r, err)
		return
	}

	in, err := h.validator.DecodeMapping(body)
	if err != nil {
		respondError(w, r, err)
		return
	}

	m, err := h.registry.Update(r.Context(), id, in, PrincipalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *MappingsHandler) HandleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.registry.Delete(r.Context(), id, PrincipalFrom(r.Context())); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, domains.DeleteResponse{Deleted: true, ID: id})
}
