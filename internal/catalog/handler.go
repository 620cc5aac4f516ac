package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"examforge/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type optionRequest struct {
	Value    string `json:"value"`
	Position int    `json:"position"`
	IsActive *bool  `json:"is_active"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req optionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.CreateOption(r.Context(), CreateOptionInput{
		Kind:     chi.URLParam(r, "kind"),
		Value:    req.Value,
		Position: req.Position,
	})
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if raw := r.URL.Query().Get("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "include_inactive must be a boolean")
			return
		}
		includeInactive = v
	}

	items, err := h.svc.ListOptions(r.Context(), chi.URLParam(r, "kind"), includeInactive)
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "optionID"), 10, 64)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid option id")
		return
	}

	var req optionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	out, err := h.svc.UpdateOption(r.Context(), id, UpdateOptionInput{
		Value:    req.Value,
		Position: req.Position,
		IsActive: isActive,
	})
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "optionID"), 10, 64)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid option id")
		return
	}

	if err := h.svc.DeactivateOption(r.Context(), id); err != nil {
		writeCatalogError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"deactivated": true})
}

func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportOptionsCSV(r.Context(), file)
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}

	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	})
}

func writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOptionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "catalog option not found")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
