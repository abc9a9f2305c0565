package api

import (
	"net/http"
	"strconv"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/registry"
)

// AdminHandler handles legacy imports and the audit trail.
type AdminHandler struct {
	gatekeeper
	Registry *registry.Registry
	Audit    *audit.Recorder
}

// ImportPersonnel handles POST /api/import/personnel.
func (h *AdminHandler) ImportPersonnel(w http.ResponseWriter, r *http.Request) {
	h.importLegacy(w, r, model.EntityPersonnel)
}

// ImportItems handles POST /api/import/items.
func (h *AdminHandler) ImportItems(w http.ResponseWriter, r *http.Request) {
	h.importLegacy(w, r, model.EntityItem)
}

func (h *AdminHandler) importLegacy(w http.ResponseWriter, r *http.Request, entityType string) {
	var p payload.ImportLegacy
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	p.EntityType = entityType
	if err := payload.Validate(p); err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, p.Operation())
	if !ok {
		return
	}

	id, err := h.Registry.Import(r.Context(), p, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]any{"id": id, "serial": p.Serial})
}

// Entity handles GET /api/audit?entity_type=&entity_id=.
func (h *AdminHandler) Entity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType := q.Get("entity_type")
	entityID, err := strconv.ParseInt(q.Get("entity_id"), 10, 64)
	if entityType == "" || err != nil {
		writeError(w, r, apperr.Validationf("entity_type and entity_id required"))
		return
	}
	if _, ok := h.authorize(w, r, model.OpAdminFunctions); !ok {
		return
	}

	entries, err := h.Audit.ListByEntity(r.Context(), entityType, entityID)
	if err != nil {
		writeError(w, r, apperr.Internalf(err, "reading audit trail"))
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(entries))
}

// Recent handles GET /api/audit/recent?limit=.
func (h *AdminHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, apperr.Validationf("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	if _, ok := h.authorize(w, r, model.OpAdminFunctions); !ok {
		return
	}

	entries, err := h.Audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, r, apperr.Internalf(err, "reading audit trail"))
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(entries))
}
