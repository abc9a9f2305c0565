package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/lifecycle"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/store"
)

// InventoryHandler handles inventory overview and token lookup endpoints.
type InventoryHandler struct {
	gatekeeper
	DB        *sql.DB
	Lifecycle *lifecycle.Manager
}

type inventoryResponse struct {
	Counts  []store.InventoryCount `json:"counts"`
	Holders []store.HolderSummary  `json:"holders"`
}

// List handles GET /api/inventory.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authorize(w, r, model.OpReadInventory)
	if !ok {
		return
	}

	counts, err := store.InventorySummary(r.Context(), h.DB)
	if err != nil {
		writeError(w, r, apperr.Internalf(err, "summarizing inventory"))
		return
	}
	holders, err := store.Holders(r.Context(), h.DB)
	if err != nil {
		writeError(w, r, apperr.Internalf(err, "listing holders"))
		return
	}

	if a.self() {
		var own []store.HolderSummary
		for _, hs := range holders {
			if a.PersonnelID != nil && hs.PersonnelID == *a.PersonnelID {
				own = append(own, hs)
			}
		}
		holders = own
	}

	jsonResponse(w, http.StatusOK, inventoryResponse{Counts: emptyIfNil(counts), Holders: emptyIfNil(holders)})
}

// Token handles GET /api/tokens/{ref}. Self scoped callers can only look
// up their own badge.
func (h *InventoryHandler) Token(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authorize(w, r, model.OpReadInventory)
	if !ok {
		return
	}

	token, err := h.Lifecycle.Token(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if a.self() && (token.OwnerType != model.EntityPersonnel || !a.ownsPersonnel(token.OwnerID)) {
		jsonError(w, http.StatusNotFound, "token not found")
		return
	}
	jsonResponse(w, http.StatusOK, token)
}
