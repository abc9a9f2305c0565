package api

import (
	"net/http"

	"github.com/erazemk/orozarna/internal/custody"
	"github.com/erazemk/orozarna/internal/imaging"
	"github.com/erazemk/orozarna/internal/lifecycle"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/registry"
	"github.com/erazemk/orozarna/internal/store"
)

// ItemsHandler handles item endpoints.
type ItemsHandler struct {
	gatekeeper
	Registry  *registry.Registry
	Lifecycle *lifecycle.Manager
	Ledger    *custody.Ledger
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authorize(w, r, model.OpReadInventory)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := store.ItemFilter{Kind: q.Get("kind"), Status: q.Get("status")}
	if a.self() {
		if a.PersonnelID == nil {
			jsonResponse(w, http.StatusOK, []model.Item{})
			return
		}
		f.CustodianID = *a.PersonnelID
	}

	items, err := h.Registry.Items(r.Context(), f, q.Get("include_deleted") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(items))
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpReadInventory)
	if !ok {
		return
	}

	item, ok := h.visible(w, r, a, id)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// visible loads item id, hiding it from self scoped callers who do not
// hold it.
func (h *ItemsHandler) visible(w http.ResponseWriter, r *http.Request, a access, id int64) (*model.Item, bool) {
	item, err := h.Registry.Item(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if a.self() && (item.CustodianID == nil || !a.ownsPersonnel(*item.CustodianID)) {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	return item, true
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p payload.RegisterItem
	a, ok := bind(h.gatekeeper, w, r, &p)
	if !ok {
		return
	}

	item, err := h.Registry.RegisterItem(r.Context(), p, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var p payload.UpdateItem
	a, ok := bind(h.gatekeeper, w, r, &p)
	if !ok {
		return
	}

	item, err := h.Registry.UpdateItem(r.Context(), id, p, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Lifecycle.SoftDelete)
}

// Restore handles POST /api/items/{id}/restore.
func (h *ItemsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Lifecycle.Restore)
}

func (h *ItemsHandler) lifecycle(w http.ResponseWriter, r *http.Request, op lifecycleOp) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpModifyItem)
	if !ok {
		return
	}

	if err := op(r.Context(), model.EntityRef{Type: model.EntityItem, ID: id}, a.Actor); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Registry.Item(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// IssueToken handles POST /api/items/{id}/token.
func (h *ItemsHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpModifyItem)
	if !ok {
		return
	}

	token, err := h.Lifecycle.IssueToken(r.Context(), model.EntityRef{Type: model.EntityItem, ID: id}, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, token)
}

// UploadPhoto handles PUT /api/items/{id}/photo. The body is the raw image.
func (h *ItemsHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpModifyItem)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1)
	defer body.Close()

	if err := h.Registry.SetPhoto(r.Context(), id, body, a.Actor); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPhoto handles GET /api/items/{id}/photo. ?thumb=true returns the thumbnail.
func (h *ItemsHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpReadInventory)
	if !ok {
		return
	}
	if _, ok := h.visible(w, r, a, id); !ok {
		return
	}

	data, mime, err := h.Registry.Photo(r.Context(), id, r.URL.Query().Get("thumb") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Write(data)
}

// Custody handles GET /api/items/{id}/custody.
func (h *ItemsHandler) Custody(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpReadInventory)
	if !ok {
		return
	}

	f := store.CustodyFilter{ItemID: id}
	if a.self() {
		if a.PersonnelID == nil {
			jsonResponse(w, http.StatusOK, []model.CustodyTransaction{})
			return
		}
		f.PersonnelID = *a.PersonnelID
	}

	history, err := h.Ledger.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(history))
}
