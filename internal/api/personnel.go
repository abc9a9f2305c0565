package api

import (
	"context"
	"net/http"

	"github.com/erazemk/orozarna/internal/custody"
	"github.com/erazemk/orozarna/internal/lifecycle"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/registry"
	"github.com/erazemk/orozarna/internal/store"
)

type lifecycleOp func(ctx context.Context, ref model.EntityRef, actor model.Actor) error

// PersonnelHandler handles personnel endpoints.
type PersonnelHandler struct {
	gatekeeper
	Registry  *registry.Registry
	Lifecycle *lifecycle.Manager
	Ledger    *custody.Ledger
}

type personnelStatus struct {
	*model.Personnel
	Holding []model.CustodyTransaction `json:"holding"`
}

// List handles GET /api/personnel.
func (h *PersonnelHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authorize(w, r, model.OpReadPersonnelStatus)
	if !ok {
		return
	}

	if a.self() {
		if a.PersonnelID == nil {
			jsonResponse(w, http.StatusOK, []model.Personnel{})
			return
		}
		p, err := h.Registry.Personnel(r.Context(), *a.PersonnelID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, http.StatusOK, []model.Personnel{*p})
		return
	}

	q := r.URL.Query()
	f := store.PersonnelFilter{Classification: q.Get("classification"), Status: q.Get("status")}
	list, err := h.Registry.PersonnelList(r.Context(), f, q.Get("include_deleted") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(list))
}

// Get handles GET /api/personnel/{id}. The response includes the items the
// person currently holds.
func (h *PersonnelHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpReadPersonnelStatus)
	if !ok {
		return
	}
	if !a.ownsPersonnel(id) {
		jsonError(w, http.StatusNotFound, "personnel not found")
		return
	}

	p, err := h.Registry.Personnel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	holding, err := h.Ledger.OpenCustody(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, personnelStatus{Personnel: p, Holding: emptyIfNil(holding)})
}

// Create handles POST /api/personnel.
func (h *PersonnelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p payload.RegisterPersonnel
	a, ok := bind(h.gatekeeper, w, r, &p)
	if !ok {
		return
	}

	created, err := h.Registry.RegisterPersonnel(r.Context(), p, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

// Update handles PUT /api/personnel/{id}.
func (h *PersonnelHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var p payload.UpdatePersonnel
	a, ok := bind(h.gatekeeper, w, r, &p)
	if !ok {
		return
	}

	updated, err := h.Registry.UpdatePersonnel(r.Context(), id, p, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/personnel/{id}.
func (h *PersonnelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Lifecycle.SoftDelete)
}

// Restore handles POST /api/personnel/{id}/restore.
func (h *PersonnelHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Lifecycle.Restore)
}

func (h *PersonnelHandler) lifecycle(w http.ResponseWriter, r *http.Request, op lifecycleOp) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpModifyPersonnel)
	if !ok {
		return
	}

	if err := op(r.Context(), model.EntityRef{Type: model.EntityPersonnel, ID: id}, a.Actor); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.Registry.Personnel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// IssueToken handles POST /api/personnel/{id}/token.
func (h *PersonnelHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpModifyPersonnel)
	if !ok {
		return
	}

	token, err := h.Lifecycle.IssueToken(r.Context(), model.EntityRef{Type: model.EntityPersonnel, ID: id}, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, token)
}

// Custody handles GET /api/personnel/{id}/custody.
func (h *PersonnelHandler) Custody(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpReadPersonnelStatus)
	if !ok {
		return
	}
	if !a.ownsPersonnel(id) {
		jsonError(w, http.StatusNotFound, "personnel not found")
		return
	}

	history, err := h.Ledger.ListByPersonnel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(history))
}
