package api

import (
	"net/http"
	"strconv"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/custody"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/registry"
	"github.com/erazemk/orozarna/internal/store"
)

// HeaderIdempotencyKey may carry the idempotency key of a take instead of
// the request body.
const HeaderIdempotencyKey = "Idempotency-Key"

// CustodyHandler handles take and return.
type CustodyHandler struct {
	gatekeeper
	Registry *registry.Registry
	Ledger   *custody.Ledger
}

// Take handles POST /api/custody/take.
func (h *CustodyHandler) Take(w http.ResponseWriter, r *http.Request) {
	// A key in the body wins over the header.
	p := payload.TakeCustody{IdempotencyKey: r.Header.Get(HeaderIdempotencyKey)}
	a, ok := bind(h.gatekeeper, w, r, &p)
	if !ok {
		return
	}

	itemID, personnelID, err := h.resolve(r, p.ItemRef, p.PersonnelRef)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Ledger.Take(r.Context(), custody.TakeRequest{
		ItemID:         itemID,
		PersonnelID:    personnelID,
		Actor:          a.Actor,
		Quantities:     p.Quantities.Model(),
		IdempotencyKey: p.IdempotencyKey,
		Notes:          p.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	jsonResponse(w, status, res)
}

// Return handles POST /api/custody/return.
func (h *CustodyHandler) Return(w http.ResponseWriter, r *http.Request) {
	var p payload.ReturnCustody
	a, ok := bind(h.gatekeeper, w, r, &p)
	if !ok {
		return
	}

	itemID, personnelID, err := h.resolve(r, p.ItemRef, p.PersonnelRef)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Ledger.Return(r.Context(), custody.ReturnRequest{
		ItemID:      itemID,
		PersonnelID: personnelID,
		Actor:       a.Actor,
		Quantities:  p.Quantities.Model(),
		Notes:       p.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

func (h *CustodyHandler) resolve(r *http.Request, itemRef, personnelRef string) (int64, int64, error) {
	item, err := h.Registry.ResolveItem(r.Context(), itemRef)
	if err != nil {
		return 0, 0, err
	}
	p, err := h.Registry.ResolvePersonnel(r.Context(), personnelRef)
	if err != nil {
		return 0, 0, err
	}
	return item.ID, p.ID, nil
}

// List handles GET /api/custody. Filters: item_id, personnel_id, open=true.
func (h *CustodyHandler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authorize(w, r, model.OpReadInventory)
	if !ok {
		return
	}

	q := r.URL.Query()
	var f store.CustodyFilter
	var err error
	if v := q.Get("item_id"); v != "" {
		if f.ItemID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, r, apperr.Validationf("invalid item_id"))
			return
		}
	}
	if v := q.Get("personnel_id"); v != "" {
		if f.PersonnelID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, r, apperr.Validationf("invalid personnel_id"))
			return
		}
	}
	f.OpenOnly = q.Get("open") == "true"

	if a.self() {
		if a.PersonnelID == nil {
			jsonResponse(w, http.StatusOK, []model.CustodyTransaction{})
			return
		}
		f.PersonnelID = *a.PersonnelID
	}

	list, err := h.Ledger.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(list))
}
