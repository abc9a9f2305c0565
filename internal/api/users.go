package api

import (
	"net/http"

	"github.com/erazemk/orozarna/internal/auth"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
)

// UsersHandler handles operator account endpoints.
type UsersHandler struct {
	gatekeeper
	Accounts *auth.Accounts
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, model.OpAdminFunctions); !ok {
		return
	}

	users, err := h.Accounts.Users(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(users))
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p payload.CreateUser
	a, ok := bind(h.gatekeeper, w, r, &p)
	if !ok {
		return
	}

	user, err := h.Accounts.CreateUser(r.Context(), p, a.Actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, user)
}

// Delete handles DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, ok := h.authorize(w, r, model.OpAdminFunctions)
	if !ok {
		return
	}

	if err := h.Accounts.DeleteUser(r.Context(), id, a.Actor); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
