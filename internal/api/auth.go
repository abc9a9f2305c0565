package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/erazemk/orozarna/internal/auth"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	Accounts *auth.Accounts
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	Role        string    `json:"role"`
	PersonnelID *int64    `json:"personnel_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "username and password required")
		return
	}

	token, user, err := h.Accounts.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, loginResponse{
		Token:       token,
		Role:        user.Role,
		PersonnelID: user.PersonnelID,
		ExpiresAt:   time.Now().UTC().Add(auth.TokenExpiry),
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.Logout(r.Context(), GetClaims(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles PUT /api/auth/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		jsonError(w, http.StatusBadRequest, "current and new password required")
		return
	}

	claims := GetClaims(r.Context())
	if err := h.Accounts.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}
