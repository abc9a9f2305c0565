package api

import (
	"net/http"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/authz"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
)

// access is what an authorized request may do.
type access struct {
	Actor model.Actor
	Scope authz.Scope
	// PersonnelID is the caller's own personnel record, if linked.
	PersonnelID *int64
}

// self reports whether reads are limited to the caller's own records.
func (a access) self() bool { return a.Scope == authz.ScopeSelf }

// ownsPersonnel reports whether a self scoped caller may see personnel id.
func (a access) ownsPersonnel(id int64) bool {
	return !a.self() || (a.PersonnelID != nil && *a.PersonnelID == id)
}

// gatekeeper asks the authorization gate about every request.
type gatekeeper struct {
	Gate *authz.Gate
}

// authorize runs the gate for op and writes a 403 on denial.
func (g gatekeeper) authorize(w http.ResponseWriter, r *http.Request, op model.Operation) (access, bool) {
	o := originOf(r.Context())
	req := authz.Request{
		Origin:     o.Class,
		Operation:  op,
		DeviceAddr: o.Addr,
		DeviceID:   o.DeviceID,
		RequestID:  RequestID(r.Context()),
	}
	claims := GetClaims(r.Context())
	if claims != nil {
		req.Role = claims.Role
		req.ActorID = claims.UserID
	}

	d := g.Gate.Authorize(r.Context(), req)
	if !d.Allowed {
		writeError(w, r, apperr.New(apperr.Unauthorized, d.Reason))
		return access{}, false
	}

	a := access{
		Actor: model.Actor{ID: req.ActorID, Role: req.Role, Origin: o.Class, RequestID: req.RequestID},
		Scope: d.Scope,
	}
	if claims != nil {
		a.PersonnelID = claims.PersonnelID
	}
	return a, true
}

// bind decodes and validates a payload, then authorizes its operation.
// Schema errors are reported before the gate runs.
func bind[P payload.Payload](g gatekeeper, w http.ResponseWriter, r *http.Request, p *P) (access, bool) {
	if err := decodeJSON(r, p); err != nil {
		writeError(w, r, err)
		return access{}, false
	}
	if err := payload.Validate(*p); err != nil {
		writeError(w, r, err)
		return access{}, false
	}
	return g.authorize(w, r, (*p).Operation())
}
