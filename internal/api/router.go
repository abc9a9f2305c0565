package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/auth"
	"github.com/erazemk/orozarna/internal/authz"
	"github.com/erazemk/orozarna/internal/custody"
	"github.com/erazemk/orozarna/internal/lifecycle"
	"github.com/erazemk/orozarna/internal/origin"
	"github.com/erazemk/orozarna/internal/registry"
)

// Deps are the services behind the API.
type Deps struct {
	DB             *sql.DB
	Accounts       *auth.Accounts
	Gate           *authz.Gate
	Ledger         *custody.Ledger
	Registry       *registry.Registry
	Lifecycle      *lifecycle.Manager
	Audit          *audit.Recorder
	Resolver       origin.Resolver
	Classifier     *origin.Classifier
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	gk := gatekeeper{Gate: d.Gate}

	authHandler := &AuthHandler{Accounts: d.Accounts}
	usersHandler := &UsersHandler{gatekeeper: gk, Accounts: d.Accounts}
	itemsHandler := &ItemsHandler{gatekeeper: gk, Registry: d.Registry, Lifecycle: d.Lifecycle, Ledger: d.Ledger}
	personnelHandler := &PersonnelHandler{gatekeeper: gk, Registry: d.Registry, Lifecycle: d.Lifecycle, Ledger: d.Ledger}
	custodyHandler := &CustodyHandler{gatekeeper: gk, Registry: d.Registry, Ledger: d.Ledger}
	inventoryHandler := &InventoryHandler{gatekeeper: gk, DB: d.DB, Lifecycle: d.Lifecycle}
	adminHandler := &AdminHandler{gatekeeper: gk, Registry: d.Registry, Audit: d.Audit}

	authMW := AuthMiddleware(d.Accounts)
	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Session.
	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))

	// Operator accounts.
	mux.Handle("GET /api/users", authed(usersHandler.List))
	mux.Handle("POST /api/users", authed(usersHandler.Create))
	mux.Handle("DELETE /api/users/{id}", authed(usersHandler.Delete))

	// Items.
	mux.Handle("GET /api/items", authed(itemsHandler.List))
	mux.Handle("POST /api/items", authed(itemsHandler.Create))
	mux.Handle("GET /api/items/{id}", authed(itemsHandler.Get))
	mux.Handle("PUT /api/items/{id}", authed(itemsHandler.Update))
	mux.Handle("DELETE /api/items/{id}", authed(itemsHandler.Delete))
	mux.Handle("POST /api/items/{id}/restore", authed(itemsHandler.Restore))
	mux.Handle("POST /api/items/{id}/token", authed(itemsHandler.IssueToken))
	mux.Handle("PUT /api/items/{id}/photo", authed(itemsHandler.UploadPhoto))
	mux.Handle("GET /api/items/{id}/photo", authed(itemsHandler.GetPhoto))
	mux.Handle("GET /api/items/{id}/custody", authed(itemsHandler.Custody))

	// Personnel.
	mux.Handle("GET /api/personnel", authed(personnelHandler.List))
	mux.Handle("POST /api/personnel", authed(personnelHandler.Create))
	mux.Handle("GET /api/personnel/{id}", authed(personnelHandler.Get))
	mux.Handle("PUT /api/personnel/{id}", authed(personnelHandler.Update))
	mux.Handle("DELETE /api/personnel/{id}", authed(personnelHandler.Delete))
	mux.Handle("POST /api/personnel/{id}/restore", authed(personnelHandler.Restore))
	mux.Handle("POST /api/personnel/{id}/token", authed(personnelHandler.IssueToken))
	mux.Handle("GET /api/personnel/{id}/custody", authed(personnelHandler.Custody))

	// Custody.
	mux.Handle("POST /api/custody/take", authed(custodyHandler.Take))
	mux.Handle("POST /api/custody/return", authed(custodyHandler.Return))
	mux.Handle("GET /api/custody", authed(custodyHandler.List))

	// Inventory and credential lookups.
	mux.Handle("GET /api/inventory", authed(inventoryHandler.List))
	mux.Handle("GET /api/tokens/{ref}", authed(inventoryHandler.Token))

	// Administration.
	mux.Handle("POST /api/import/personnel", authed(adminHandler.ImportPersonnel))
	mux.Handle("POST /api/import/items", authed(adminHandler.ImportItems))
	mux.Handle("GET /api/audit", authed(adminHandler.Entity))
	mux.Handle("GET /api/audit/recent", authed(adminHandler.Recent))

	var h http.Handler = mux
	h = TimeoutMiddleware(d.RequestTimeout)(h)
	h = OriginMiddleware(d.Resolver, d.Classifier)(h)
	h = RequestIDMiddleware(h)
	h = LoggingMiddleware(d.Logger)(h)
	return h
}
