package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/store"
)

var adminActor = model.Actor{ID: 1, Role: model.RoleAdmin, Origin: model.OriginLAN}

func newAccounts(t *testing.T) (*Accounts, *audit.MemoryStore) {
	t.Helper()
	database := db.NewTestDB(t)
	trail := audit.NewMemoryStore()
	recorder := audit.NewRecorder(trail, audit.Options{Sync: true, Outbox: database})
	return NewAccounts(database, "test-secret", recorder, nil), trail
}

func TestEnsureAdminAndLogin(t *testing.T) {
	accounts, _ := newAccounts(t)
	ctx := context.Background()

	password, err := accounts.EnsureAdmin(ctx, "admin")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if password == "" {
		t.Fatal("expected a generated password")
	}

	again, err := accounts.EnsureAdmin(ctx, "admin")
	if err != nil {
		t.Fatalf("EnsureAdmin again: %v", err)
	}
	if again != "" {
		t.Error("expected no second admin")
	}

	token, user, err := accounts.Login(ctx, "admin", password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Role != model.RoleAdmin {
		t.Errorf("expected admin role, got %q", user.Role)
	}

	claims, err := accounts.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("expected user %d, got %d", user.ID, claims.UserID)
	}

	if _, _, err := accounts.Login(ctx, "admin", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected invalid credentials, got %v", err)
	}
	if _, _, err := accounts.Login(ctx, "nobody", password); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected invalid credentials, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	accounts, _ := newAccounts(t)
	ctx := context.Background()

	password, _ := accounts.EnsureAdmin(ctx, "admin")
	token, _, err := accounts.Login(ctx, "admin", password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := accounts.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if err := accounts.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := accounts.Verify(ctx, token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected revoked session, got %v", err)
	}
}

func TestCreateAndDeleteUser(t *testing.T) {
	accounts, trail := newAccounts(t)
	ctx := context.Background()
	if _, err := accounts.EnsureAdmin(ctx, "admin"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}

	soldier, err := store.Personnel(accounts.db).Create(ctx, "E-00001", "Novak", "Pvt", model.ClassificationEnlisted)
	if err != nil {
		t.Fatalf("creating personnel: %v", err)
	}

	user, err := accounts.CreateUser(ctx, payload.CreateUser{
		Username: "novak", Password: "password1", Role: model.RolePersonnel, PersonnelID: &soldier.ID,
	}, adminActor)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == adminActor.ID {
		t.Fatalf("new user must not share the acting admin's id %d", user.ID)
	}

	_, err = accounts.CreateUser(ctx, payload.CreateUser{Username: "novak", Password: "password2", Role: model.RoleArmorer}, adminActor)
	if !errors.Is(err, apperr.Conflict) {
		t.Errorf("expected conflict for duplicate username, got %v", err)
	}

	token, _, err := accounts.Login(ctx, "novak", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := accounts.DeleteUser(ctx, user.ID, adminActor); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := accounts.Verify(ctx, token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected deleted user's session to be invalid, got %v", err)
	}
	if err := accounts.DeleteUser(ctx, user.ID, adminActor); !errors.Is(err, apperr.NotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}

	entries, err := trail.ListByEntity(ctx, model.EntityUser, user.ID)
	if err != nil {
		t.Fatalf("ListByEntity: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(entries))
	}
	if entries[0].Action != model.AuditCreateUser || entries[1].Action != model.AuditDeleteUser {
		t.Errorf("unexpected actions: %s, %s", entries[0].Action, entries[1].Action)
	}
	if entries[2].Outcome != model.OutcomeRejected {
		t.Errorf("expected rejected delete, got %s", entries[2].Outcome)
	}
}

func TestCreateUserUnknownPersonnel(t *testing.T) {
	accounts, _ := newAccounts(t)
	pid := int64(42)

	_, err := accounts.CreateUser(context.Background(), payload.CreateUser{
		Username: "ghost", Password: "password1", Role: model.RolePersonnel, PersonnelID: &pid,
	}, adminActor)
	if !errors.Is(err, apperr.NotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteSelf(t *testing.T) {
	accounts, _ := newAccounts(t)
	ctx := context.Background()
	if _, err := accounts.EnsureAdmin(ctx, "admin"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}

	if err := accounts.DeleteUser(ctx, 1, adminActor); !errors.Is(err, apperr.Conflict) {
		t.Errorf("expected conflict deleting self, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	accounts, _ := newAccounts(t)
	ctx := context.Background()
	password, _ := accounts.EnsureAdmin(ctx, "admin")

	if err := accounts.ChangePassword(ctx, 1, "wrong", "newpassword"); !errors.Is(err, apperr.Validation) {
		t.Errorf("expected validation error for wrong current password, got %v", err)
	}
	if err := accounts.ChangePassword(ctx, 1, password, "short"); !errors.Is(err, apperr.Validation) {
		t.Errorf("expected validation error for short password, got %v", err)
	}
	if err := accounts.ChangePassword(ctx, 1, password, "newpassword"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := accounts.Login(ctx, "admin", "newpassword"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}
