// Package auth authenticates operators and manages their accounts.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/store"
)

// ErrInvalidCredentials is returned for a failed login, whatever the cause.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidSession is returned for a bad, expired or revoked token.
var ErrInvalidSession = errors.New("invalid session")

// Accounts handles logins, sessions and operator accounts.
type Accounts struct {
	db       *sql.DB
	secret   string
	notifier audit.Notifier
	logger   *slog.Logger
}

// NewAccounts creates an Accounts service signing tokens with secret.
func NewAccounts(db *sql.DB, secret string, notifier audit.Notifier, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{db: db, secret: secret, notifier: notifier, logger: logger}
}

// Login checks a username and password and returns a signed token.
func (a *Accounts) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	user, err := store.Users(a.db).GetByUsername(ctx, username)
	if err != nil {
		return "", nil, apperr.Internalf(err, "getting user")
	}
	if user == nil || !CheckPassword(user.PasswordHash, password) {
		a.logger.Warn("login failed", "username", username)
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(a.secret, user)
	if err != nil {
		return "", nil, apperr.Internalf(err, "generating token")
	}

	a.logger.Info("user logged in", "user", user.Username, "role", user.Role)
	return token, user, nil
}

// Verify validates a token and checks that its session is still live and
// its user still exists.
func (a *Accounts) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := ValidateToken(a.secret, tokenStr)
	if err != nil {
		return nil, ErrInvalidSession
	}

	revoked, err := store.SessionRevoked(ctx, a.db, claims.ID)
	if err != nil {
		return nil, apperr.Internalf(err, "checking session")
	}
	if revoked {
		return nil, ErrInvalidSession
	}

	user, err := store.Users(a.db).Get(ctx, claims.UserID)
	if err != nil {
		return nil, apperr.Internalf(err, "getting user")
	}
	if user == nil || user.DeletedAt != nil {
		return nil, ErrInvalidSession
	}

	// The role in the database wins over a stale token.
	claims.Role = user.Role
	claims.PersonnelID = user.PersonnelID
	return claims, nil
}

// Logout revokes the session behind claims.
func (a *Accounts) Logout(ctx context.Context, claims *Claims) error {
	if err := store.RevokeSession(ctx, a.db, claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperr.Internalf(err, "revoking session")
	}
	a.logger.Info("user logged out", "user", claims.Username)
	return nil
}

// ChangePassword replaces a user's own password after checking the current one.
func (a *Accounts) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := store.Users(a.db).Get(ctx, userID)
	if err != nil {
		return apperr.Internalf(err, "getting user")
	}
	if user == nil || user.DeletedAt != nil {
		return apperr.NotFoundf("user not found")
	}
	if !CheckPassword(user.PasswordHash, current) {
		return apperr.Validationf("current password is incorrect")
	}
	if err := model.ValidatePassword(next); err != nil {
		return apperr.Validationf("%s", err.Error())
	}

	hash, err := HashPassword(next)
	if err != nil {
		return apperr.Internalf(err, "hashing password")
	}
	if err := store.Users(a.db).UpdatePassword(ctx, userID, hash); err != nil {
		return apperr.Internalf(err, "updating password")
	}

	a.logger.Info("user changed own password", "user", user.Username)
	return nil
}

// CreateUser creates an operator account. A personnel-role account must be
// linked to an existing personnel record.
func (a *Accounts) CreateUser(ctx context.Context, p payload.CreateUser, actor model.Actor) (*model.User, error) {
	if err := payload.Validate(p); err != nil {
		return nil, err
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, apperr.Internalf(err, "hashing password")
	}

	var user *model.User
	err = store.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		if p.PersonnelID != nil {
			linked, err := store.Personnel(tx).Get(ctx, *p.PersonnelID)
			if err != nil {
				return apperr.Internalf(err, "getting personnel")
			}
			if linked == nil || linked.Deleted() {
				return apperr.NotFoundf("personnel not found")
			}
		}

		existing, err := store.Users(tx).GetByUsername(ctx, p.Username)
		if err != nil {
			return apperr.Internalf(err, "getting user")
		}
		if existing != nil {
			return apperr.Conflictf("username already exists")
		}

		user, err = store.Users(tx).Create(ctx, p.Username, hash, p.Role, p.PersonnelID)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflictf("username already exists")
			}
			return apperr.Internalf(err, "creating user")
		}

		e := audit.Entry(actor, model.EntityUser, user.ID, model.AuditCreateUser, model.OutcomeSucceeded)
		e.After = audit.Snapshot(user)
		if err := audit.WriteIntent(ctx, tx, e); err != nil {
			return apperr.Internalf(err, "recording audit intent")
		}
		return nil
	})
	a.finish(ctx, actor, 0, model.AuditCreateUser, err)
	if err != nil {
		return nil, err
	}

	a.logger.Info("user created", "user", user.Username, "role", user.Role, "by", actor.ID)
	return user, nil
}

// DeleteUser deactivates an operator account. Operators cannot delete
// themselves.
func (a *Accounts) DeleteUser(ctx context.Context, id int64, actor model.Actor) error {
	err := store.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		if id == actor.ID {
			return apperr.Conflictf("cannot delete yourself")
		}

		users := store.Users(tx)
		before, err := users.Get(ctx, id)
		if err != nil {
			return apperr.Internalf(err, "getting user")
		}
		if before == nil || before.DeletedAt != nil {
			return apperr.NotFoundf("user not found")
		}
		if _, err := users.Delete(ctx, id); err != nil {
			return apperr.Internalf(err, "deleting user")
		}

		e := audit.Entry(actor, model.EntityUser, id, model.AuditDeleteUser, model.OutcomeSucceeded)
		e.Before = audit.Snapshot(before)
		if err := audit.WriteIntent(ctx, tx, e); err != nil {
			return apperr.Internalf(err, "recording audit intent")
		}
		return nil
	})
	a.finish(ctx, actor, id, model.AuditDeleteUser, err)
	return err
}

// Users lists active operator accounts.
func (a *Accounts) Users(ctx context.Context) ([]model.User, error) {
	users, err := store.Users(a.db).List(ctx)
	if err != nil {
		return nil, apperr.Internalf(err, "listing users")
	}
	return users, nil
}

// EnsureAdmin creates the bootstrap admin account when no operator exists.
// It returns the generated password, or "" if accounts already exist.
func (a *Accounts) EnsureAdmin(ctx context.Context, username string) (string, error) {
	n, err := store.Users(a.db).Count(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}

	password, err := GeneratePassword(16)
	if err != nil {
		return "", err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	if _, err := store.Users(a.db).Create(ctx, username, hash, model.RoleAdmin, nil); err != nil {
		return "", err
	}
	return password, nil
}

func (a *Accounts) finish(ctx context.Context, actor model.Actor, id int64, action string, err error) {
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Internalf(err, "%s", action)
		}
		if apperr.KindOf(err) == apperr.Internal {
			a.logger.Error("account operation failed", "action", action, "error", err)
		}
		rejected := audit.Rejected(actor, model.EntityUser, id, action, err)
		if werr := audit.WriteIntent(context.WithoutCancel(ctx), a.db, rejected); werr != nil {
			a.logger.Error("recording rejected account audit intent", "error", werr)
		}
	}
	if a.notifier != nil {
		a.notifier.Notify()
	}
}
