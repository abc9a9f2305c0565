// Package lifecycle soft-deletes and restores personnel and items, and
// manages the credential tokens bound to them.
//
// Soft-deleting an entity deactivates exactly that entity's tokens. Restoring
// it never reactivates them; a fresh token has to be issued.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/store"
)

// Manager runs lifecycle operations.
type Manager struct {
	db       *sql.DB
	notifier audit.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a Manager over the primary database.
func NewManager(db *sql.DB, notifier audit.Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, notifier: notifier, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// entity is the part of an item or personnel record lifecycle cares about.
type entity struct {
	snapshot any
	deleted  bool
	issued   bool
}

func load(ctx context.Context, q store.Querier, ref model.EntityRef) (*entity, error) {
	switch ref.Type {
	case model.EntityItem:
		item, err := store.Items(q).Get(ctx, ref.ID)
		if err != nil || item == nil {
			return nil, err
		}
		return &entity{snapshot: item, deleted: item.Deleted(), issued: item.Status == model.ItemStatusIssued}, nil
	case model.EntityPersonnel:
		p, err := store.Personnel(q).Get(ctx, ref.ID)
		if err != nil || p == nil {
			return nil, err
		}
		n, err := store.Custody(q).CountOpenByPersonnel(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &entity{snapshot: p, deleted: p.Deleted(), issued: n > 0}, nil
	}
	return nil, apperr.Validationf("unknown entity type %q", ref.Type)
}

func loadExisting(ctx context.Context, q store.Querier, ref model.EntityRef) (*entity, error) {
	e, err := load(ctx, q, ref)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.Internalf(err, "loading %s", ref.Type)
	}
	if e == nil {
		return nil, apperr.NotFoundf("%s not found", ref.Type)
	}
	return e, nil
}

// SoftDelete hides an entity and deactivates its credential tokens. An
// entity with items in custody cannot be deleted.
func (m *Manager) SoftDelete(ctx context.Context, ref model.EntityRef, actor model.Actor) error {
	return m.run(ctx, ref, actor, model.AuditSoftDelete, func(tx *sql.Tx) (model.AuditEntry, error) {
		before, err := loadExisting(ctx, tx, ref)
		if err != nil {
			return model.AuditEntry{}, err
		}
		if before.deleted {
			return model.AuditEntry{}, apperr.Conflictf("already deleted")
		}
		if before.issued {
			return model.AuditEntry{}, apperr.Conflictf("active custody exists")
		}

		now := m.now()
		if ref.Type == model.EntityItem {
			err = store.Items(tx).SoftDelete(ctx, ref.ID, now)
		} else {
			err = store.Personnel(tx).SoftDelete(ctx, ref.ID, now)
		}
		if err != nil {
			return model.AuditEntry{}, apperr.Internalf(err, "deleting %s", ref.Type)
		}

		n, err := store.Credentials(tx).Deactivate(ctx, ref.Type, ref.ID, now)
		if err != nil {
			return model.AuditEntry{}, apperr.Internalf(err, "deactivating tokens")
		}

		after, err := loadExisting(ctx, tx, ref)
		if err != nil {
			return model.AuditEntry{}, err
		}

		e := audit.Entry(actor, ref.Type, ref.ID, model.AuditSoftDelete, model.OutcomeSucceeded)
		e.Before = audit.Snapshot(before.snapshot)
		e.After = audit.Snapshot(struct {
			Entity            any   `json:"entity"`
			TokensDeactivated int64 `json:"tokens_deactivated"`
		}{after.snapshot, n})
		return e, nil
	})
}

// Restore undoes a soft delete and puts the entity back in its prior status.
// Its tokens stay inactive.
func (m *Manager) Restore(ctx context.Context, ref model.EntityRef, actor model.Actor) error {
	return m.run(ctx, ref, actor, model.AuditRestore, func(tx *sql.Tx) (model.AuditEntry, error) {
		before, err := loadExisting(ctx, tx, ref)
		if err != nil {
			return model.AuditEntry{}, err
		}
		if !before.deleted {
			return model.AuditEntry{}, apperr.Conflictf("not deleted")
		}

		if ref.Type == model.EntityItem {
			err = store.Items(tx).Restore(ctx, ref.ID)
		} else {
			err = store.Personnel(tx).Restore(ctx, ref.ID)
		}
		if err != nil {
			return model.AuditEntry{}, apperr.Internalf(err, "restoring %s", ref.Type)
		}

		after, err := loadExisting(ctx, tx, ref)
		if err != nil {
			return model.AuditEntry{}, err
		}

		e := audit.Entry(actor, ref.Type, ref.ID, model.AuditRestore, model.OutcomeSucceeded)
		e.Before = audit.Snapshot(before.snapshot)
		e.After = audit.Snapshot(after.snapshot)
		return e, nil
	})
}

// IssueToken replaces an entity's active credential token with a new one.
func (m *Manager) IssueToken(ctx context.Context, ref model.EntityRef, actor model.Actor) (*model.CredentialToken, error) {
	var token *model.CredentialToken
	err := m.run(ctx, ref, actor, model.AuditIssueToken, func(tx *sql.Tx) (model.AuditEntry, error) {
		ent, err := loadExisting(ctx, tx, ref)
		if err != nil {
			return model.AuditEntry{}, err
		}
		if ent.deleted {
			return model.AuditEntry{}, apperr.Conflictf("%s is deleted", ref.Type)
		}

		now := m.now()
		creds := store.Credentials(tx)
		n, err := creds.Deactivate(ctx, ref.Type, ref.ID, now)
		if err != nil {
			return model.AuditEntry{}, apperr.Internalf(err, "deactivating tokens")
		}
		token, err = creds.Issue(ctx, uuid.NewString(), ref.Type, ref.ID, now)
		if err != nil {
			return model.AuditEntry{}, apperr.Internalf(err, "issuing token")
		}

		e := audit.Entry(actor, ref.Type, ref.ID, model.AuditIssueToken, model.OutcomeSucceeded)
		e.After = audit.Snapshot(struct {
			ReferenceID string `json:"reference_id"`
			Replaced    int64  `json:"replaced"`
		}{token.ReferenceID, n})
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Tokens returns every token ever issued to an entity.
func (m *Manager) Tokens(ctx context.Context, ref model.EntityRef) ([]model.CredentialToken, error) {
	tokens, err := store.Credentials(m.db).ListFor(ctx, ref.Type, ref.ID)
	if err != nil {
		return nil, apperr.Internalf(err, "listing tokens")
	}
	return tokens, nil
}

// Token looks up a token by its reference ID.
func (m *Manager) Token(ctx context.Context, referenceID string) (*model.CredentialToken, error) {
	token, err := store.Credentials(m.db).GetByReference(ctx, referenceID)
	if err != nil {
		return nil, apperr.Internalf(err, "getting token")
	}
	if token == nil {
		return nil, apperr.NotFoundf("token not found")
	}
	return token, nil
}

// run executes op in a transaction that also stores op's audit intent. A
// failed op is audited as rejected outside the rolled back transaction.
func (m *Manager) run(ctx context.Context, ref model.EntityRef, actor model.Actor, action string, op func(tx *sql.Tx) (model.AuditEntry, error)) error {
	err := store.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		e, err := op(tx)
		if err != nil {
			return err
		}
		if err := audit.WriteIntent(ctx, tx, e); err != nil {
			return apperr.Internalf(err, "recording audit intent")
		}
		return nil
	})

	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Internalf(err, "%s %s", action, ref.Type)
		}
		if apperr.KindOf(err) == apperr.Internal {
			m.logger.Error("lifecycle operation failed", "action", action, "entity_type", ref.Type,
				"entity_id", ref.ID, "error", err)
		}
		rejected := audit.Rejected(actor, ref.Type, ref.ID, action, err)
		if werr := audit.WriteIntent(context.WithoutCancel(ctx), m.db, rejected); werr != nil {
			m.logger.Error("recording rejected lifecycle audit intent", "error", werr)
		}
	}

	if m.notifier != nil {
		m.notifier.Notify()
	}
	return err
}
