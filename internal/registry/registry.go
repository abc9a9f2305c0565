// Package registry creates and edits personnel and item records. New records
// get an allocated serial; legacy records are imported with the serial they
// already carry.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/imaging"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/serial"
	"github.com/erazemk/orozarna/internal/store"
)

// Registry runs record maintenance operations.
type Registry struct {
	db        *sql.DB
	allocator *serial.Allocator
	notifier  audit.Notifier
	logger    *slog.Logger
}

// New creates a Registry.
func New(db *sql.DB, allocator *serial.Allocator, notifier audit.Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, allocator: allocator, notifier: notifier, logger: logger}
}

// RegisterPersonnel creates a personnel record with a serial for its
// classification.
func (r *Registry) RegisterPersonnel(ctx context.Context, p payload.RegisterPersonnel, actor model.Actor) (*model.Personnel, error) {
	if err := payload.Validate(p); err != nil {
		return nil, err
	}

	var created *model.Personnel
	_, err := r.allocator.Register(ctx, r.db, p.Classification, func(tx *sql.Tx, s string) error {
		var err error
		created, err = store.Personnel(tx).Create(ctx, s, p.Name, p.Rank, p.Classification)
		if err != nil {
			return apperr.Internalf(err, "creating personnel")
		}
		return r.intent(ctx, tx, actor, model.EntityPersonnel, created.ID, model.AuditRegister, nil, created)
	})
	r.finish(ctx, actor, model.EntityPersonnel, 0, model.AuditRegister, err)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RegisterItem creates an item with a serial for its kind.
func (r *Registry) RegisterItem(ctx context.Context, p payload.RegisterItem, actor model.Actor) (*model.Item, error) {
	if err := payload.Validate(p); err != nil {
		return nil, err
	}

	var created *model.Item
	_, err := r.allocator.Register(ctx, r.db, p.Kind, func(tx *sql.Tx, s string) error {
		var err error
		created, err = store.Items(tx).Create(ctx, s, p.Kind, p.Name, p.Description)
		if err != nil {
			return apperr.Internalf(err, "creating item")
		}
		return r.intent(ctx, tx, actor, model.EntityItem, created.ID, model.AuditRegister, nil, created)
	})
	r.finish(ctx, actor, model.EntityItem, 0, model.AuditRegister, err)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Import creates a legacy record under its existing serial. The serial must
// not be carried by any record, deleted ones included. A serial in a
// configured format moves that prefix's counter past it.
func (r *Registry) Import(ctx context.Context, p payload.ImportLegacy, actor model.Actor) (int64, error) {
	if err := payload.Validate(p); err != nil {
		return 0, err
	}

	var id int64
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		taken, err := store.SerialTaken(ctx, tx, p.Serial)
		if err != nil {
			return apperr.Internalf(err, "checking serial")
		}
		if taken {
			return apperr.Conflictf("serial %s already exists", p.Serial)
		}

		var created any
		if p.EntityType == model.EntityPersonnel {
			rec, err := store.Personnel(tx).Create(ctx, p.Serial, p.Name, p.Rank, p.Classification)
			if err != nil {
				return importErr(err, p.Serial)
			}
			id, created = rec.ID, rec
		} else {
			rec, err := store.Items(tx).Create(ctx, p.Serial, p.Kind, p.Name, p.Description)
			if err != nil {
				return importErr(err, p.Serial)
			}
			id, created = rec.ID, rec
		}
		if err := r.allocator.Imported(ctx, tx, p.Serial); err != nil {
			return err
		}
		return r.intent(ctx, tx, actor, p.EntityType, id, model.AuditImport, nil, created)
	})
	r.finish(ctx, actor, p.EntityType, 0, model.AuditImport, err)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func importErr(err error, serial string) error {
	if store.IsUniqueViolation(err) {
		return apperr.Conflictf("serial %s already exists", serial)
	}
	return apperr.Internalf(err, "importing %s", serial)
}

// UpdatePersonnel edits an active personnel record.
func (r *Registry) UpdatePersonnel(ctx context.Context, id int64, p payload.UpdatePersonnel, actor model.Actor) (*model.Personnel, error) {
	if err := payload.Validate(p); err != nil {
		return nil, err
	}

	var after *model.Personnel
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		repo := store.Personnel(tx)
		before, err := repo.Get(ctx, id)
		if err != nil {
			return apperr.Internalf(err, "getting personnel")
		}
		if before == nil {
			return apperr.NotFoundf("personnel not found")
		}
		if before.Deleted() {
			return apperr.Conflictf("personnel is deleted")
		}

		if err := repo.Update(ctx, id, p.Name, p.Rank); err != nil {
			return apperr.Internalf(err, "updating personnel")
		}
		if after, err = repo.Get(ctx, id); err != nil {
			return apperr.Internalf(err, "getting personnel")
		}
		return r.intent(ctx, tx, actor, model.EntityPersonnel, id, model.AuditUpdate, before, after)
	})
	r.finish(ctx, actor, model.EntityPersonnel, id, model.AuditUpdate, err)
	if err != nil {
		return nil, err
	}
	return after, nil
}

// UpdateItem edits an active item. An issued item keeps its status; only
// the ledger moves items in and out of custody.
func (r *Registry) UpdateItem(ctx context.Context, id int64, p payload.UpdateItem, actor model.Actor) (*model.Item, error) {
	if err := payload.Validate(p); err != nil {
		return nil, err
	}

	var after *model.Item
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		repo := store.Items(tx)
		before, err := repo.Get(ctx, id)
		if err != nil {
			return apperr.Internalf(err, "getting item")
		}
		if before == nil {
			return apperr.NotFoundf("item not found")
		}
		if before.Deleted() {
			return apperr.Conflictf("item is deleted")
		}

		status := before.Status
		if p.Status != "" && p.Status != before.Status {
			if before.Status == model.ItemStatusIssued {
				return apperr.Conflictf("item is issued")
			}
			status = p.Status
		}

		if err := repo.Update(ctx, id, p.Name, p.Description, status); err != nil {
			return apperr.Internalf(err, "updating item")
		}
		if after, err = repo.Get(ctx, id); err != nil {
			return apperr.Internalf(err, "getting item")
		}
		return r.intent(ctx, tx, actor, model.EntityItem, id, model.AuditUpdate, before, after)
	})
	r.finish(ctx, actor, model.EntityItem, id, model.AuditUpdate, err)
	if err != nil {
		return nil, err
	}
	return after, nil
}

// SetPhoto normalizes an uploaded photo and stores it on an active item.
func (r *Registry) SetPhoto(ctx context.Context, id int64, upload io.Reader, actor model.Actor) error {
	photo, err := imaging.Normalize(upload)
	if err == nil {
		err = store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
			item, err := store.Items(tx).Get(ctx, id)
			if err != nil {
				return apperr.Internalf(err, "getting item")
			}
			if item == nil {
				return apperr.NotFoundf("item not found")
			}
			if item.Deleted() {
				return apperr.Conflictf("item is deleted")
			}
			if err := store.Items(tx).SetPhoto(ctx, id, photo.Data, photo.Thumb, photo.MIME); err != nil {
				return apperr.Internalf(err, "storing photo")
			}
			return r.intent(ctx, tx, actor, model.EntityItem, id, model.AuditSetPhoto, nil,
				map[string]string{"photo": photo.Describe()})
		})
	}
	r.finish(ctx, actor, model.EntityItem, id, model.AuditSetPhoto, err)
	return err
}

// Photo returns an item's stored photo or thumbnail.
func (r *Registry) Photo(ctx context.Context, id int64, thumb bool) ([]byte, string, error) {
	data, mime, err := store.Items(r.db).Photo(ctx, id, thumb)
	if err != nil {
		return nil, "", apperr.Internalf(err, "getting photo")
	}
	if len(data) == 0 {
		return nil, "", apperr.NotFoundf("photo not found")
	}
	return data, mime, nil
}

// ResolveItem finds an item by serial or by the reference ID of its active
// credential token.
func (r *Registry) ResolveItem(ctx context.Context, ref string) (*model.Item, error) {
	if ownerID, ok, err := r.resolveToken(ctx, ref, model.EntityItem); err != nil {
		return nil, err
	} else if ok {
		return r.Item(ctx, ownerID)
	}

	item, err := store.Items(r.db).GetBySerial(ctx, ref)
	if err != nil {
		return nil, apperr.Internalf(err, "resolving item")
	}
	if item == nil {
		return nil, apperr.NotFoundf("item %s not found", ref)
	}
	return item, nil
}

// ResolvePersonnel finds a personnel record by serial or badge token.
func (r *Registry) ResolvePersonnel(ctx context.Context, ref string) (*model.Personnel, error) {
	if ownerID, ok, err := r.resolveToken(ctx, ref, model.EntityPersonnel); err != nil {
		return nil, err
	} else if ok {
		return r.Personnel(ctx, ownerID)
	}

	p, err := store.Personnel(r.db).GetBySerial(ctx, ref)
	if err != nil {
		return nil, apperr.Internalf(err, "resolving personnel")
	}
	if p == nil {
		return nil, apperr.NotFoundf("personnel %s not found", ref)
	}
	return p, nil
}

// resolveToken reports the owner of ref when ref is a token reference ID.
// Deactivated tokens are rejected.
func (r *Registry) resolveToken(ctx context.Context, ref, ownerType string) (int64, bool, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return 0, false, nil
	}

	token, err := store.Credentials(r.db).GetByReference(ctx, ref)
	if err != nil {
		return 0, false, apperr.Internalf(err, "resolving token")
	}
	if token == nil {
		return 0, false, apperr.NotFoundf("token not found")
	}
	if token.OwnerType != ownerType {
		return 0, false, apperr.Validationf("token does not belong to a %s", ownerType)
	}
	if !token.Active {
		return 0, false, apperr.Conflictf("token is deactivated")
	}
	return token.OwnerID, true, nil
}

// Item returns an item by ID.
func (r *Registry) Item(ctx context.Context, id int64) (*model.Item, error) {
	item, err := store.Items(r.db).Get(ctx, id)
	if err != nil {
		return nil, apperr.Internalf(err, "getting item")
	}
	if item == nil {
		return nil, apperr.NotFoundf("item not found")
	}
	return item, nil
}

// Personnel returns a personnel record by ID.
func (r *Registry) Personnel(ctx context.Context, id int64) (*model.Personnel, error) {
	p, err := store.Personnel(r.db).Get(ctx, id)
	if err != nil {
		return nil, apperr.Internalf(err, "getting personnel")
	}
	if p == nil {
		return nil, apperr.NotFoundf("personnel not found")
	}
	return p, nil
}

// Items lists items. Deleted items are included only when asked for.
func (r *Registry) Items(ctx context.Context, f store.ItemFilter, includeDeleted bool) ([]model.Item, error) {
	repo := store.Items(r.db)
	var list []model.Item
	var err error
	if includeDeleted {
		list, err = repo.All(ctx, f)
	} else {
		list, err = repo.ActiveOnly(ctx, f)
	}
	if err != nil {
		return nil, apperr.Internalf(err, "listing items")
	}
	return list, nil
}

// PersonnelList lists personnel records.
func (r *Registry) PersonnelList(ctx context.Context, f store.PersonnelFilter, includeDeleted bool) ([]model.Personnel, error) {
	repo := store.Personnel(r.db)
	var list []model.Personnel
	var err error
	if includeDeleted {
		list, err = repo.All(ctx, f)
	} else {
		list, err = repo.ActiveOnly(ctx, f)
	}
	if err != nil {
		return nil, apperr.Internalf(err, "listing personnel")
	}
	return list, nil
}

func (r *Registry) intent(ctx context.Context, tx *sql.Tx, actor model.Actor, entityType string, id int64, action string, before, after any) error {
	e := audit.Entry(actor, entityType, id, action, model.OutcomeSucceeded)
	e.Before = audit.Snapshot(before)
	e.After = audit.Snapshot(after)
	if err := audit.WriteIntent(ctx, tx, e); err != nil {
		return apperr.Internalf(err, "recording audit intent")
	}
	return nil
}

// finish audits a failed operation and wakes the audit relay.
func (r *Registry) finish(ctx context.Context, actor model.Actor, entityType string, id int64, action string, err error) {
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) || ae.Kind == apperr.Internal {
			r.logger.Error("registry operation failed", "action", action, "entity_type", entityType,
				"entity_id", id, "error", err)
		}
		rejected := audit.Rejected(actor, entityType, id, action, err)
		if werr := audit.WriteIntent(context.WithoutCancel(ctx), r.db, rejected); werr != nil {
			r.logger.Error("recording rejected registry audit intent", "error", werr)
		}
	}
	if r.notifier != nil {
		r.notifier.Notify()
	}
}
