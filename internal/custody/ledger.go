// Package custody records items being taken from and returned to the armory.
//
// Take and Return for one item are serialized by a keyed lock on the item.
// Inside the lock the item is re-read, the transition is written together
// with its audit intent in one transaction, and the lock is released before
// the audit recorder is notified.
package custody

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/keylock"
	"github.com/erazemk/orozarna/internal/metrics"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/store"
)

// MaxIdempotencyKeyLength bounds client supplied idempotency keys.
const MaxIdempotencyKeyLength = 128

// TakeRequest asks for an item to be issued to a personnel record.
type TakeRequest struct {
	ItemID         int64
	PersonnelID    int64
	Actor          model.Actor
	Quantities     model.Quantities
	IdempotencyKey string
	Notes          string
}

// ReturnRequest asks for an issued item to be returned.
type ReturnRequest struct {
	ItemID      int64
	PersonnelID int64
	Actor       model.Actor
	Quantities  model.Quantities
	Notes       string
}

// Result is the outcome of a successful Take or Return.
type Result struct {
	Transaction *model.CustodyTransaction `json:"transaction"`
	// Replayed is set when a Take with the same idempotency key already
	// existed and was returned instead of creating a new one.
	Replayed bool `json:"replayed"`
}

// Options configure a Ledger.
type Options struct {
	LockWait time.Duration
	Notifier audit.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Ledger runs custody transitions.
type Ledger struct {
	db       *sql.DB
	locker   keylock.Locker
	lockWait time.Duration
	notifier audit.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedger creates a Ledger over the primary database.
func NewLedger(db *sql.DB, locker keylock.Locker, opts Options) *Ledger {
	if opts.LockWait <= 0 {
		opts.LockWait = 2 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{
		db:       db,
		locker:   locker,
		lockWait: opts.LockWait,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// checkOrigin refuses transitions that did not come from the LAN even if a
// caller skipped the authorization gate.
func checkOrigin(actor model.Actor) error {
	if actor.Origin != model.OriginLAN {
		return apperr.New(apperr.Unauthorized, "origin_not_permitted")
	}
	return nil
}

func validateQuantities(q model.Quantities) error {
	if q.Magazines < 0 {
		return apperr.Validationf("magazines must not be negative")
	}
	if q.Rounds < 0 {
		return apperr.Validationf("rounds must not be negative")
	}
	return nil
}

// Take issues an item to a personnel record. A repeated request with the
// same idempotency key returns the original transaction.
func (l *Ledger) Take(ctx context.Context, req TakeRequest) (*Result, error) {
	res, err := l.take(ctx, req)
	l.finish(ctx, model.ActionTake, req.ItemID, req.Actor, res, err)
	return res, err
}

func (l *Ledger) take(ctx context.Context, req TakeRequest) (*Result, error) {
	if err := checkOrigin(req.Actor); err != nil {
		return nil, err
	}
	if err := validateQuantities(req.Quantities); err != nil {
		return nil, err
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return nil, apperr.Validationf("idempotency key too long")
	}

	if res, err := l.replay(ctx, l.db, req); res != nil || err != nil {
		return res, err
	}

	release, err := l.lockItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	defer release()

	var res *Result
	err = store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		// A concurrent request with the same key may have won the lock first.
		replayed, err := l.replay(ctx, tx, req)
		if err != nil {
			return err
		}
		if replayed != nil {
			res = replayed
			return nil
		}

		item, err := store.Items(tx).Get(ctx, req.ItemID)
		if err != nil {
			return apperr.Internalf(err, "loading item")
		}
		if item == nil {
			return apperr.NotFoundf("item not found")
		}
		if item.Status == model.ItemStatusIssued {
			return apperr.Conflictf("item already issued")
		}
		if item.Deleted() || item.Status != model.ItemStatusAvailable {
			return apperr.Conflictf("item not available")
		}

		p, err := store.Personnel(tx).Get(ctx, req.PersonnelID)
		if err != nil {
			return apperr.Internalf(err, "loading personnel")
		}
		if p == nil {
			return apperr.NotFoundf("personnel not found")
		}
		if p.Deleted() || p.Status != model.PersonnelStatusActive {
			return apperr.Conflictf("personnel inactive")
		}

		ok, err := store.Items(tx).SetCustody(ctx, item.ID, model.ItemStatusAvailable, model.ItemStatusIssued, &p.ID)
		if err != nil {
			return apperr.Internalf(err, "issuing item")
		}
		if !ok {
			return apperr.Conflictf("item already issued")
		}

		t, err := store.Custody(tx).Insert(ctx, &model.CustodyTransaction{
			ItemID:         item.ID,
			PersonnelID:    p.ID,
			Action:         model.ActionTake,
			Timestamp:      l.now(),
			IssuedBy:       req.Actor.ID,
			Magazines:      req.Quantities.Magazines,
			Rounds:         req.Quantities.Rounds,
			OriginClass:    string(req.Actor.Origin),
			IdempotencyKey: req.IdempotencyKey,
			Notes:          req.Notes,
		})
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflictf("item already issued")
			}
			return apperr.Internalf(err, "recording take")
		}

		e := audit.Entry(req.Actor, model.EntityItem, item.ID, model.AuditTake, model.OutcomeSucceeded)
		e.Before = audit.Snapshot(item)
		e.After = audit.Snapshot(t)
		if err := audit.WriteIntent(ctx, tx, e); err != nil {
			return apperr.Internalf(err, "recording audit intent")
		}

		res = &Result{Transaction: t}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// replay returns the Take already recorded under req's idempotency key.
func (l *Ledger) replay(ctx context.Context, q store.Querier, req TakeRequest) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	t, err := store.Custody(q).ByIdempotencyKey(ctx, req.ItemID, req.IdempotencyKey)
	if err != nil {
		return nil, apperr.Internalf(err, "checking idempotency key")
	}
	if t == nil {
		return nil, nil
	}
	if t.PersonnelID != req.PersonnelID {
		return nil, apperr.Conflictf("idempotency key already used for another request")
	}
	return &Result{Transaction: t, Replayed: true}, nil
}

// Return closes the open Take of an item by the given personnel.
func (l *Ledger) Return(ctx context.Context, req ReturnRequest) (*Result, error) {
	res, err := l.doReturn(ctx, req)
	l.finish(ctx, model.ActionReturn, req.ItemID, req.Actor, res, err)
	return res, err
}

func (l *Ledger) doReturn(ctx context.Context, req ReturnRequest) (*Result, error) {
	if err := checkOrigin(req.Actor); err != nil {
		return nil, err
	}
	if err := validateQuantities(req.Quantities); err != nil {
		return nil, err
	}

	release, err := l.lockItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	defer release()

	var res *Result
	err = store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		item, err := store.Items(tx).Get(ctx, req.ItemID)
		if err != nil {
			return apperr.Internalf(err, "loading item")
		}
		if item == nil {
			return apperr.NotFoundf("item not found")
		}

		open, err := store.Custody(tx).OpenTake(ctx, req.ItemID)
		if err != nil {
			return apperr.Internalf(err, "loading open custody")
		}
		if open == nil || open.PersonnelID != req.PersonnelID {
			return apperr.Conflictf("no open custody for this pair")
		}

		now := l.now()
		t, err := store.Custody(tx).Insert(ctx, &model.CustodyTransaction{
			ItemID:      item.ID,
			PersonnelID: req.PersonnelID,
			Action:      model.ActionReturn,
			Timestamp:   now,
			IssuedBy:    req.Actor.ID,
			Magazines:   req.Quantities.Magazines,
			Rounds:      req.Quantities.Rounds,
			OriginClass: string(req.Actor.Origin),
			ReturnOf:    &open.ID,
			Notes:       req.Notes,
		})
		if err != nil {
			return apperr.Internalf(err, "recording return")
		}
		if err := store.Custody(tx).Close(ctx, open.ID, now); err != nil {
			return apperr.Internalf(err, "closing take")
		}

		ok, err := store.Items(tx).SetCustody(ctx, item.ID, model.ItemStatusIssued, model.ItemStatusAvailable, nil)
		if err != nil {
			return apperr.Internalf(err, "returning item")
		}
		if !ok {
			return apperr.Internalf(errors.New("item not issued"), "open take %d without issued item", open.ID)
		}

		e := audit.Entry(req.Actor, model.EntityItem, item.ID, model.AuditReturn, model.OutcomeSucceeded)
		e.Before = audit.Snapshot(item)
		e.After = audit.Snapshot(t)
		if err := audit.WriteIntent(ctx, tx, e); err != nil {
			return apperr.Internalf(err, "recording audit intent")
		}

		res = &Result{Transaction: t}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) lockItem(ctx context.Context, itemID int64) (func(), error) {
	release, err := keylock.Acquire(ctx, l.locker, "item:"+strconv.FormatInt(itemID, 10), l.lockWait)
	if err != nil {
		switch {
		case errors.Is(err, keylock.ErrBusy):
			return nil, apperr.Wrap(apperr.Conflict, "item busy", err)
		case errors.Is(err, context.Canceled):
			return nil, apperr.Wrap(apperr.Conflict, "canceled while waiting for item", err)
		}
		return nil, apperr.Internalf(err, "waiting for item lock")
	}
	return release, nil
}

// finish runs after the item lock is released. It audits rejections, counts
// the outcome and wakes the audit relay.
func (l *Ledger) finish(ctx context.Context, action string, itemID int64, actor model.Actor, res *Result, err error) {
	switch {
	case err != nil:
		l.metrics.IncrementCustody(action, "rejected")
		if apperr.KindOf(err) == apperr.Internal {
			l.logger.Error("custody transition failed", "action", action, "item_id", itemID,
				"actor_id", actor.ID, "request_id", actor.RequestID, "error", err)
		}
		rejected := audit.Rejected(actor, model.EntityItem, itemID, action, err)
		if werr := audit.WriteIntent(context.WithoutCancel(ctx), l.db, rejected); werr != nil {
			l.logger.Error("recording rejected custody audit intent", "error", werr)
		}
	case res.Replayed:
		l.metrics.IncrementCustody(action, "replayed")
	default:
		l.metrics.IncrementCustody(action, "succeeded")
	}

	if l.notifier != nil {
		l.notifier.Notify()
	}
}
