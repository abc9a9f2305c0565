package custody

import (
	"context"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/store"
)

// Get returns one custody transaction.
func (l *Ledger) Get(ctx context.Context, id int64) (*model.CustodyTransaction, error) {
	t, err := store.Custody(l.db).Get(ctx, id)
	if err != nil {
		return nil, apperr.Internalf(err, "getting custody transaction")
	}
	if t == nil {
		return nil, apperr.NotFoundf("custody transaction not found")
	}
	return t, nil
}

// ListByItem returns an item's custody history, newest first.
func (l *Ledger) ListByItem(ctx context.Context, itemID int64) ([]model.CustodyTransaction, error) {
	return l.list(ctx, store.CustodyFilter{ItemID: itemID})
}

// ListByPersonnel returns a personnel record's custody history, newest first.
func (l *Ledger) ListByPersonnel(ctx context.Context, personnelID int64) ([]model.CustodyTransaction, error) {
	return l.list(ctx, store.CustodyFilter{PersonnelID: personnelID})
}

// OpenCustody returns the Takes a personnel record has not returned yet.
func (l *Ledger) OpenCustody(ctx context.Context, personnelID int64) ([]model.CustodyTransaction, error) {
	return l.list(ctx, store.CustodyFilter{PersonnelID: personnelID, OpenOnly: true})
}

// List returns custody transactions matching f.
func (l *Ledger) List(ctx context.Context, f store.CustodyFilter) ([]model.CustodyTransaction, error) {
	return l.list(ctx, f)
}

func (l *Ledger) list(ctx context.Context, f store.CustodyFilter) ([]model.CustodyTransaction, error) {
	list, err := store.Custody(l.db).List(ctx, f)
	if err != nil {
		return nil, apperr.Internalf(err, "listing custody transactions")
	}
	return list, nil
}
