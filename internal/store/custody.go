package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/orozarna/internal/model"
)

// CustodyFilter narrows custody transaction listings.
type CustodyFilter struct {
	ItemID      int64
	PersonnelID int64
	OpenOnly    bool
}

// CustodyRepo reads and writes custody transactions.
type CustodyRepo struct {
	q Querier
}

// Custody returns a custody transaction repository bound to q.
func Custody(q Querier) CustodyRepo { return CustodyRepo{q: q} }

const custodyColumns = `t.id, t.item_id, t.personnel_id, t.action, t.timestamp, t.issued_by,
        t.magazines, t.rounds, t.origin_class, t.idempotency_key, t.return_of, t.closed_at, t.notes,
        i.serial AS item_serial, p.serial AS personnel_serial`

const custodyFrom = ` FROM custody_transactions t
        JOIN items i ON i.id = t.item_id
        JOIN personnel p ON p.id = t.personnel_id`

// Insert records a custody transaction and returns it.
func (r CustodyRepo) Insert(ctx context.Context, t *model.CustodyTransaction) (*model.CustodyTransaction, error) {
	var key *string
	if t.IdempotencyKey != "" {
		key = &t.IdempotencyKey
	}

	result, err := r.q.ExecContext(ctx,
		`INSERT INTO custody_transactions
		    (item_id, personnel_id, action, timestamp, issued_by, magazines, rounds,
		     origin_class, idempotency_key, return_of, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ItemID, t.PersonnelID, t.Action, t.Timestamp, t.IssuedBy, t.Magazines, t.Rounds,
		t.OriginClass, key, t.ReturnOf, t.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("recording custody transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting custody transaction id: %w", err)
	}

	return r.Get(ctx, id)
}

// Close marks an open Take as returned.
func (r CustodyRepo) Close(ctx context.Context, takeID int64, at time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE custody_transactions SET closed_at = ?
		 WHERE id = ? AND action = 'take' AND closed_at IS NULL`,
		at, takeID,
	)
	if err != nil {
		return fmt.Errorf("closing custody transaction: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return fmt.Errorf("closing custody transaction %d: not open", takeID)
	}
	return nil
}

// Get returns a custody transaction by ID.
func (r CustodyRepo) Get(ctx context.Context, id int64) (*model.CustodyTransaction, error) {
	return r.one(ctx, `WHERE t.id = ?`, id)
}

// ByIdempotencyKey returns the Take recorded for an item under key, if any.
func (r CustodyRepo) ByIdempotencyKey(ctx context.Context, itemID int64, key string) (*model.CustodyTransaction, error) {
	return r.one(ctx, `WHERE t.item_id = ? AND t.idempotency_key = ?`, itemID, key)
}

// OpenTake returns the open Take for an item, if any.
func (r CustodyRepo) OpenTake(ctx context.Context, itemID int64) (*model.CustodyTransaction, error) {
	return r.one(ctx, `WHERE t.item_id = ? AND t.action = 'take' AND t.closed_at IS NULL`, itemID)
}

// CountOpenByPersonnel returns how many items a personnel record currently holds.
func (r CustodyRepo) CountOpenByPersonnel(ctx context.Context, personnelID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM custody_transactions
		 WHERE personnel_id = ? AND action = 'take' AND closed_at IS NULL`, personnelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting open custody: %w", err)
	}
	return n, nil
}

// List returns custody transactions, newest first.
func (r CustodyRepo) List(ctx context.Context, f CustodyFilter) ([]model.CustodyTransaction, error) {
	query := `SELECT ` + custodyColumns + custodyFrom + ` WHERE 1=1`
	var args []any

	if f.ItemID > 0 {
		query += ` AND t.item_id = ?`
		args = append(args, f.ItemID)
	}
	if f.PersonnelID > 0 {
		query += ` AND t.personnel_id = ?`
		args = append(args, f.PersonnelID)
	}
	if f.OpenOnly {
		query += ` AND t.action = 'take' AND t.closed_at IS NULL`
	}
	query += ` ORDER BY t.timestamp DESC, t.id DESC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing custody transactions: %w", err)
	}
	defer rows.Close()

	var list []model.CustodyTransaction
	for rows.Next() {
		t, err := scanCustody(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning custody transaction: %w", err)
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

func (r CustodyRepo) one(ctx context.Context, where string, args ...any) (*model.CustodyTransaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+custodyColumns+custodyFrom+` `+where, args...)
	t, err := scanCustody(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting custody transaction: %w", err)
	}
	return t, nil
}

func scanCustody(s rowScanner) (*model.CustodyTransaction, error) {
	t := &model.CustodyTransaction{}
	var key, notes sql.NullString
	err := s.Scan(&t.ID, &t.ItemID, &t.PersonnelID, &t.Action, &t.Timestamp, &t.IssuedBy,
		&t.Magazines, &t.Rounds, &t.OriginClass, &key, &t.ReturnOf, &t.ClosedAt, &notes,
		&t.ItemSerial, &t.PersonnelSerial)
	if err != nil {
		return nil, err
	}
	t.IdempotencyKey = key.String
	t.Notes = notes.String
	return t, nil
}
