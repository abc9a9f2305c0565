package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/orozarna/internal/model"
)

// PersonnelFilter narrows personnel listings.
type PersonnelFilter struct {
	Classification string
	Status         string
}

// PersonnelRepo reads and writes personnel records.
type PersonnelRepo struct {
	q Querier
}

// Personnel returns a personnel repository bound to q.
func Personnel(q Querier) PersonnelRepo { return PersonnelRepo{q: q} }

const personnelColumns = `id, serial, name, rank, classification, status, prior_status,
        created_at, updated_at, deleted_at`

// Create inserts a new active personnel record.
func (r PersonnelRepo) Create(ctx context.Context, serial, name, rank, classification string) (*model.Personnel, error) {
	result, err := r.q.ExecContext(ctx,
		`INSERT INTO personnel (serial, name, rank, classification) VALUES (?, ?, ?, ?)`,
		serial, name, rank, classification,
	)
	if err != nil {
		return nil, fmt.Errorf("creating personnel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting personnel id: %w", err)
	}

	return r.Get(ctx, id)
}

// Get returns a personnel record by ID, including soft-deleted ones.
func (r PersonnelRepo) Get(ctx context.Context, id int64) (*model.Personnel, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+personnelColumns+` FROM personnel WHERE id = ?`, id)
	p, err := scanPersonnel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting personnel: %w", err)
	}
	return p, nil
}

// GetBySerial returns a personnel record by serial, including soft-deleted ones.
func (r PersonnelRepo) GetBySerial(ctx context.Context, serial string) (*model.Personnel, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+personnelColumns+` FROM personnel WHERE serial = ?`, serial)
	p, err := scanPersonnel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting personnel by serial: %w", err)
	}
	return p, nil
}

// ActiveOnly lists personnel that have not been soft-deleted.
func (r PersonnelRepo) ActiveOnly(ctx context.Context, f PersonnelFilter) ([]model.Personnel, error) {
	return r.list(ctx, f, true)
}

// All lists every personnel record, soft-deleted ones included.
func (r PersonnelRepo) All(ctx context.Context, f PersonnelFilter) ([]model.Personnel, error) {
	return r.list(ctx, f, false)
}

func (r PersonnelRepo) list(ctx context.Context, f PersonnelFilter, activeOnly bool) ([]model.Personnel, error) {
	query := `SELECT ` + personnelColumns + ` FROM personnel WHERE 1=1`
	var args []any

	if activeOnly {
		query += ` AND deleted_at IS NULL`
	}
	if f.Classification != "" {
		query += ` AND classification = ?`
		args = append(args, f.Classification)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY serial`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing personnel: %w", err)
	}
	defer rows.Close()

	var list []model.Personnel
	for rows.Next() {
		p, err := scanPersonnel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning personnel: %w", err)
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Update changes an active record's name and rank.
func (r PersonnelRepo) Update(ctx context.Context, id int64, name, rank string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE personnel SET name = ?, rank = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		name, rank, id,
	)
	if err != nil {
		return fmt.Errorf("updating personnel: %w", err)
	}
	return nil
}

// SoftDelete hides a personnel record, remembering its status for Restore.
func (r PersonnelRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE personnel SET deleted_at = ?, prior_status = status, status = 'inactive', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("deleting personnel: %w", err)
	}
	return nil
}

// Restore brings back a soft-deleted record with its prior status.
func (r PersonnelRepo) Restore(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE personnel SET deleted_at = NULL, status = COALESCE(prior_status, 'active'),
		        prior_status = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("restoring personnel: %w", err)
	}
	return nil
}

func scanPersonnel(s rowScanner) (*model.Personnel, error) {
	p := &model.Personnel{}
	var rank, priorStatus sql.NullString
	err := s.Scan(&p.ID, &p.Serial, &p.Name, &rank, &p.Classification, &p.Status, &priorStatus,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if err != nil {
		return nil, err
	}
	p.Rank = rank.String
	p.PriorStatus = priorStatus.String
	return p, nil
}
