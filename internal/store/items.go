package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/orozarna/internal/model"
)

// ItemFilter narrows item listings. Empty fields match everything.
type ItemFilter struct {
	Kind        string
	Status      string
	CustodianID int64
}

// ItemRepo reads and writes items.
type ItemRepo struct {
	q Querier
}

// Items returns an item repository bound to q.
func Items(q Querier) ItemRepo { return ItemRepo{q: q} }

const itemColumns = `id, serial, kind, name, description, status, custodian_id, prior_status,
        photo_mime, created_at, updated_at, deleted_at`

// Create inserts a new available item.
func (r ItemRepo) Create(ctx context.Context, serial, kind, name, description string) (*model.Item, error) {
	result, err := r.q.ExecContext(ctx,
		`INSERT INTO items (serial, kind, name, description) VALUES (?, ?, ?, ?)`,
		serial, kind, name, description,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return r.Get(ctx, id)
}

// Get returns an item by ID, including soft-deleted items.
func (r ItemRepo) Get(ctx context.Context, id int64) (*model.Item, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetBySerial returns an item by serial, including soft-deleted items.
func (r ItemRepo) GetBySerial(ctx context.Context, serial string) (*model.Item, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE serial = ?`, serial)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item by serial: %w", err)
	}
	return item, nil
}

// ActiveOnly lists items that have not been soft-deleted.
func (r ItemRepo) ActiveOnly(ctx context.Context, f ItemFilter) ([]model.Item, error) {
	return r.list(ctx, f, true)
}

// All lists every item, soft-deleted ones included.
func (r ItemRepo) All(ctx context.Context, f ItemFilter) ([]model.Item, error) {
	return r.list(ctx, f, false)
}

func (r ItemRepo) list(ctx context.Context, f ItemFilter, activeOnly bool) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any

	if activeOnly {
		query += ` AND deleted_at IS NULL`
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.CustodianID > 0 {
		query += ` AND custodian_id = ?`
		args = append(args, f.CustodianID)
	}
	query += ` ORDER BY serial`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Update changes an active item's descriptive fields and non-custody status.
func (r ItemRepo) Update(ctx context.Context, id int64, name, description, status string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE items SET name = ?, description = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		name, description, status, id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// SetCustody moves an item between available and issued. The update only
// applies when the item is still in fromStatus, and reports whether it did.
func (r ItemRepo) SetCustody(ctx context.Context, id int64, fromStatus, toStatus string, custodianID *int64) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE items SET status = ?, custodian_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		toStatus, custodianID, id, fromStatus,
	)
	if err != nil {
		return false, fmt.Errorf("updating item custody: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating item custody: %w", err)
	}
	return n == 1, nil
}

// SoftDelete hides an item, remembering its status for Restore.
func (r ItemRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE items SET deleted_at = ?, prior_status = status, status = 'inactive', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// Restore brings back a soft-deleted item with its prior status.
func (r ItemRepo) Restore(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE items SET deleted_at = NULL, status = COALESCE(prior_status, 'available'),
		        prior_status = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("restoring item: %w", err)
	}
	return nil
}

// SetPhoto stores an item's photo and thumbnail.
func (r ItemRepo) SetPhoto(ctx context.Context, id int64, photo, thumb []byte, mime string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE items SET photo = ?, photo_thumb = ?, photo_mime = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		photo, thumb, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item photo: %w", err)
	}
	return nil
}

// Photo returns an item's photo (or its thumbnail) and MIME type.
func (r ItemRepo) Photo(ctx context.Context, id int64, thumb bool) ([]byte, string, error) {
	column := "photo"
	if thumb {
		column = "photo_thumb"
	}

	var data []byte
	var mime sql.NullString
	err := r.q.QueryRowContext(ctx,
		`SELECT `+column+`, photo_mime FROM items WHERE id = ?`, id,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item photo: %w", err)
	}
	return data, mime.String, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(s rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var description, priorStatus, photoMime sql.NullString
	err := s.Scan(&item.ID, &item.Serial, &item.Kind, &item.Name, &description, &item.Status,
		&item.CustodianID, &priorStatus, &photoMime, &item.CreatedAt, &item.UpdatedAt, &item.DeletedAt)
	if err != nil {
		return nil, err
	}
	item.Description = description.String
	item.PriorStatus = priorStatus.String
	item.PhotoMime = photoMime.String
	return item, nil
}
