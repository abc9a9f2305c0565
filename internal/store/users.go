package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/orozarna/internal/model"
)

// UserRepo reads and writes operator accounts.
type UserRepo struct {
	q Querier
}

// Users returns an operator account repository bound to q.
func Users(q Querier) UserRepo { return UserRepo{q: q} }

const userColumns = `id, username, password_hash, role, personnel_id, created_at, deleted_at`

// Create creates a new operator account. personnelID links accounts with the
// personnel role to their own personnel record.
func (r UserRepo) Create(ctx context.Context, username, passwordHash, role string, personnelID *int64) (*model.User, error) {
	result, err := r.q.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, personnel_id) VALUES (?, ?, ?, ?)`,
		username, passwordHash, role, personnelID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return r.Get(ctx, id)
}

// Get returns a user by ID.
func (r UserRepo) Get(ctx context.Context, id int64) (*model.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetByUsername returns the active user with the given username.
func (r UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND deleted_at IS NULL`, username)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

// List returns all non-deleted users.
func (r UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Count returns the number of non-deleted users.
func (r UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// UpdatePassword updates a user's password hash.
func (r UserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// Delete soft-deletes a user and reports whether a row changed.
func (r UserRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("deleting user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting user: %w", err)
	}
	return n == 1, nil
}

func scanUser(s rowScanner) (*model.User, error) {
	u := &model.User{}
	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.PersonnelID, &u.CreatedAt, &u.DeletedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}
