package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/orozarna/internal/model"
)

// CredentialRepo reads and writes credential tokens.
type CredentialRepo struct {
	q Querier
}

// Credentials returns a credential token repository bound to q.
func Credentials(q Querier) CredentialRepo { return CredentialRepo{q: q} }

const credentialColumns = `id, reference_id, owner_type, owner_id, active, issued_at, deactivated_at`

// Issue inserts a new active token for the owner.
func (r CredentialRepo) Issue(ctx context.Context, referenceID, ownerType string, ownerID int64, at time.Time) (*model.CredentialToken, error) {
	result, err := r.q.ExecContext(ctx,
		`INSERT INTO credential_tokens (reference_id, owner_type, owner_id, active, issued_at)
		 VALUES (?, ?, ?, 1, ?)`,
		referenceID, ownerType, ownerID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("issuing credential token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting credential token id: %w", err)
	}

	row := r.q.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credential_tokens WHERE id = ?`, id)
	return scanCredential(row)
}

// Deactivate turns off every active token owned by exactly (ownerType, ownerID)
// and returns how many were affected.
func (r CredentialRepo) Deactivate(ctx context.Context, ownerType string, ownerID int64, at time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE credential_tokens SET active = 0, deactivated_at = ?
		 WHERE owner_type = ? AND owner_id = ? AND active = 1`,
		at, ownerType, ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivating credential tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivating credential tokens: %w", err)
	}
	return n, nil
}

// GetByReference returns a token by its reference ID.
func (r CredentialRepo) GetByReference(ctx context.Context, referenceID string) (*model.CredentialToken, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credential_tokens WHERE reference_id = ?`, referenceID)
	t, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential token: %w", err)
	}
	return t, nil
}

// ListFor returns all tokens ever issued to an owner, newest first.
func (r CredentialRepo) ListFor(ctx context.Context, ownerType string, ownerID int64) ([]model.CredentialToken, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credential_tokens
		 WHERE owner_type = ? AND owner_id = ? ORDER BY id DESC`,
		ownerType, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing credential tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.CredentialToken
	for rows.Next() {
		t, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func scanCredential(s rowScanner) (*model.CredentialToken, error) {
	t := &model.CredentialToken{}
	err := s.Scan(&t.ID, &t.ReferenceID, &t.OwnerType, &t.OwnerID, &t.Active, &t.IssuedAt, &t.DeactivatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}
