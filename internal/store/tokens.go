package store

import (
	"context"
	"fmt"
	"time"
)

// RevokeSession adds a login token's JTI to the revocation list and prunes
// revocations whose tokens have expired anyway.
func RevokeSession(ctx context.Context, q Querier, jti string, expiresAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)`,
		jti, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}

	_, _ = q.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now())

	return nil
}

// SessionRevoked reports whether a login token's JTI has been revoked.
func SessionRevoked(ctx context.Context, q Querier, jti string) (bool, error) {
	var revoked bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ?)`, jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("checking session revocation: %w", err)
	}
	return revoked, nil
}
