package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Setting returns the value stored under key, storing candidate first if the
// key is unset. Concurrent callers all observe the same winning value.
func Setting(ctx context.Context, q Querier, key, candidate string) (string, error) {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing setting %q: %w", key, err)
	}

	var value string
	err = q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("querying setting %q: %w", key, err)
	}
	return value, nil
}

// JWTSecret returns the login token signing secret, generating it on first use.
func JWTSecret(ctx context.Context, q Querier) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return Setting(ctx, q, "jwt_secret", hex.EncodeToString(buf))
}
