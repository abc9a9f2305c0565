package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/orozarna/internal/db"
)

func TestRevokeSession(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	revoked, err := SessionRevoked(ctx, database, "jti-1")
	if err != nil {
		t.Fatalf("SessionRevoked: %v", err)
	}
	if revoked {
		t.Error("expected fresh jti not to be revoked")
	}

	if err := RevokeSession(ctx, database, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	// Revoking twice is harmless.
	if err := RevokeSession(ctx, database, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeSession again: %v", err)
	}

	revoked, _ = SessionRevoked(ctx, database, "jti-1")
	if !revoked {
		t.Error("expected jti to be revoked")
	}
}

func TestRevokeSessionPrunesExpired(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	RevokeSession(ctx, database, "old", time.Now().Add(-time.Hour))
	RevokeSession(ctx, database, "new", time.Now().Add(time.Hour))

	if revoked, _ := SessionRevoked(ctx, database, "old"); revoked {
		t.Error("expected expired revocation to be pruned")
	}
}
