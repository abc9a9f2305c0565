package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/model"
)

func TestIssueAndDeactivateCredentials(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	repo := Credentials(database)
	now := time.Now().UTC()

	if _, err := repo.Issue(ctx, "ref-p1", model.EntityPersonnel, 1, now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := repo.Issue(ctx, "ref-i1", model.EntityItem, 1, now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := repo.Issue(ctx, "ref-p2", model.EntityPersonnel, 1, now); err == nil {
		t.Fatal("expected a second active token for the same owner to be rejected")
	}

	n, err := repo.Deactivate(ctx, model.EntityPersonnel, 1, now)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 token deactivated, got %d", n)
	}

	// Same numeric id, other owner type: untouched.
	item, _ := repo.GetByReference(ctx, "ref-i1")
	if item == nil || !item.Active {
		t.Error("expected item token to stay active")
	}

	p, _ := repo.GetByReference(ctx, "ref-p1")
	if p.Active || p.DeactivatedAt == nil {
		t.Errorf("expected personnel token deactivated, got %+v", p)
	}

	if _, err := repo.Issue(ctx, "ref-p2", model.EntityPersonnel, 1, now); err != nil {
		t.Fatalf("expected reissue after deactivation, got %v", err)
	}
	tokens, _ := repo.ListFor(ctx, model.EntityPersonnel, 1)
	if len(tokens) != 2 {
		t.Errorf("expected 2 tokens in history, got %d", len(tokens))
	}

	missing, err := repo.GetByReference(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown reference, got %v, %v", missing, err)
	}
}
