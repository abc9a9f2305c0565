package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/model"
)

func TestCreateAndGetPersonnel(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	p, err := Personnel(database).Create(ctx, "O-0001", "Kovač", "Lt", model.ClassificationOfficer)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Status != model.PersonnelStatusActive {
		t.Errorf("expected status 'active', got %q", p.Status)
	}
	if p.Rank != "Lt" {
		t.Errorf("expected rank 'Lt', got %q", p.Rank)
	}

	got, err := Personnel(database).GetBySerial(ctx, "O-0001")
	if err != nil {
		t.Fatalf("GetBySerial: %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Fatalf("expected personnel %d by serial, got %+v", p.ID, got)
	}
}

func TestPersonnelSoftDeleteKeepsSerialReserved(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	repo := Personnel(database)

	p, _ := repo.Create(ctx, "E-0001", "Novak", "", model.ClassificationEnlisted)
	if err := repo.SoftDelete(ctx, p.ID, time.Now()); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	active, _ := repo.ActiveOnly(ctx, PersonnelFilter{})
	if len(active) != 0 {
		t.Errorf("expected 0 active personnel, got %d", len(active))
	}
	all, _ := repo.All(ctx, PersonnelFilter{})
	if len(all) != 1 {
		t.Errorf("expected 1 personnel including deleted, got %d", len(all))
	}

	if _, err := repo.Create(ctx, "E-0001", "Other", "", model.ClassificationEnlisted); err == nil {
		t.Error("expected serial of a soft-deleted record to stay taken")
	}

	if err := repo.Restore(ctx, p.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ := repo.Get(ctx, p.ID)
	if got.Deleted() || got.Status != model.PersonnelStatusActive {
		t.Errorf("expected restored active record, got %+v", got)
	}
}

func TestUpdatePersonnel(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	repo := Personnel(database)

	p, _ := repo.Create(ctx, "E-0001", "Novak", "Pvt", model.ClassificationEnlisted)
	if err := repo.Update(ctx, p.ID, "Novak Jr.", "Cpl"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := repo.Get(ctx, p.ID)
	if got.Name != "Novak Jr." || got.Rank != "Cpl" {
		t.Errorf("expected updated name and rank, got %q %q", got.Name, got.Rank)
	}
}
