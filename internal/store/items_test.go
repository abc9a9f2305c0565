package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/model"
)

func TestCreateAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, err := Items(database).Create(ctx, "W-0001", model.ItemKindWeapon, "Rifle", "M4A1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if item.Serial != "W-0001" {
		t.Errorf("expected serial 'W-0001', got %q", item.Serial)
	}
	if item.Status != model.ItemStatusAvailable {
		t.Errorf("expected status 'available', got %q", item.Status)
	}
	if item.CustodianID != nil {
		t.Errorf("expected no custodian, got %v", *item.CustodianID)
	}

	got, err := Items(database).GetBySerial(ctx, "W-0001")
	if err != nil {
		t.Fatalf("GetBySerial: %v", err)
	}
	if got == nil || got.ID != item.ID {
		t.Fatalf("expected item %d by serial, got %+v", item.ID, got)
	}

	missing, err := Items(database).Get(ctx, 9999)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing item")
	}
}

func TestDuplicateItemSerialRejected(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if _, err := Items(database).Create(ctx, "W-0001", model.ItemKindWeapon, "Rifle", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := Items(database).Create(ctx, "W-0001", model.ItemKindMagazine, "Mag", ""); err == nil {
		t.Fatal("expected duplicate serial to be rejected")
	}
}

func TestListItemsActiveOnlyAndAll(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	items := Items(database)

	items.Create(ctx, "W-0001", model.ItemKindWeapon, "Rifle", "")
	items.Create(ctx, "M-0001", model.ItemKindMagazine, "Mag", "")
	gone, _ := items.Create(ctx, "W-0002", model.ItemKindWeapon, "Pistol", "")
	if err := items.SoftDelete(ctx, gone.ID, time.Now()); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	active, _ := items.ActiveOnly(ctx, ItemFilter{})
	if len(active) != 2 {
		t.Errorf("expected 2 active items, got %d", len(active))
	}

	all, _ := items.All(ctx, ItemFilter{})
	if len(all) != 3 {
		t.Errorf("expected 3 items including deleted, got %d", len(all))
	}

	weapons, _ := items.ActiveOnly(ctx, ItemFilter{Kind: model.ItemKindWeapon})
	if len(weapons) != 1 {
		t.Errorf("expected 1 active weapon, got %d", len(weapons))
	}
}

func TestItemSoftDeleteAndRestore(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	items := Items(database)

	item, _ := items.Create(ctx, "W-0001", model.ItemKindWeapon, "Rifle", "")
	items.Update(ctx, item.ID, "Rifle", "", model.ItemStatusMaintenance)

	if err := items.SoftDelete(ctx, item.ID, time.Now()); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	got, _ := items.Get(ctx, item.ID)
	if !got.Deleted() {
		t.Fatal("expected item to be deleted")
	}
	if got.Status != model.ItemStatusInactive {
		t.Errorf("expected status 'inactive', got %q", got.Status)
	}
	if got.PriorStatus != model.ItemStatusMaintenance {
		t.Errorf("expected prior status 'maintenance', got %q", got.PriorStatus)
	}

	if err := items.Restore(ctx, item.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ = items.Get(ctx, item.ID)
	if got.Deleted() {
		t.Error("expected item to be restored")
	}
	if got.Status != model.ItemStatusMaintenance {
		t.Errorf("expected status 'maintenance' after restore, got %q", got.Status)
	}
}

func TestSetCustodyIsConditional(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	items := Items(database)

	p, _ := Personnel(database).Create(ctx, "E-0001", "Novak", "", model.ClassificationEnlisted)
	item, _ := items.Create(ctx, "W-0001", model.ItemKindWeapon, "Rifle", "")

	ok, err := items.SetCustody(ctx, item.ID, model.ItemStatusAvailable, model.ItemStatusIssued, &p.ID)
	if err != nil {
		t.Fatalf("SetCustody: %v", err)
	}
	if !ok {
		t.Fatal("expected first issue to apply")
	}

	ok, err = items.SetCustody(ctx, item.ID, model.ItemStatusAvailable, model.ItemStatusIssued, &p.ID)
	if err != nil {
		t.Fatalf("SetCustody: %v", err)
	}
	if ok {
		t.Error("expected second issue from 'available' to be a no-op")
	}

	got, _ := items.Get(ctx, item.ID)
	if got.CustodianID == nil || *got.CustodianID != p.ID {
		t.Errorf("expected custodian %d, got %v", p.ID, got.CustodianID)
	}
}

func TestItemPhoto(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	items := Items(database)

	item, _ := items.Create(ctx, "W-0001", model.ItemKindWeapon, "Rifle", "")
	if err := items.SetPhoto(ctx, item.ID, []byte("full"), []byte("thumb"), "image/jpeg"); err != nil {
		t.Fatalf("SetPhoto: %v", err)
	}

	data, mime, err := items.Photo(ctx, item.ID, false)
	if err != nil {
		t.Fatalf("Photo: %v", err)
	}
	if string(data) != "full" || mime != "image/jpeg" {
		t.Errorf("expected full photo as image/jpeg, got %q %q", data, mime)
	}

	data, _, _ = items.Photo(ctx, item.ID, true)
	if string(data) != "thumb" {
		t.Errorf("expected thumbnail, got %q", data)
	}
}
