package registry

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/config"
	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/keylock"
	"github.com/erazemk/orozarna/internal/lifecycle"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/payload"
	"github.com/erazemk/orozarna/internal/serial"
	"github.com/erazemk/orozarna/internal/store"
)

var admin = model.Actor{ID: 1, Role: model.RoleAdmin, Origin: model.OriginLAN, RequestID: "req"}

func newRegistry(t *testing.T) (*Registry, *sql.DB, *audit.MemoryStore) {
	t.Helper()
	database := db.NewTestDB(t)
	trail := audit.NewMemoryStore()
	recorder := audit.NewRecorder(trail, audit.Options{Sync: true, Outbox: database})
	alloc := serial.NewAllocator(config.DefaultSerials(), 16, keylock.NewMemory(), time.Second, nil)
	return New(database, alloc, recorder, nil), database, trail
}

func TestRegisterPersonnel(t *testing.T) {
	reg, _, trail := newRegistry(t)
	ctx := context.Background()

	first, err := reg.RegisterPersonnel(ctx, payload.RegisterPersonnel{Name: "Novak", Rank: "Pvt", Classification: model.ClassificationEnlisted}, admin)
	require.NoError(t, err)
	second, err := reg.RegisterPersonnel(ctx, payload.RegisterPersonnel{Name: "Kos", Classification: model.ClassificationEnlisted}, admin)
	require.NoError(t, err)
	officer, err := reg.RegisterPersonnel(ctx, payload.RegisterPersonnel{Name: "Zupan", Classification: model.ClassificationOfficer}, admin)
	require.NoError(t, err)

	assert.Equal(t, "E-00001", first.Serial)
	assert.Equal(t, "E-00002", second.Serial)
	assert.Equal(t, "O-00001", officer.Serial)
	assert.Equal(t, model.PersonnelStatusActive, first.Status)

	entries, err := trail.ListByEntity(ctx, model.EntityPersonnel, first.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditRegister, entries[0].Action)
	assert.Equal(t, model.OutcomeSucceeded, entries[0].Outcome)
	assert.Contains(t, string(entries[0].After), "E-00001")
}

func TestRegisterInvalidPayload(t *testing.T) {
	reg, _, _ := newRegistry(t)

	_, err := reg.RegisterItem(context.Background(), payload.RegisterItem{Kind: "grenade", Name: "x"}, admin)
	assert.True(t, errors.Is(err, apperr.Validation))
}

func TestRegisterSkipsImportedSerials(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Import(ctx, payload.ImportLegacy{EntityType: model.EntityItem, Serial: "W-00001", Name: "Old rifle", Kind: model.ItemKindWeapon}, admin)
	require.NoError(t, err)

	item, err := reg.RegisterItem(ctx, payload.RegisterItem{Kind: model.ItemKindWeapon, Name: "Rifle"}, admin)
	require.NoError(t, err)
	assert.Equal(t, "W-00002", item.Serial)
}

// A block of imported serials longer than the allocator's retry bound must
// not stop registration for that prefix.
func TestRegisterAfterLongImportedRun(t *testing.T) {
	reg, database, _ := newRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 16; i++ {
		_, err := reg.Import(ctx, payload.ImportLegacy{
			EntityType:     model.EntityPersonnel,
			Serial:         fmt.Sprintf("E-%05d", i),
			Name:           "Legacy",
			Classification: model.ClassificationEnlisted,
		}, admin)
		require.NoError(t, err)
	}

	value, err := store.CounterValue(ctx, database, "E-")
	require.NoError(t, err)
	assert.Equal(t, int64(16), value)

	p, err := reg.RegisterPersonnel(ctx, payload.RegisterPersonnel{Name: "Recruit", Classification: model.ClassificationEnlisted}, admin)
	require.NoError(t, err)
	assert.Equal(t, "E-00017", p.Serial)
}

// Imports out of order still leave the counter at the end of the run.
func TestImportOutOfOrderAdvancesCounter(t *testing.T) {
	reg, database, _ := newRegistry(t)
	ctx := context.Background()

	for _, s := range []string{"W-00002", "W-00003", "W-00001", "W-00009", "LEGACY-1"} {
		_, err := reg.Import(ctx, payload.ImportLegacy{EntityType: model.EntityItem, Serial: s, Name: "Old rifle", Kind: model.ItemKindWeapon}, admin)
		require.NoError(t, err)
	}

	value, err := store.CounterValue(ctx, database, "W-")
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)
}

func TestImportDuplicateSerial(t *testing.T) {
	reg, _, trail := newRegistry(t)
	ctx := context.Background()

	p := payload.ImportLegacy{EntityType: model.EntityPersonnel, Serial: "OLD-7", Name: "Legacy", Classification: model.ClassificationOfficer}
	_, err := reg.Import(ctx, p, admin)
	require.NoError(t, err)

	// The same serial on an item collides too.
	_, err = reg.Import(ctx, payload.ImportLegacy{EntityType: model.EntityItem, Serial: "OLD-7", Name: "Rifle", Kind: model.ItemKindWeapon}, admin)
	assert.True(t, errors.Is(err, apperr.Conflict))

	recent, err := trail.ListRecent(ctx, 10)
	require.NoError(t, err)
	var rejected int
	for _, e := range recent {
		if e.Action == model.AuditImport && e.Outcome == model.OutcomeRejected {
			rejected++
			assert.Equal(t, "serial OLD-7 already exists", e.Reason)
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestImportCollidesWithDeletedRecord(t *testing.T) {
	reg, database, _ := newRegistry(t)
	ctx := context.Background()

	item, err := reg.RegisterItem(ctx, payload.RegisterItem{Kind: model.ItemKindMagazine, Name: "STANAG"}, admin)
	require.NoError(t, err)
	require.NoError(t, lifecycle.NewManager(database, nil, nil).SoftDelete(ctx, model.EntityRef{Type: model.EntityItem, ID: item.ID}, admin))

	_, err = reg.Import(ctx, payload.ImportLegacy{EntityType: model.EntityItem, Serial: item.Serial, Name: "x", Kind: model.ItemKindMagazine}, admin)
	assert.True(t, errors.Is(err, apperr.Conflict))
}

func TestUpdateItem(t *testing.T) {
	reg, _, trail := newRegistry(t)
	ctx := context.Background()

	item, err := reg.RegisterItem(ctx, payload.RegisterItem{Kind: model.ItemKindWeapon, Name: "Rifle"}, admin)
	require.NoError(t, err)

	updated, err := reg.UpdateItem(ctx, item.ID, payload.UpdateItem{Name: "Rifle M70", Status: model.ItemStatusMaintenance}, admin)
	require.NoError(t, err)
	assert.Equal(t, "Rifle M70", updated.Name)
	assert.Equal(t, model.ItemStatusMaintenance, updated.Status)

	entries, err := trail.ListByEntity(ctx, model.EntityItem, item.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, string(entries[1].Before), `"status":"available"`)
	assert.Contains(t, string(entries[1].After), `"status":"maintenance"`)
}

func TestUpdateIssuedItemStatus(t *testing.T) {
	reg, database, _ := newRegistry(t)
	ctx := context.Background()

	item, err := reg.RegisterItem(ctx, payload.RegisterItem{Kind: model.ItemKindWeapon, Name: "Rifle"}, admin)
	require.NoError(t, err)
	p, err := reg.RegisterPersonnel(ctx, payload.RegisterPersonnel{Name: "Novak", Classification: model.ClassificationEnlisted}, admin)
	require.NoError(t, err)
	ok, err := store.Items(database).SetCustody(ctx, item.ID, model.ItemStatusAvailable, model.ItemStatusIssued, &p.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = reg.UpdateItem(ctx, item.ID, payload.UpdateItem{Name: "Rifle", Status: model.ItemStatusRetired}, admin)
	assert.True(t, errors.Is(err, apperr.Conflict))

	// Renaming keeps the custody status.
	updated, err := reg.UpdateItem(ctx, item.ID, payload.UpdateItem{Name: "Rifle M70"}, admin)
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusIssued, updated.Status)
}

func TestUpdateMissingAndDeleted(t *testing.T) {
	reg, database, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.UpdatePersonnel(ctx, 999, payload.UpdatePersonnel{Name: "x"}, admin)
	assert.True(t, errors.Is(err, apperr.NotFound))

	p, err := reg.RegisterPersonnel(ctx, payload.RegisterPersonnel{Name: "Novak", Classification: model.ClassificationEnlisted}, admin)
	require.NoError(t, err)
	require.NoError(t, lifecycle.NewManager(database, nil, nil).SoftDelete(ctx, model.EntityRef{Type: model.EntityPersonnel, ID: p.ID}, admin))

	_, err = reg.UpdatePersonnel(ctx, p.ID, payload.UpdatePersonnel{Name: "Novak"}, admin)
	assert.True(t, errors.Is(err, apperr.Conflict))
}

func TestResolve(t *testing.T) {
	reg, database, _ := newRegistry(t)
	ctx := context.Background()
	lc := lifecycle.NewManager(database, nil, nil)

	p, err := reg.RegisterPersonnel(ctx, payload.RegisterPersonnel{Name: "Novak", Classification: model.ClassificationEnlisted}, admin)
	require.NoError(t, err)
	ref := model.EntityRef{Type: model.EntityPersonnel, ID: p.ID}
	old, err := lc.IssueToken(ctx, ref, admin)
	require.NoError(t, err)
	current, err := lc.IssueToken(ctx, ref, admin)
	require.NoError(t, err)

	bySerial, err := reg.ResolvePersonnel(ctx, p.Serial)
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySerial.ID)

	byToken, err := reg.ResolvePersonnel(ctx, current.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byToken.ID)

	_, err = reg.ResolvePersonnel(ctx, old.ReferenceID)
	assert.True(t, errors.Is(err, apperr.Conflict), "replaced token must not resolve")

	_, err = reg.ResolveItem(ctx, current.ReferenceID)
	assert.True(t, errors.Is(err, apperr.Validation), "badge is not an item tag")

	_, err = reg.ResolveItem(ctx, "W-99999")
	assert.True(t, errors.Is(err, apperr.NotFound))
}

func TestSetPhoto(t *testing.T) {
	reg, _, trail := newRegistry(t)
	ctx := context.Background()

	item, err := reg.RegisterItem(ctx, payload.RegisterItem{Kind: model.ItemKindWeapon, Name: "Rifle"}, admin)
	require.NoError(t, err)

	_, _, err = reg.Photo(ctx, item.ID, false)
	assert.True(t, errors.Is(err, apperr.NotFound))

	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	require.NoError(t, reg.SetPhoto(ctx, item.ID, &buf, admin))

	data, mime, err := reg.Photo(ctx, item.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	assert.NotEmpty(t, data)

	err = reg.SetPhoto(ctx, item.ID, bytes.NewReader([]byte("not an image")), admin)
	assert.True(t, errors.Is(err, apperr.Validation))

	entries, err := trail.ListByEntity(ctx, model.EntityItem, item.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.AuditSetPhoto, entries[1].Action)
	assert.Equal(t, model.OutcomeRejected, entries[2].Outcome)
}
