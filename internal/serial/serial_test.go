package serial

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/config"
	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/keylock"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/store"
)

func newAllocator(maxRetries int) *Allocator {
	return NewAllocator(config.DefaultSerials(), maxRetries, keylock.NewMemory(), 2*time.Second, nil)
}

func registerEnlisted(ctx context.Context, a *Allocator, database *sql.DB, name string) (string, error) {
	return a.Register(ctx, database, model.ClassificationEnlisted, func(tx *sql.Tx, serial string) error {
		_, err := store.Personnel(tx).Create(ctx, serial, name, "", model.ClassificationEnlisted)
		return err
	})
}

func TestRegisterFormatsSerials(t *testing.T) {
	database := db.NewTestDB(t)
	a := newAllocator(16)
	ctx := context.Background()

	s1, err := registerEnlisted(ctx, a, database, "Novak")
	require.NoError(t, err)
	s2, err := registerEnlisted(ctx, a, database, "Horvat")
	require.NoError(t, err)

	assert.Equal(t, "E-00001", s1)
	assert.Equal(t, "E-00002", s2)

	p, err := store.Personnel(database).GetBySerial(ctx, s2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Horvat", p.Name)
}

// Two registrations asking for an enlisted serial at the same moment both
// succeed with different serials.
func TestConcurrentRegistrationsGetDistinctSerials(t *testing.T) {
	database := db.NewTestDB(t)
	a := newAllocator(16)
	ctx := context.Background()

	const n = 16
	var mu sync.Mutex
	seen := make(map[string]bool)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			s, err := registerEnlisted(ctx, a, database, "Recruit")
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[s] {
				return errors.New("duplicate serial " + s)
			}
			seen[s] = true
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, n)
}

func TestAllocatorSkipsLegacyAndDeletedSerials(t *testing.T) {
	database := db.NewTestDB(t)
	a := newAllocator(16)
	ctx := context.Background()

	// A legacy import took E-00001 and E-00002; E-00003 belongs to a
	// soft-deleted record.
	people := store.Personnel(database)
	people.Create(ctx, "E-00001", "Legacy 1", "", model.ClassificationEnlisted)
	people.Create(ctx, "E-00002", "Legacy 2", "", model.ClassificationEnlisted)
	gone, _ := people.Create(ctx, "E-00003", "Gone", "", model.ClassificationEnlisted)
	require.NoError(t, people.SoftDelete(ctx, gone.ID, time.Now()))

	s, err := registerEnlisted(ctx, a, database, "Fresh")
	require.NoError(t, err)
	assert.Equal(t, "E-00004", s)
}

func TestAllocatorSkipsSerialsUsedByItems(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	formats := map[string]config.SerialFormat{
		model.ClassificationOfficer: {Prefix: "X", Width: 2},
		model.ItemKindWeapon:        {Prefix: "Y", Width: 2},
	}
	a := NewAllocator(formats, 4, keylock.NewMemory(), time.Second, nil)

	store.Items(database).Create(ctx, "X01", model.ItemKindWeapon, "Oddly named rifle", "")

	s, err := a.Register(ctx, database, model.ClassificationOfficer, func(tx *sql.Tx, serial string) error {
		_, err := store.Personnel(tx).Create(ctx, serial, "Officer", "", model.ClassificationOfficer)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "X02", s)
}

// Exhaustion creates nothing and only keeps the counter steps over serials
// that existing records carry, so the next registration gets through.
func TestAllocatorExhaustionKeepsOnlySkippedSteps(t *testing.T) {
	database := db.NewTestDB(t)
	a := newAllocator(3)
	ctx := context.Background()

	for _, s := range []string{"E-00001", "E-00002", "E-00003", "E-00004"} {
		store.Personnel(database).Create(ctx, s, "Legacy", "", model.ClassificationEnlisted)
	}

	_, err := registerEnlisted(ctx, a, database, "Unlucky")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.AllocationExhausted), "got %v", err)

	value, err := store.CounterValue(ctx, database, "E-")
	require.NoError(t, err)
	assert.Equal(t, int64(4), value, "counter stops at the last taken serial")

	all, _ := store.Personnel(database).All(ctx, store.PersonnelFilter{})
	assert.Len(t, all, 4, "no row may be created when allocation fails")

	s, err := registerEnlisted(ctx, a, database, "Lucky")
	require.NoError(t, err)
	assert.Equal(t, "E-00005", s)
}

func TestImportedAdvancesMatchingPrefixOnly(t *testing.T) {
	database := db.NewTestDB(t)
	a := newAllocator(16)
	ctx := context.Background()

	people := store.Personnel(database)
	for _, s := range []string{"E-00001", "E-00002", "E-1", "E-0000X"} {
		people.Create(ctx, s, "Legacy", "", model.ClassificationEnlisted)
		require.NoError(t, a.Imported(ctx, database, s))
	}

	value, err := store.CounterValue(ctx, database, "E-")
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	other, err := store.CounterValue(ctx, database, "O-")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)
}

func TestRegisterRollsBackOnCreateFailure(t *testing.T) {
	database := db.NewTestDB(t)
	a := newAllocator(16)
	ctx := context.Background()

	errBoom := errors.New("boom")
	_, err := a.Register(ctx, database, model.ClassificationEnlisted, func(*sql.Tx, string) error { return errBoom })
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))

	value, _ := store.CounterValue(ctx, database, "E-")
	assert.Equal(t, int64(0), value)

	s, err := registerEnlisted(ctx, a, database, "Next")
	require.NoError(t, err)
	assert.Equal(t, "E-00001", s)
}

func TestUnknownPrefix(t *testing.T) {
	database := db.NewTestDB(t)
	a := newAllocator(16)

	_, err := a.Register(context.Background(), database, "spaceship", func(*sql.Tx, string) error { return nil })
	assert.True(t, errors.Is(err, apperr.Validation))
}

func TestRegisterBusyPrefix(t *testing.T) {
	database := db.NewTestDB(t)
	locker := keylock.NewMemory()
	a := NewAllocator(config.DefaultSerials(), 16, locker, 20*time.Millisecond, nil)
	ctx := context.Background()

	release, err := locker.Lock(ctx, "serial:E-")
	require.NoError(t, err)
	defer release()

	_, err = registerEnlisted(ctx, a, database, "Waiting")
	assert.True(t, errors.Is(err, apperr.Conflict), "got %v", err)
}
