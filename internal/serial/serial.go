// Package serial allocates unique, never reused serials for personnel and
// items.
//
// Each prefix has a durable counter. A candidate serial is accepted only if
// no personnel or item row, active or soft-deleted, already carries it;
// legacy imports can occupy future counter values, which are skipped.
package serial

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/config"
	"github.com/erazemk/orozarna/internal/keylock"
	"github.com/erazemk/orozarna/internal/metrics"
	"github.com/erazemk/orozarna/internal/store"
)

// Allocator hands out serials.
type Allocator struct {
	formats    map[string]config.SerialFormat
	maxRetries int
	locker     keylock.Locker
	lockWait   time.Duration
	metrics    *metrics.Metrics
}

// NewAllocator creates an allocator for the given prefix table. Formats are
// keyed by personnel classification or item kind.
func NewAllocator(formats map[string]config.SerialFormat, maxRetries int, locker keylock.Locker, lockWait time.Duration, m *metrics.Metrics) *Allocator {
	if m == nil {
		m = metrics.Discard()
	}
	return &Allocator{
		formats:    formats,
		maxRetries: maxRetries,
		locker:     locker,
		lockWait:   lockWait,
		metrics:    m,
	}
}

// Format returns the serial format for key.
func (a *Allocator) Format(key string) (config.SerialFormat, bool) {
	f, ok := a.formats[key]
	return f, ok
}

// Allocate returns the next free serial for key using q, which must be the
// transaction that also creates the row carrying the serial. If it fails,
// rolling back that transaction also undoes every counter increment;
// Register then keeps only the steps over serials that records carry.
func (a *Allocator) Allocate(ctx context.Context, q store.Querier, key string) (string, error) {
	f, ok := a.formats[key]
	if !ok {
		return "", apperr.Validationf("no serial prefix configured for %q", key)
	}

	for attempt := 0; attempt < a.maxRetries; attempt++ {
		n, err := store.NextCounter(ctx, q, f.Prefix)
		if err != nil {
			return "", apperr.Internalf(err, "allocating serial")
		}

		candidate := format(f, n)
		taken, err := store.SerialTaken(ctx, q, candidate)
		if err != nil {
			return "", apperr.Internalf(err, "allocating serial")
		}
		if !taken {
			a.metrics.IncrementAllocation(f.Prefix, "allocated")
			return candidate, nil
		}
		a.metrics.IncrementAllocation(f.Prefix, "collision")
	}

	a.metrics.IncrementAllocation(f.Prefix, "exhausted")
	return "", apperr.New(apperr.AllocationExhausted,
		fmt.Sprintf("no free serial for prefix %q after %d attempts", f.Prefix, a.maxRetries))
}

// Register allocates a serial for key and calls create with it inside one
// transaction, holding the prefix lock throughout. Nothing is committed
// unless both succeed.
func (a *Allocator) Register(ctx context.Context, db *sql.DB, key string, create func(tx *sql.Tx, serial string) error) (string, error) {
	f, ok := a.formats[key]
	if !ok {
		return "", apperr.Validationf("no serial prefix configured for %q", key)
	}

	release, err := keylock.Acquire(ctx, a.locker, "serial:"+f.Prefix, a.lockWait)
	if err != nil {
		if errors.Is(err, keylock.ErrBusy) || errors.Is(err, context.Canceled) {
			return "", apperr.Wrap(apperr.Conflict, "serial allocator busy", err)
		}
		return "", apperr.Internalf(err, "waiting for serial allocator")
	}
	defer release()

	var serial string
	err = store.WithTx(ctx, db, func(tx *sql.Tx) error {
		s, err := a.Allocate(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := create(tx, s); err != nil {
			return err
		}
		serial = s
		return nil
	})
	if errors.Is(err, apperr.AllocationExhausted) {
		// The rollback also undid the steps over serials that existing
		// records carry. Keep those so the next caller starts past them.
		if serr := store.WithTx(ctx, db, func(tx *sql.Tx) error {
			_, err := catchUp(ctx, tx, f)
			return err
		}); serr != nil {
			return "", errors.Join(err, apperr.Internalf(serr, "advancing serial counter"))
		}
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return "", err
		}
		return "", apperr.Internalf(err, "registering %s", key)
	}
	return serial, nil
}

// Imported moves the counter of the prefix serial belongs to past the run
// of serials already carried by records. It runs in the transaction that
// imports a legacy record; serials outside every configured format are
// left alone.
func (a *Allocator) Imported(ctx context.Context, q store.Querier, serial string) error {
	for _, f := range a.formats {
		if !matches(f, serial) {
			continue
		}
		if _, err := catchUp(ctx, q, f); err != nil {
			return apperr.Internalf(err, "advancing serial counter")
		}
		return nil
	}
	return nil
}

// catchUp advances the counter for f over consecutive taken serials and
// returns the new counter value.
func catchUp(ctx context.Context, q store.Querier, f config.SerialFormat) (int64, error) {
	start, err := store.CounterValue(ctx, q, f.Prefix)
	if err != nil {
		return 0, err
	}

	v := start
	for {
		taken, err := store.SerialTaken(ctx, q, format(f, v+1))
		if err != nil {
			return 0, err
		}
		if !taken {
			break
		}
		v++
	}
	if v == start {
		return v, nil
	}
	return v, store.AdvanceCounter(ctx, q, f.Prefix, v)
}

func format(f config.SerialFormat, n int64) string {
	return fmt.Sprintf("%s%0*d", f.Prefix, f.Width, n)
}

// matches reports whether serial has f's prefix followed by at least
// f.Width digits.
func matches(f config.SerialFormat, serial string) bool {
	digits, ok := strings.CutPrefix(serial, f.Prefix)
	if !ok || len(digits) < f.Width {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
