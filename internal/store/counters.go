package store

import (
	"context"
	"fmt"
)

// NextCounter increments the durable counter for prefix and returns the new
// value. Run it inside the transaction that consumes the value, so a rollback
// also rolls back the increment.
func NextCounter(ctx context.Context, q Querier, prefix string) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO serial_counters (prefix, value) VALUES (?, 1)
		 ON CONFLICT (prefix) DO UPDATE SET value = value + 1
		 RETURNING value`, prefix,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %q: %w", prefix, err)
	}
	return value, nil
}

// AdvanceCounter raises the counter for prefix to value. A counter already
// past value is left alone.
func AdvanceCounter(ctx context.Context, q Querier, prefix string, value int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO serial_counters (prefix, value) VALUES (?, ?)
		 ON CONFLICT (prefix) DO UPDATE SET value = MAX(value, excluded.value)`,
		prefix, value,
	)
	if err != nil {
		return fmt.Errorf("advancing counter %q: %w", prefix, err)
	}
	return nil
}

// CounterValue returns the last value handed out for prefix (0 if none).
func CounterValue(ctx context.Context, q Querier, prefix string) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT value FROM serial_counters WHERE prefix = ?), 0)`, prefix,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("reading counter %q: %w", prefix, err)
	}
	return value, nil
}

// SerialTaken reports whether serial is used by any item or personnel record,
// soft-deleted ones included.
func SerialTaken(ctx context.Context, q Querier, serial string) (bool, error) {
	var taken bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM personnel WHERE serial = ?)
		     OR EXISTS (SELECT 1 FROM items WHERE serial = ?)`,
		serial, serial,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("checking serial %q: %w", serial, err)
	}
	return taken, nil
}
