package db

import (
	"testing"
	"time"
)

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)
	if err := EnsureSchema(database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestAuditEntriesImmutable(t *testing.T) {
	database := NewTestAuditDB(t)

	_, err := database.Exec(
		`INSERT INTO audit_entries (entity_type, entity_id, seq, action, outcome, actor_id, origin_class, timestamp)
		 VALUES ('item', 1, 1, 'take', 'succeeded', 1, 'lan', ?)`, time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := database.Exec(`UPDATE audit_entries SET outcome = 'rejected'`); err == nil {
		t.Error("expected update of audit entry to fail")
	}
	if _, err := database.Exec(`DELETE FROM audit_entries`); err == nil {
		t.Error("expected delete of audit entry to fail")
	}
}

func TestOneOpenTakePerItem(t *testing.T) {
	database := NewTestDB(t)

	mustExec := func(q string, args ...any) {
		t.Helper()
		if _, err := database.Exec(q, args...); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	mustExec(`INSERT INTO personnel (id, serial, name, classification) VALUES (1, 'E-1', 'A', 'enlisted')`)
	mustExec(`INSERT INTO items (id, serial, kind, name) VALUES (1, 'W-1', 'weapon', 'Rifle')`)

	insertTake := `INSERT INTO custody_transactions (item_id, personnel_id, action, timestamp, issued_by, origin_class)
	               VALUES (1, 1, 'take', ?, 1, 'lan')`
	mustExec(insertTake, time.Now().UTC())

	if _, err := database.Exec(insertTake, time.Now().UTC()); err == nil {
		t.Error("expected second open take for the same item to violate the unique index")
	}
}

func TestIssuedItemRequiresCustodian(t *testing.T) {
	database := NewTestDB(t)

	_, err := database.Exec(`INSERT INTO items (serial, kind, name, status) VALUES ('W-1', 'weapon', 'Rifle', 'issued')`)
	if err == nil {
		t.Error("expected issued item without custodian to be rejected")
	}
}
