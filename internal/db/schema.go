package db

import (
	"database/sql"
	"fmt"
)

// schema is the primary database schema.
const schema = `
CREATE TABLE IF NOT EXISTS personnel (
    id             INTEGER PRIMARY KEY,
    serial         TEXT NOT NULL UNIQUE,
    name           TEXT NOT NULL,
    rank           TEXT,
    classification TEXT NOT NULL CHECK (classification IN ('enlisted', 'officer', 'superuser')),
    status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
    prior_status   TEXT,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at     DATETIME
);

CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL CHECK (role IN ('admin', 'armorer', 'commander', 'personnel')),
    personnel_id  INTEGER REFERENCES personnel(id),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id           INTEGER PRIMARY KEY,
    serial       TEXT NOT NULL UNIQUE,
    kind         TEXT NOT NULL CHECK (kind IN ('weapon', 'magazine', 'ammunition_lot')),
    name         TEXT NOT NULL,
    description  TEXT,
    status       TEXT NOT NULL DEFAULT 'available'
                 CHECK (status IN ('available', 'issued', 'maintenance', 'retired', 'inactive')),
    custodian_id INTEGER REFERENCES personnel(id),
    prior_status TEXT,
    photo        BLOB,
    photo_thumb  BLOB,
    photo_mime   TEXT,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at   DATETIME,
    CHECK ((status = 'issued') = (custodian_id IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS credential_tokens (
    id             INTEGER PRIMARY KEY,
    reference_id   TEXT NOT NULL UNIQUE,
    owner_type     TEXT NOT NULL CHECK (owner_type IN ('item', 'personnel')),
    owner_id       INTEGER NOT NULL,
    active         INTEGER NOT NULL DEFAULT 1,
    issued_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deactivated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_credential_tokens_owner
    ON credential_tokens(owner_type, owner_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credential_tokens_one_active
    ON credential_tokens(owner_type, owner_id) WHERE active = 1;

CREATE TABLE IF NOT EXISTS custody_transactions (
    id              INTEGER PRIMARY KEY,
    item_id         INTEGER NOT NULL REFERENCES items(id),
    personnel_id    INTEGER NOT NULL REFERENCES personnel(id),
    action          TEXT NOT NULL CHECK (action IN ('take', 'return')),
    timestamp       DATETIME NOT NULL,
    issued_by       INTEGER NOT NULL,
    magazines       INTEGER NOT NULL DEFAULT 0 CHECK (magazines >= 0),
    rounds          INTEGER NOT NULL DEFAULT 0 CHECK (rounds >= 0),
    origin_class    TEXT NOT NULL,
    idempotency_key TEXT,
    return_of       INTEGER REFERENCES custody_transactions(id),
    closed_at       DATETIME,
    notes           TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_custody_one_open_take_per_item
    ON custody_transactions(item_id) WHERE action = 'take' AND closed_at IS NULL;

CREATE UNIQUE INDEX IF NOT EXISTS idx_custody_idempotency
    ON custody_transactions(item_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_custody_open_by_personnel
    ON custody_transactions(personnel_id) WHERE action = 'take' AND closed_at IS NULL;

CREATE TABLE IF NOT EXISTS serial_counters (
    prefix TEXT PRIMARY KEY,
    value  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_outbox (
    id           INTEGER PRIMARY KEY,
    intent_id    TEXT NOT NULL UNIQUE,
    entity_type  TEXT NOT NULL,
    entity_id    INTEGER NOT NULL,
    action       TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    reason       TEXT,
    actor_id     INTEGER NOT NULL,
    origin_class TEXT NOT NULL,
    request_id   TEXT,
    timestamp    DATETIME NOT NULL,
    before       TEXT,
    after        TEXT
);
`

// auditSchema lives in its own database so history outlives entity rows.
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id           INTEGER PRIMARY KEY,
    entity_type  TEXT NOT NULL,
    entity_id    INTEGER NOT NULL,
    seq          INTEGER NOT NULL,
    action       TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    reason       TEXT,
    actor_id     INTEGER NOT NULL,
    origin_class TEXT NOT NULL,
    request_id   TEXT,
    timestamp    DATETIME NOT NULL,
    before       TEXT,
    after        TEXT,
    intent_id    TEXT UNIQUE,
    UNIQUE (entity_type, entity_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);

CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
BEFORE UPDATE ON audit_entries
BEGIN
    SELECT RAISE(ABORT, 'audit entries are immutable');
END;

CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
BEFORE DELETE ON audit_entries
BEGIN
    SELECT RAISE(ABORT, 'audit entries are immutable');
END;
`

// EnsureSchema creates all primary tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// EnsureAuditSchema creates the audit trail table and its immutability triggers.
func EnsureAuditSchema(db *sql.DB) error {
	if _, err := db.Exec(auditSchema); err != nil {
		return fmt.Errorf("creating audit schema: %w", err)
	}
	return nil
}
