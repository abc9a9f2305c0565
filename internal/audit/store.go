package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/erazemk/orozarna/internal/model"
)

// Store persists audit entries. Append assigns the entry's ID and its
// per-entity sequence number. Appending an entry whose IntentID is already
// stored returns the stored entry instead of adding another.
type Store interface {
	Append(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error)
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]model.AuditEntry, error)
	ListRecent(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

// SQLStore keeps audit entries in their own SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over an audit database prepared with
// db.EnsureAuditSchema.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const entryColumns = `id, entity_type, entity_id, seq, action, outcome, reason, actor_id,
        origin_class, request_id, timestamp, before, after, intent_id`

// Append writes e with the next sequence number for its entity. The number
// is computed in the insert itself, so no other writer can take it.
func (s *SQLStore) Append(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO audit_entries
		    (entity_type, entity_id, seq, action, outcome, reason, actor_id, origin_class,
		     request_id, timestamp, before, after, intent_id)
		 SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 FROM audit_entries WHERE entity_type = ? AND entity_id = ?
		 ON CONFLICT (intent_id) DO NOTHING
		 RETURNING id, seq`,
		e.EntityType, e.EntityID, e.Action, e.Outcome, e.Reason, e.ActorID, e.OriginClass,
		e.RequestID, e.Timestamp, nullJSON(e.Before), nullJSON(e.After), nullString(e.IntentID),
		e.EntityType, e.EntityID,
	).Scan(&e.ID, &e.Seq)
	if errors.Is(err, sql.ErrNoRows) && e.IntentID != "" {
		return s.byIntent(ctx, e.IntentID)
	}
	if err != nil {
		return e, fmt.Errorf("appending audit entry: %w", err)
	}
	return e, nil
}

func (s *SQLStore) byIntent(ctx context.Context, intentID string) (model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries WHERE intent_id = ?`, intentID,
	)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("reading relayed audit entry: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return model.AuditEntry{}, err
	}
	if len(entries) == 0 {
		return model.AuditEntry{}, fmt.Errorf("audit entry for intent %s vanished", intentID)
	}
	return entries[0], nil
}

// ListByEntity returns an entity's history in sequence order.
func (s *SQLStore) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries
		 WHERE entity_type = ? AND entity_id = ? ORDER BY seq`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return scanEntries(rows)
}

// ListRecent returns the newest entries first.
func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent audit entries: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.AuditEntry, error) {
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var reason, requestID, before, after, intentID sql.NullString
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Seq, &e.Action, &e.Outcome,
			&reason, &e.ActorID, &e.OriginClass, &requestID, &e.Timestamp, &before, &after, &intentID); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Reason = reason.String
		e.RequestID = requestID.String
		e.IntentID = intentID.String
		if before.Valid {
			e.Before = []byte(before.String)
		}
		if after.Valid {
			e.After = []byte(after.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	seq     map[model.EntityRef]int64
	intents map[string]model.AuditEntry
	// FailWith, when set, makes every Append fail.
	FailWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seq: make(map[model.EntityRef]int64), intents: make(map[string]model.AuditEntry)}
}

func (s *MemoryStore) Append(_ context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return e, s.FailWith
	}
	if prev, ok := s.intents[e.IntentID]; ok && e.IntentID != "" {
		return prev, nil
	}

	ref := model.EntityRef{Type: e.EntityType, ID: e.EntityID}
	s.seq[ref]++
	e.Seq = s.seq[ref]
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, e)
	if e.IntentID != "" {
		s.intents[e.IntentID] = e
	}
	return e, nil
}

func (s *MemoryStore) ListByEntity(_ context.Context, entityType string, entityID int64) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.AuditEntry
	for _, e := range s.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.AuditEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// All returns every entry in append order.
func (s *MemoryStore) All() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.entries...)
}
