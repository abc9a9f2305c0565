package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/orozarna/internal/model"
)

// AppendOutbox stores an audit intent. Call it with the transaction that makes
// the audited change so the change and its intent commit together. An intent
// without an IntentID gets a fresh one.
func AppendOutbox(ctx context.Context, q Querier, e model.AuditEntry) error {
	if e.IntentID == "" {
		e.IntentID = uuid.NewString()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_outbox
		    (intent_id, entity_type, entity_id, action, outcome, reason, actor_id, origin_class, request_id, timestamp, before, after)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.IntentID, e.EntityType, e.EntityID, e.Action, e.Outcome, e.Reason, e.ActorID, e.OriginClass,
		e.RequestID, e.Timestamp, nullJSON(e.Before), nullJSON(e.After),
	)
	if err != nil {
		return fmt.Errorf("writing audit intent: %w", err)
	}
	return nil
}

// PendingOutbox returns up to limit audit intents in insertion order.
// The returned entries carry the outbox row id in ID and their IntentID.
func PendingOutbox(ctx context.Context, q Querier, limit int) ([]model.AuditEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, intent_id, entity_type, entity_id, action, outcome, reason, actor_id, origin_class,
		        request_id, timestamp, before, after
		 FROM audit_outbox ORDER BY id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading audit outbox: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var reason, requestID, before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.IntentID, &e.EntityType, &e.EntityID, &e.Action, &e.Outcome, &reason,
			&e.ActorID, &e.OriginClass, &requestID, &e.Timestamp, &before, &after); err != nil {
			return nil, fmt.Errorf("scanning audit intent: %w", err)
		}
		e.Reason = reason.String
		e.RequestID = requestID.String
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

// DeleteOutbox removes relayed audit intents.
func DeleteOutbox(ctx context.Context, q Querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM audit_outbox WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("clearing audit outbox: %w", err)
	}
	return nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
