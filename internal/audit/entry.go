package audit

import (
	"errors"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/model"
)

// Entry starts an entry for something actor did to an entity.
func Entry(actor model.Actor, entityType string, entityID int64, action, outcome string) model.AuditEntry {
	return model.AuditEntry{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Outcome:     outcome,
		ActorID:     actor.ID,
		OriginClass: string(actor.Origin),
		RequestID:   actor.RequestID,
	}
}

// Rejected is the entry for an attempt that failed with err. Unclassified
// failures are recorded with a generic reason so internals don't leak into
// the trail.
func Rejected(actor model.Actor, entityType string, entityID int64, action string, err error) model.AuditEntry {
	e := Entry(actor, entityType, entityID, action, model.OutcomeRejected)
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.Internal {
		e.Reason = ae.Reason
	} else {
		e.Reason = "internal error"
	}
	return e
}

// Notifier is told when new outbox intents have been committed.
type Notifier interface {
	Notify()
}
