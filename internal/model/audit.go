package model

import (
	"encoding/json"
	"time"
)

// AuditEntry is an immutable record of a decision or state change.
type AuditEntry struct {
	ID          int64           `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    int64           `json:"entity_id"`
	Seq         int64           `json:"seq"`
	Action      string          `json:"action"`
	Outcome     string          `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	ActorID     int64           `json:"actor_id"`
	OriginClass string          `json:"origin_class"`
	RequestID   string          `json:"request_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	IntentID    string          `json:"intent_id,omitempty"`
}

// Audit outcomes.
const (
	OutcomeAllowed   = "allowed"
	OutcomeDenied    = "denied"
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
)

// Audited actions on entities. Authorization decisions use the operation
// name as their action.
const (
	AuditRegister   = "register"
	AuditImport     = "import"
	AuditUpdate     = "update"
	AuditSoftDelete = "soft_delete"
	AuditRestore    = "restore"
	AuditIssueToken = "issue_token"
	AuditTake       = "take"
	AuditReturn     = "return"
	AuditSetPhoto   = "set_photo"
	AuditCreateUser = "create_user"
	AuditDeleteUser = "delete_user"
)
