package model

import "time"

// CredentialToken is the printable credential (QR badge, item tag) bound to
// an item or a personnel record.
type CredentialToken struct {
	ID            int64      `json:"id"`
	ReferenceID   string     `json:"reference_id"`
	OwnerType     string     `json:"owner_type"`
	OwnerID       int64      `json:"owner_id"`
	Active        bool       `json:"active"`
	IssuedAt      time.Time  `json:"issued_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Entity types shared by credential tokens, lifecycle operations and audit entries.
const (
	EntityItem      = "item"
	EntityPersonnel = "personnel"
	EntityCustody   = "custody"
	EntityUser      = "user"
	EntityAuthz     = "authz"
)

// EntityRef identifies a soft-deletable record.
type EntityRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}
