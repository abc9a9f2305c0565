package model

import "time"

// CustodyTransaction records an item being taken from or returned to inventory.
type CustodyTransaction struct {
	ID             int64      `json:"id"`
	ItemID         int64      `json:"item_id"`
	PersonnelID    int64      `json:"personnel_id"`
	Action         string     `json:"action"`
	Timestamp      time.Time  `json:"timestamp"`
	IssuedBy       int64      `json:"issued_by"`
	Magazines      int        `json:"magazines"`
	Rounds         int        `json:"rounds"`
	OriginClass    string     `json:"origin_class"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	ReturnOf       *int64     `json:"return_of,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`

	// Joined fields (not always populated).
	ItemSerial      string `json:"item_serial,omitempty"`
	PersonnelSerial string `json:"personnel_serial,omitempty"`
}

// Custody actions.
const (
	ActionTake   = "take"
	ActionReturn = "return"
)

// Quantities are the sub-resources handed out with an item. They are
// informational and never affect item state.
type Quantities struct {
	Magazines int `json:"magazines"`
	Rounds    int `json:"rounds"`
}

// Open reports whether this is a Take that has not been returned yet.
func (t *CustodyTransaction) Open() bool {
	return t.Action == ActionTake && t.ClosedAt == nil
}
