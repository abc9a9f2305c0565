package model

import "time"

// Item is an individually tracked piece of armory inventory.
type Item struct {
	ID          int64      `json:"id"`
	Serial      string     `json:"serial"`
	Kind        string     `json:"kind"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	CustodianID *int64     `json:"custodian_id,omitempty"`
	PriorStatus string     `json:"-"`
	PhotoMime   string     `json:"photo_mime,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Item kinds.
const (
	ItemKindWeapon        = "weapon"
	ItemKindMagazine      = "magazine"
	ItemKindAmmunitionLot = "ammunition_lot"
)

// Item statuses.
const (
	ItemStatusAvailable   = "available"
	ItemStatusIssued      = "issued"
	ItemStatusMaintenance = "maintenance"
	ItemStatusRetired     = "retired"
	ItemStatusInactive    = "inactive"
)

// ValidItemKind reports whether kind is a known item kind.
func ValidItemKind(kind string) bool {
	switch kind {
	case ItemKindWeapon, ItemKindMagazine, ItemKindAmmunitionLot:
		return true
	}
	return false
}

// Deleted reports whether the item has been soft-deleted.
func (i *Item) Deleted() bool { return i.DeletedAt != nil }
