package model

import "time"

// Personnel is a service member who can hold items in custody.
type Personnel struct {
	ID             int64      `json:"id"`
	Serial         string     `json:"serial"`
	Name           string     `json:"name"`
	Rank           string     `json:"rank,omitempty"`
	Classification string     `json:"classification"`
	Status         string     `json:"status"`
	PriorStatus    string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Personnel classifications.
const (
	ClassificationEnlisted  = "enlisted"
	ClassificationOfficer   = "officer"
	ClassificationSuperuser = "superuser"
)

// Personnel statuses.
const (
	PersonnelStatusActive   = "active"
	PersonnelStatusInactive = "inactive"
)

// ValidClassification reports whether c is a known personnel classification.
func ValidClassification(c string) bool {
	switch c {
	case ClassificationEnlisted, ClassificationOfficer, ClassificationSuperuser:
		return true
	}
	return false
}

// Deleted reports whether the record has been soft-deleted.
func (p *Personnel) Deleted() bool { return p.DeletedAt != nil }
