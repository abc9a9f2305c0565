package model

import (
	"errors"
	"time"
)

// User is an operator account (separate from personnel records).
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	PersonnelID  *int64     `json:"personnel_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Roles.
const (
	RoleAdmin     = "admin"
	RoleArmorer   = "armorer"
	RoleCommander = "commander"
	RolePersonnel = "personnel"
)

// ValidRole reports whether role is a known role. Unknown roles fail closed
// everywhere they are checked.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleArmorer, RoleCommander, RolePersonnel:
		return true
	}
	return false
}

// MinPasswordLength is the shortest accepted operator password.
const MinPasswordLength = 8

// ValidatePassword checks operator password requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
