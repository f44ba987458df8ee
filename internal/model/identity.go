package model

import (
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleNutritionist Role = "nutritionist"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleNutritionist, RoleAdmin:
		return true
	default:
		return false
	}
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// Identity is the authenticated caller, passed explicitly into every service call.
type Identity struct {
	CallerID uuid.UUID `json:"caller_id"`
	Role     Role      `json:"role"`
}

func (i Identity) Is(role Role) bool {
	return i.Role == role
}
