package model

import "github.com/google/uuid"

// UserSummary is the public face of a platform user as shown to the other party
// of an appointment. It never carries credentials.
type UserSummary struct {
	ID    uuid.UUID `json:"id" db:"id"`
	Name  string    `json:"name" db:"name"`
	Email string    `json:"email" db:"email"`
	Role  Role      `json:"role" db:"role"`
}
