package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxNotesLength is measured in characters, not bytes.
const MaxNotesLength = 500

type AppointmentStatus string

const (
	StatusScheduled               AppointmentStatus = "scheduled"
	StatusCompleted               AppointmentStatus = "completed"
	StatusCancelledByPatient      AppointmentStatus = "cancelled_by_patient"
	StatusCancelledByNutritionist AppointmentStatus = "cancelled_by_nutritionist"
	StatusRescheduled             AppointmentStatus = "rescheduled"
	StatusNoShow                  AppointmentStatus = "no_show"
)

// AllStatuses lists every status; the transition table is checked against it in tests.
var AllStatuses = []AppointmentStatus{
	StatusScheduled,
	StatusCompleted,
	StatusCancelledByPatient,
	StatusCancelledByNutritionist,
	StatusRescheduled,
	StatusNoShow,
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelledByPatient,
		StatusCancelledByNutritionist, StatusRescheduled, StatusNoShow:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed out of s.
// Unknown statuses are not terminal; callers reject them with Valid.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledByPatient, StatusCancelledByNutritionist,
		StatusRescheduled, StatusNoShow:
		return true
	default:
		return false
	}
}

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	status := AppointmentStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("invalid appointment status %q", s)
	}
	return status, nil
}

func (s *AppointmentStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseAppointmentStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Appointment struct {
	Base
	PatientID      uuid.UUID         `json:"patient_id" db:"patient_id"`
	NutritionistID uuid.UUID         `json:"nutritionist_id" db:"nutritionist_id"`
	StartTime      time.Time         `json:"start_time" db:"start_time"`
	EndTime        time.Time         `json:"end_time" db:"end_time"`
	Status         AppointmentStatus `json:"status" db:"status"`
	Notes          string            `json:"notes" db:"notes"`
	MeetingLink    *string           `json:"meeting_link,omitempty" db:"meeting_link"`
}

// Overlaps applies the half-open rule: touching endpoints do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && a.EndTime.After(start)
}

// IsParticipant reports whether userID is the patient or the nutritionist.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.PatientID == userID || a.NutritionistID == userID
}

// AppointmentView is an appointment enriched with both parties' public identity.
type AppointmentView struct {
	Appointment
	Patient      *UserSummary `json:"patient,omitempty"`
	Nutritionist *UserSummary `json:"nutritionist,omitempty"`
}

type ScheduleAppointmentRequest struct {
	NutritionistID uuid.UUID `json:"nutritionist_id" binding:"required"`
	StartTime      time.Time `json:"start_time" binding:"required"`
	EndTime        time.Time `json:"end_time" binding:"required"`
	Notes          string    `json:"notes" binding:"max=500"`
	MeetingLink    *string   `json:"meeting_link" binding:"omitempty,url"`
}

type UpdateStatusRequest struct {
	Status AppointmentStatus `json:"status" binding:"required"`
	Notes  *string           `json:"notes" binding:"omitempty,max=500"`
}

type RescheduleAppointmentRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
	Notes     *string   `json:"notes" binding:"omitempty,max=500"`
}

// Slot is one bookable candidate produced by slot generation.
type Slot struct {
	Time                     time.Time  `json:"time"`
	EndTime                  time.Time  `json:"end_time"`
	IsAvailable              bool       `json:"is_available"`
	IsBooked                 bool       `json:"is_booked"`
	IsCurrent                bool       `json:"is_current,omitempty"`
	ConflictingAppointmentID *uuid.UUID `json:"conflicting_appointment_id,omitempty"`
}

// RescheduleResult pairs the retired appointment with its replacement.
type RescheduleResult struct {
	Previous    *Appointment `json:"previous"`
	Appointment *Appointment `json:"appointment"`
}

// AppointmentFilter selects appointments; nil fields do not filter.
// From and To select appointments overlapping [From, To).
type AppointmentFilter struct {
	PatientID      *uuid.UUID
	NutritionistID *uuid.UUID
	Status         *AppointmentStatus
	From           *time.Time
	To             *time.Time
}
