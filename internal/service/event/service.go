package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
)

// Event types written to the outbox. The worker publishes each on a channel of the same name.
const (
	AvailabilityReplaced     = "availability.replaced"
	AppointmentScheduled     = "appointment.scheduled"
	AppointmentStatusChanged = "appointment.status_changed"
	AppointmentRescheduled   = "appointment.rescheduled"
	AppointmentDeleted       = "appointment.deleted"
)

// Emitter records a domain event in the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, eventType string, aggregateID uuid.UUID, payload interface{}) error
}

type AppointmentPayload struct {
	AppointmentID  uuid.UUID               `json:"appointment_id"`
	PatientID      uuid.UUID               `json:"patient_id"`
	NutritionistID uuid.UUID               `json:"nutritionist_id"`
	StartTime      time.Time               `json:"start_time"`
	EndTime        time.Time               `json:"end_time"`
	Status         model.AppointmentStatus `json:"status"`
	PreviousStatus model.AppointmentStatus `json:"previous_status,omitempty"`
	ReplacedBy     *uuid.UUID              `json:"replaced_by,omitempty"`
	ActorID        uuid.UUID               `json:"actor_id"`
	ActorRole      model.Role              `json:"actor_role"`
}

// NewAppointmentPayload snapshots a for an event raised by actor.
func NewAppointmentPayload(a *model.Appointment, actor model.Identity) AppointmentPayload {
	return AppointmentPayload{
		AppointmentID:  a.ID,
		PatientID:      a.PatientID,
		NutritionistID: a.NutritionistID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         a.Status,
		ActorID:        actor.CallerID,
		ActorRole:      actor.Role,
	}
}

type AvailabilityPayload struct {
	NutritionistID uuid.UUID `json:"nutritionist_id"`
	SlotCount      int       `json:"slot_count"`
	ActiveCount    int       `json:"active_count"`
}

type Service struct {
	outboxRepo repository.OutboxRepository
}

func NewService(outboxRepo repository.OutboxRepository) *Service {
	return &Service{outboxRepo: outboxRepo}
}

func (s *Service) Emit(ctx context.Context, eventType string, aggregateID uuid.UUID, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return s.outboxRepo.Create(ctx, &model.OutboxEvent{
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     body,
	})
}
