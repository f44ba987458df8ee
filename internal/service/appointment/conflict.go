package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
)

// ConflictDetector finds scheduled appointments that overlap a proposed interval.
// Only status scheduled blocks a calendar. Intervals are half-open, so an
// appointment ending at 09:30 does not conflict with one starting at 09:30.
//
// Callers that insert after a negative answer must hold the nutritionist's
// unit of work (repository.Transactor.WithinNutritionistTx) across both steps.
type ConflictDetector struct {
	repo repository.AppointmentRepository
}

func NewConflictDetector(repo repository.AppointmentRepository) *ConflictDetector {
	return &ConflictDetector{repo: repo}
}

// HasOverlap ignores excludeID, which lets a reschedule check skip the appointment being moved.
func (d *ConflictDetector) HasOverlap(ctx context.Context, nutritionistID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	return d.repo.HasOverlap(ctx, nutritionistID, start, end, excludeID)
}

// Booked lists the scheduled appointments of a nutritionist overlapping [from, to).
func (d *ConflictDetector) Booked(ctx context.Context, nutritionistID uuid.UUID, from, to time.Time) ([]*model.Appointment, error) {
	status := model.StatusScheduled
	return d.repo.List(ctx, model.AppointmentFilter{
		NutritionistID: &nutritionistID,
		Status:         &status,
		From:           &from,
		To:             &to,
	})
}
