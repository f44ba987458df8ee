package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/model"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrOverlap is returned when the store itself rejects an overlapping scheduled appointment.
var ErrOverlap = errors.New("overlapping scheduled appointment")

// All repository interfaces in one file
type (
	// Transactor runs units of work atomically. A transaction started here
	// travels in the context and is picked up by every repository call made with it.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
		// WithinNutritionistTx additionally serialises fn against every other
		// unit of work for the same nutritionist.
		WithinNutritionistTx(ctx context.Context, nutritionistID uuid.UUID, fn func(ctx context.Context) error) error
		Ping(ctx context.Context) error
	}

	AvailabilityRepository interface {
		// Replace discards every slot of the nutritionist and stores slots instead.
		Replace(ctx context.Context, nutritionistID uuid.UUID, slots []*model.AvailabilitySlot) error
		List(ctx context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error)
		ListActive(ctx context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error)
		ListActiveForDay(ctx context.Context, nutritionistID uuid.UUID, day model.DayOfWeek) ([]*model.AvailabilitySlot, error)
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		// GetForUpdate locks the row until the surrounding transaction ends.
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error)
		HasOverlap(ctx context.Context, nutritionistID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)
	}

	RelationshipRepository interface {
		IsActivelyLinked(ctx context.Context, patientID, nutritionistID uuid.UUID) (bool, error)
	}

	UserRepository interface {
		GetSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.UserSummary, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
