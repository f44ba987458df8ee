package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
)

const availabilityColumns = `id, nutritionist_id, day_of_week, start_minute, end_minute, is_active, created_at`

type availabilityRepository struct {
	BaseRepository
}

func NewAvailabilityRepository(base BaseRepository) repository.AvailabilityRepository {
	return &availabilityRepository{base}
}

// Replace must run inside a transaction so readers never see a half-cleared week.
func (r *availabilityRepository) Replace(ctx context.Context, nutritionistID uuid.UUID, slots []*model.AvailabilitySlot) error {
	conn := r.conn(ctx)

	if _, err := conn.ExecContext(ctx,
		`DELETE FROM availability_slots WHERE nutritionist_id = $1`, nutritionistID); err != nil {
		return fmt.Errorf("failed to clear availability: %w", err)
	}

	if len(slots) == 0 {
		return nil
	}

	query := `
		INSERT INTO availability_slots (
			id, nutritionist_id, day_of_week, start_minute, end_minute, is_active, created_at
		) VALUES (
			:id, :nutritionist_id, :day_of_week, :start_minute, :end_minute, :is_active, :created_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, conn, query, slots); err != nil {
		return fmt.Errorf("failed to insert availability: %w", err)
	}
	return nil
}

func (r *availabilityRepository) List(ctx context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	query := `SELECT ` + availabilityColumns + `
		FROM availability_slots
		WHERE nutritionist_id = $1
		ORDER BY day_of_week, start_minute, end_minute`

	slots := []*model.AvailabilitySlot{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &slots, query, nutritionistID); err != nil {
		return nil, fmt.Errorf("failed to list availability: %w", err)
	}
	return slots, nil
}

func (r *availabilityRepository) ListActive(ctx context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	query := `SELECT ` + availabilityColumns + `
		FROM availability_slots
		WHERE nutritionist_id = $1 AND is_active
		ORDER BY day_of_week, start_minute, end_minute`

	slots := []*model.AvailabilitySlot{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &slots, query, nutritionistID); err != nil {
		return nil, fmt.Errorf("failed to list active availability: %w", err)
	}
	return slots, nil
}

func (r *availabilityRepository) ListActiveForDay(ctx context.Context, nutritionistID uuid.UUID, day model.DayOfWeek) ([]*model.AvailabilitySlot, error) {
	query := `SELECT ` + availabilityColumns + `
		FROM availability_slots
		WHERE nutritionist_id = $1 AND day_of_week = $2 AND is_active
		ORDER BY start_minute, end_minute`

	slots := []*model.AvailabilitySlot{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &slots, query, nutritionistID, day); err != nil {
		return nil, fmt.Errorf("failed to list availability for %s: %w", day, err)
	}
	return slots, nil
}
