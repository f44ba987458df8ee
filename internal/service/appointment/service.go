package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
	"github.com/nutricoach/scheduling-api/internal/service/event"
	"github.com/nutricoach/scheduling-api/internal/service/relationship"
	apperrors "github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

// AvailabilityReader is the slice of the availability store the lifecycle needs.
type AvailabilityReader interface {
	ListActiveForDay(ctx context.Context, nutritionistID uuid.UUID, day model.DayOfWeek) ([]*model.AvailabilitySlot, error)
}

type Config struct {
	// EnforceAvailability requires bookings to fit inside one active weekly slot.
	EnforceAvailability bool
	// Location is where weekly availability minutes are interpreted.
	Location *time.Location
}

// Service owns appointment creation and every status change after it.
type Service struct {
	repo         repository.AppointmentRepository
	tx           repository.Transactor
	gate         relationship.Gate
	detector     *ConflictDetector
	availability AvailabilityReader
	events       event.Emitter
	cfg          Config
	logger       *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	repo repository.AppointmentRepository,
	tx repository.Transactor,
	gate relationship.Gate,
	availability AvailabilityReader,
	events event.Emitter,
	cfg Config,
	logger *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		repo:         repo,
		tx:           tx,
		gate:         gate,
		detector:     NewConflictDetector(repo),
		availability: availability,
		events:       events,
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detector exposes the conflict detector used by this service.
func (s *Service) Detector() *ConflictDetector {
	return s.detector
}

type ScheduleParams struct {
	PatientID      uuid.UUID
	NutritionistID uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Notes          string
	MeetingLink    *string
}

// Schedule books [StartTime, EndTime) for a linked patient. The overlap check
// and the insert run in the nutritionist's unit of work, so two concurrent
// requests for the same time cannot both succeed.
func (s *Service) Schedule(ctx context.Context, actor model.Identity, p ScheduleParams) (*model.Appointment, error) {
	const op = "schedule_appointment"

	if err := s.checkLinked(ctx, p.PatientID, p.NutritionistID); err != nil {
		return nil, s.reject(op, err)
	}
	if err := validateNotes(p.Notes); err != nil {
		return nil, s.reject(op, err)
	}
	if err := s.checkInterval(ctx, p.NutritionistID, p.StartTime, p.EndTime); err != nil {
		return nil, s.reject(op, err)
	}

	appointment := &model.Appointment{
		PatientID:      p.PatientID,
		NutritionistID: p.NutritionistID,
		StartTime:      p.StartTime.UTC(),
		EndTime:        p.EndTime.UTC(),
		Status:         model.StatusScheduled,
		Notes:          p.Notes,
		MeetingLink:    p.MeetingLink,
	}
	appointment.ID = uuid.New()

	err := s.tx.WithinNutritionistTx(ctx, p.NutritionistID, func(ctx context.Context) error {
		if err := s.insert(ctx, appointment, nil); err != nil {
			return err
		}
		return s.events.Emit(ctx, event.AppointmentScheduled, appointment.ID, event.NewAppointmentPayload(appointment, actor))
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.metrics.AppointmentsScheduled.Inc()
	s.logger.Info("Appointment scheduled",
		"appointment_id", appointment.ID.String(),
		"patient_id", appointment.PatientID.String(),
		"nutritionist_id", appointment.NutritionistID.String(),
		"start_time", appointment.StartTime.Format(time.RFC3339))
	return appointment, nil
}

// UpdateStatus moves a scheduled appointment to target. Notes are replaced
// when provided. A terminal appointment never changes again.
func (s *Service) UpdateStatus(ctx context.Context, actor model.Identity, id uuid.UUID, target model.AppointmentStatus, notes *string) (*model.Appointment, error) {
	const op = "update_status"

	if !target.Valid() {
		return nil, s.reject(op, apperrors.NewBadRequest("invalid appointment status", nil))
	}
	if notes != nil {
		if err := validateNotes(*notes); err != nil {
			return nil, s.reject(op, err)
		}
	}

	existing, err := s.load(ctx, s.repo.Get, id)
	if err != nil {
		return nil, s.reject(op, err)
	}

	var previous model.AppointmentStatus
	var updated *model.Appointment
	err = s.tx.WithinNutritionistTx(ctx, existing.NutritionistID, func(ctx context.Context) error {
		current, err := s.load(ctx, s.repo.GetForUpdate, id)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return apperrors.NewTerminalState(string(current.Status))
		}
		if !CanSetStatus(actor, current, target) {
			return apperrors.NewForbidden("not allowed to set status " + string(target))
		}

		previous = current.Status
		current.Status = target
		if notes != nil {
			current.Notes = *notes
		}
		if err := s.repo.Update(ctx, current); err != nil {
			return translate(err)
		}

		payload := event.NewAppointmentPayload(current, actor)
		payload.PreviousStatus = previous
		updated = current
		return s.events.Emit(ctx, event.AppointmentStatusChanged, current.ID, payload)
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.metrics.StatusTransitions.WithLabelValues(string(previous), string(target)).Inc()
	s.logger.Info("Appointment status updated",
		"appointment_id", id.String(),
		"from", string(previous),
		"to", string(target),
		"actor_id", actor.CallerID.String())
	return updated, nil
}

type RescheduleParams struct {
	StartTime time.Time
	EndTime   time.Time
	// Notes replaces the notes carried over from the previous appointment when set.
	Notes *string
}

// Reschedule marks the appointment rescheduled and books its replacement in
// one unit of work. The old interval does not block the new one.
func (s *Service) Reschedule(ctx context.Context, actor model.Identity, id uuid.UUID, p RescheduleParams) (*model.RescheduleResult, error) {
	const op = "reschedule_appointment"

	if p.Notes != nil {
		if err := validateNotes(*p.Notes); err != nil {
			return nil, s.reject(op, err)
		}
	}

	existing, err := s.load(ctx, s.repo.Get, id)
	if err != nil {
		return nil, s.reject(op, err)
	}
	if !canView(actor, existing) {
		return nil, s.reject(op, apperrors.NewForbidden("not a participant of this appointment"))
	}
	if err := s.checkLinked(ctx, existing.PatientID, existing.NutritionistID); err != nil {
		return nil, s.reject(op, err)
	}
	if err := s.checkInterval(ctx, existing.NutritionistID, p.StartTime, p.EndTime); err != nil {
		return nil, s.reject(op, err)
	}

	result := &model.RescheduleResult{}
	err = s.tx.WithinNutritionistTx(ctx, existing.NutritionistID, func(ctx context.Context) error {
		current, err := s.load(ctx, s.repo.GetForUpdate, id)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return apperrors.NewTerminalState(string(current.Status))
		}
		if !CanSetStatus(actor, current, model.StatusRescheduled) {
			return apperrors.NewForbidden("not allowed to reschedule this appointment")
		}

		overlap, err := s.detector.HasOverlap(ctx, current.NutritionistID, p.StartTime, p.EndTime, &current.ID)
		if err != nil {
			return translate(err)
		}
		if overlap {
			return apperrors.NewSlotConflict(nil)
		}

		replacement := &model.Appointment{
			PatientID:      current.PatientID,
			NutritionistID: current.NutritionistID,
			StartTime:      p.StartTime.UTC(),
			EndTime:        p.EndTime.UTC(),
			Status:         model.StatusScheduled,
			Notes:          current.Notes,
			MeetingLink:    current.MeetingLink,
		}
		replacement.ID = uuid.New()
		if p.Notes != nil {
			replacement.Notes = *p.Notes
		}

		current.Status = model.StatusRescheduled
		if err := s.repo.Update(ctx, current); err != nil {
			return translate(err)
		}
		if err := s.insert(ctx, replacement, &current.ID); err != nil {
			return err
		}

		payload := event.NewAppointmentPayload(current, actor)
		payload.PreviousStatus = model.StatusScheduled
		payload.ReplacedBy = &replacement.ID
		if err := s.events.Emit(ctx, event.AppointmentRescheduled, current.ID, payload); err != nil {
			return err
		}

		result.Previous = current
		result.Appointment = replacement
		return nil
	})
	if err != nil {
		return nil, s.reject(op, err)
	}

	s.metrics.StatusTransitions.WithLabelValues(string(model.StatusScheduled), string(model.StatusRescheduled)).Inc()
	s.metrics.AppointmentsScheduled.Inc()
	s.logger.Info("Appointment rescheduled",
		"appointment_id", id.String(),
		"replacement_id", result.Appointment.ID.String(),
		"actor_id", actor.CallerID.String())
	return result, nil
}

// Get returns one appointment to a participant or an admin.
func (s *Service) Get(ctx context.Context, actor model.Identity, id uuid.UUID) (*model.Appointment, error) {
	a, err := s.load(ctx, s.repo.Get, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, apperrors.NewForbidden("not a participant of this appointment")
	}
	return a, nil
}

// List returns the caller's appointments ordered by start time. Admins see every appointment.
func (s *Service) List(ctx context.Context, actor model.Identity) ([]*model.Appointment, error) {
	filter := model.AppointmentFilter{}
	switch actor.Role {
	case model.RolePatient:
		filter.PatientID = &actor.CallerID
	case model.RoleNutritionist:
		filter.NutritionistID = &actor.CallerID
	case model.RoleAdmin:
	default:
		return nil, apperrors.NewForbidden("unknown role")
	}

	appointments, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error(err, "Failed to list appointments", "caller_id", actor.CallerID.String())
		return nil, apperrors.NewInternal(err)
	}
	return appointments, nil
}

// Delete removes an appointment outright. Only admins may do this.
func (s *Service) Delete(ctx context.Context, actor model.Identity, id uuid.UUID) error {
	const op = "delete_appointment"

	if !actor.Is(model.RoleAdmin) {
		return s.reject(op, apperrors.NewForbidden("only admins can delete appointments"))
	}

	existing, err := s.load(ctx, s.repo.Get, id)
	if err != nil {
		return s.reject(op, err)
	}

	err = s.tx.WithinNutritionistTx(ctx, existing.NutritionistID, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return translate(err)
		}
		return s.events.Emit(ctx, event.AppointmentDeleted, id, event.NewAppointmentPayload(existing, actor))
	})
	if err != nil {
		return s.reject(op, err)
	}

	s.logger.Warn("Appointment deleted", "appointment_id", id.String(), "actor_id", actor.CallerID.String())
	return nil
}

// insert must run inside the nutritionist's unit of work.
func (s *Service) insert(ctx context.Context, a *model.Appointment, excludeID *uuid.UUID) error {
	overlap, err := s.detector.HasOverlap(ctx, a.NutritionistID, a.StartTime, a.EndTime, excludeID)
	if err != nil {
		return translate(err)
	}
	if overlap {
		return apperrors.NewSlotConflict(nil)
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Service) checkLinked(ctx context.Context, patientID, nutritionistID uuid.UUID) error {
	linked, err := s.gate.IsActivelyLinked(ctx, patientID, nutritionistID)
	if err != nil {
		return apperrors.NewInternal(err)
	}
	if !linked {
		return apperrors.NewNotLinked()
	}
	return nil
}

func (s *Service) checkInterval(ctx context.Context, nutritionistID uuid.UUID, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperrors.NewInvalidInterval("start_time and end_time are required")
	}
	if !start.Before(end) {
		return apperrors.NewInvalidInterval("end_time must be after start_time")
	}
	if !start.After(s.now()) {
		return apperrors.NewPastSchedule()
	}
	if s.cfg.EnforceAvailability {
		return s.checkWithinAvailability(ctx, nutritionistID, start, end)
	}
	return nil
}

// checkWithinAvailability requires [start, end) to fall on one local day and
// inside a single active slot of that weekday.
func (s *Service) checkWithinAvailability(ctx context.Context, nutritionistID uuid.UUID, start, end time.Time) error {
	localStart := start.In(s.cfg.Location)
	localEnd := end.In(s.cfg.Location)

	startMinute := localStart.Hour()*60 + localStart.Minute()
	endMinute, ok := minuteOfDay(localStart, localEnd)
	if !ok {
		return apperrors.NewOutsideAvailability()
	}

	slots, err := s.availability.ListActiveForDay(ctx, nutritionistID, model.DayOfWeekOf(localStart))
	if err != nil {
		return apperrors.NewInternal(err)
	}
	for _, slot := range slots {
		if slot.Contains(startMinute, endMinute) {
			return nil
		}
	}
	return apperrors.NewOutsideAvailability()
}

// minuteOfDay returns end as a minute on start's calendar day, rounding partial
// minutes up. Midnight of the following day counts as minute 1440.
func minuteOfDay(start, end time.Time) (int, bool) {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy == ey && sm == em && sd == ed {
		minute := end.Hour()*60 + end.Minute()
		if end.Second() != 0 || end.Nanosecond() != 0 {
			minute++
		}
		return minute, true
	}
	nextDay := time.Date(sy, sm, sd+1, 0, 0, 0, 0, start.Location())
	if end.Equal(nextDay) {
		return model.MinutesPerDay, true
	}
	return 0, false
}

func validateNotes(notes string) error {
	if utf8.RuneCountInString(notes) > model.MaxNotesLength {
		return apperrors.NewBadRequest("notes must be at most 500 characters", nil)
	}
	return nil
}

func (s *Service) load(ctx context.Context, get func(context.Context, uuid.UUID) (*model.Appointment, error), id uuid.UUID) (*model.Appointment, error) {
	a, err := get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if !a.Status.Valid() {
		return nil, apperrors.NewInternal(fmt.Errorf("appointment %s has invalid stored status %q", a.ID, a.Status))
	}
	return a, nil
}

// translate maps repository sentinels onto application errors.
func translate(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("appointment", err)
	case errors.Is(err, repository.ErrOverlap):
		return apperrors.NewSlotConflict(err)
	default:
		return err
	}
}

// reject counts business-rule failures and hides storage errors behind ErrInternal.
func (s *Service) reject(op string, err error) error {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		s.logger.Error(err, "Appointment operation failed", "operation", op)
		return apperrors.NewInternal(err)
	}
	if appErr.Code == apperrors.ErrInternal {
		s.logger.Error(appErr, "Appointment operation failed", "operation", op)
		return appErr
	}
	s.metrics.SchedulingRejections.WithLabelValues(op, appErr.Code.String()).Inc()
	return appErr
}
