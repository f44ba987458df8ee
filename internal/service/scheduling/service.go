// Package scheduling is the request-facing API of the scheduling engine. It
// checks who may call what and composes the availability store, the slot
// generator and the appointment lifecycle.
package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
	"github.com/nutricoach/scheduling-api/internal/service/appointment"
	"github.com/nutricoach/scheduling-api/internal/service/availability"
	apperrors "github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

type Config struct {
	Granularity int
	Location    *time.Location
}

type Service struct {
	availability *availability.Service
	appointments *appointment.Service
	users        repository.UserRepository
	cfg          Config
	logger       *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	availabilitySvc *availability.Service,
	appointmentSvc *appointment.Service,
	users repository.UserRepository,
	cfg Config,
	logger *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	if cfg.Granularity <= 0 {
		cfg.Granularity = DefaultGranularity
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		availability: availabilitySvc,
		appointments: appointmentSvc,
		users:        users,
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

// Location is where dates and weekly minutes are interpreted.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

// ManageAvailability replaces the caller's whole weekly availability. It is
// not a patch: slots missing from the request are gone afterwards.
func (s *Service) ManageAvailability(ctx context.Context, identity model.Identity, req model.ReplaceAvailabilityRequest) ([]*model.AvailabilitySlot, error) {
	if !identity.Is(model.RoleNutritionist) {
		return nil, apperrors.NewForbidden("only nutritionists can manage availability")
	}
	return s.availability.Replace(ctx, identity, identity.CallerID, req.Slots)
}

// GetAvailability returns the caller's own slots, inactive ones included.
func (s *Service) GetAvailability(ctx context.Context, identity model.Identity) ([]*model.AvailabilitySlot, error) {
	if !identity.Is(model.RoleNutritionist) {
		return nil, apperrors.NewForbidden("only nutritionists have availability")
	}
	return s.availability.List(ctx, identity.CallerID)
}

// SearchAvailability returns a nutritionist's active slots, narrowed to one
// weekday when a date or day of week is given. Date wins when both are set.
func (s *Service) SearchAvailability(ctx context.Context, nutritionistID uuid.UUID, q model.AvailabilityQuery) ([]*model.AvailabilitySlot, error) {
	switch {
	case q.Date != nil:
		return s.availability.ListActiveForDay(ctx, nutritionistID, model.DayOfWeekOf(q.Date.In(s.cfg.Location)))
	case q.DayOfWeek != nil:
		if !q.DayOfWeek.Valid() {
			return nil, apperrors.NewBadRequest("invalid day_of_week", nil)
		}
		return s.availability.ListActiveForDay(ctx, nutritionistID, *q.DayOfWeek)
	default:
		return s.availability.ListActive(ctx, nutritionistID)
	}
}

type SlotQuery struct {
	Date time.Time
	// Granularity in minutes; zero uses the configured default.
	Granularity int
	// CurrentAppointmentID marks the appointment being rescheduled.
	CurrentAppointmentID *uuid.UUID
}

// GenerateSlots lists the bookable candidates of one day for a nutritionist.
func (s *Service) GenerateSlots(ctx context.Context, identity model.Identity, nutritionistID uuid.UUID, q SlotQuery) ([]model.Slot, error) {
	started := time.Now()
	defer func() { s.metrics.SlotGenerationDuration.Observe(time.Since(started).Seconds()) }()

	granularity := q.Granularity
	if granularity == 0 {
		granularity = s.cfg.Granularity
	}

	var current *model.Appointment
	if q.CurrentAppointmentID != nil {
		a, err := s.appointments.Get(ctx, identity, *q.CurrentAppointmentID)
		if err != nil {
			return nil, err
		}
		if a.NutritionistID != nutritionistID {
			return nil, apperrors.NewBadRequest("current appointment belongs to another nutritionist", nil)
		}
		current = a
	}

	local := q.Date.In(s.cfg.Location)
	y, m, d := local.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	windows, err := s.availability.ListActiveForDay(ctx, nutritionistID, model.DayOfWeekOf(dayStart))
	if err != nil {
		return nil, err
	}
	booked, err := s.appointments.Detector().Booked(ctx, nutritionistID, dayStart, dayEnd)
	if err != nil {
		s.logger.Error(err, "Failed to load booked appointments", "nutritionist_id", nutritionistID.String())
		return nil, apperrors.NewInternal(err)
	}

	return GenerateSlots(SlotInput{
		Date:         dayStart,
		Location:     s.cfg.Location,
		Availability: windows,
		Appointments: booked,
		Granularity:  granularity,
		Now:          s.now(),
		Current:      current,
	})
}

// ScheduleAppointment books on behalf of the calling patient.
func (s *Service) ScheduleAppointment(ctx context.Context, identity model.Identity, req model.ScheduleAppointmentRequest) (*model.Appointment, error) {
	if !identity.Is(model.RolePatient) {
		return nil, apperrors.NewForbidden("only patients can schedule appointments")
	}
	return s.appointments.Schedule(ctx, identity, appointment.ScheduleParams{
		PatientID:      identity.CallerID,
		NutritionistID: req.NutritionistID,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Notes:          req.Notes,
		MeetingLink:    req.MeetingLink,
	})
}

// ListMyAppointments returns the caller's appointments by start time, each
// carrying the counterpart's public identity.
func (s *Service) ListMyAppointments(ctx context.Context, identity model.Identity) ([]*model.AppointmentView, error) {
	appointments, err := s.appointments.List(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, identity, appointments)
}

func (s *Service) GetAppointment(ctx context.Context, identity model.Identity, id uuid.UUID) (*model.AppointmentView, error) {
	a, err := s.appointments.Get(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	views, err := s.views(ctx, identity, []*model.Appointment{a})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func (s *Service) UpdateAppointmentStatus(ctx context.Context, identity model.Identity, id uuid.UUID, req model.UpdateStatusRequest) (*model.Appointment, error) {
	return s.appointments.UpdateStatus(ctx, identity, id, req.Status, req.Notes)
}

func (s *Service) RescheduleAppointment(ctx context.Context, identity model.Identity, id uuid.UUID, req model.RescheduleAppointmentRequest) (*model.RescheduleResult, error) {
	return s.appointments.Reschedule(ctx, identity, id, appointment.RescheduleParams{
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Notes:     req.Notes,
	})
}

func (s *Service) DeleteAppointment(ctx context.Context, identity model.Identity, id uuid.UUID) error {
	return s.appointments.Delete(ctx, identity, id)
}

// views attaches user summaries. Patients see the nutritionist, nutritionists
// see the patient and admins see both.
func (s *Service) views(ctx context.Context, identity model.Identity, appointments []*model.Appointment) ([]*model.AppointmentView, error) {
	seen := make(map[uuid.UUID]bool)
	ids := []uuid.UUID{}
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, a := range appointments {
		if !identity.Is(model.RolePatient) {
			add(a.PatientID)
		}
		if !identity.Is(model.RoleNutritionist) {
			add(a.NutritionistID)
		}
	}

	summaries := map[uuid.UUID]*model.UserSummary{}
	if len(ids) > 0 {
		var err error
		summaries, err = s.users.GetSummaries(ctx, ids)
		if err != nil {
			s.logger.Error(err, "Failed to load user summaries", "caller_id", identity.CallerID.String())
			return nil, apperrors.NewInternal(err)
		}
	}

	views := make([]*model.AppointmentView, len(appointments))
	for i, a := range appointments {
		view := &model.AppointmentView{Appointment: *a}
		if !identity.Is(model.RolePatient) {
			view.Patient = summaries[a.PatientID]
		}
		if !identity.Is(model.RoleNutritionist) {
			view.Nutritionist = summaries[a.NutritionistID]
		}
		views[i] = view
	}
	return views, nil
}
