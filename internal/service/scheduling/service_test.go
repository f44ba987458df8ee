package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository/memory"
	"github.com/nutricoach/scheduling-api/internal/service/appointment"
	"github.com/nutricoach/scheduling-api/internal/service/availability"
	"github.com/nutricoach/scheduling-api/internal/service/event"
	"github.com/nutricoach/scheduling-api/internal/service/relationship"
	apperrors "github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

var now = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

type env struct {
	svc          *Service
	store        *memory.Store
	patient      model.Identity
	nutritionist model.Identity
	admin        model.Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	m := metrics.New("test")
	clock := func() time.Time { return now }
	events := event.NewService(store.Outbox())

	avail := availability.NewService(store.Availability(), store.Transactor(), events, time.Minute, logger.Nop(), m,
		availability.WithClock(clock))
	appts := appointment.NewService(
		store.Appointments(),
		store.Transactor(),
		relationship.NewGate(store.Relationships(), m),
		avail,
		events,
		appointment.Config{EnforceAvailability: true, Location: time.UTC},
		logger.Nop(),
		m,
		appointment.WithClock(clock),
	)

	e := &env{
		svc:          NewService(avail, appts, store.Users(), Config{Granularity: 30, Location: time.UTC}, logger.Nop(), m, WithClock(clock)),
		store:        store,
		patient:      model.Identity{CallerID: uuid.New(), Role: model.RolePatient},
		nutritionist: model.Identity{CallerID: uuid.New(), Role: model.RoleNutritionist},
		admin:        model.Identity{CallerID: uuid.New(), Role: model.RoleAdmin},
	}
	store.AddUser(&model.UserSummary{ID: e.patient.CallerID, Name: "Pat Doe", Email: "pat@example.com", Role: model.RolePatient})
	store.AddUser(&model.UserSummary{ID: e.nutritionist.CallerID, Name: "Nina Rao", Email: "nina@example.com", Role: model.RoleNutritionist})
	store.Link(e.patient.CallerID, e.nutritionist.CallerID)

	_, err := e.svc.ManageAvailability(context.Background(), e.nutritionist, model.ReplaceAvailabilityRequest{
		Slots: []model.AvailabilitySlotInput{{DayOfWeek: model.Monday, StartMinute: 540, EndMinute: 1020}},
	})
	require.NoError(t, err)
	return e
}

func (e *env) schedule(start, end time.Time) (*model.Appointment, error) {
	return e.svc.ScheduleAppointment(context.Background(), e.patient, model.ScheduleAppointmentRequest{
		NutritionistID: e.nutritionist.CallerID,
		StartTime:      start,
		EndTime:        end,
	})
}

func TestMondayAvailabilityYieldsSixteenSlots(t *testing.T) {
	e := newEnv(t)

	slots, err := e.svc.GenerateSlots(context.Background(), e.patient, e.nutritionist.CallerID, SlotQuery{Date: monday})
	require.NoError(t, err)
	require.Len(t, slots, 16)
	assert.True(t, slots[0].Time.Equal(monday.Add(9*time.Hour)))
	assert.True(t, slots[15].Time.Equal(monday.Add(16*time.Hour+30*time.Minute)))
	for _, s := range slots {
		assert.True(t, s.IsAvailable)
	}

	tuesday, err := e.svc.GenerateSlots(context.Background(), e.patient, e.nutritionist.CallerID, SlotQuery{Date: monday.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Empty(t, tuesday)
}

func TestOverlappingBookingConflicts(t *testing.T) {
	e := newEnv(t)

	booked, err := e.schedule(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = e.schedule(time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC), time.Date(2024, 1, 15, 9, 45, 0, 0, time.UTC))
	assert.ErrorIs(t, err, apperrors.SlotConflict)

	slots, err := e.svc.GenerateSlots(context.Background(), e.patient, e.nutritionist.CallerID, SlotQuery{Date: monday})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.True(t, slots[0].IsBooked)
	assert.Equal(t, booked.ID, *slots[0].ConflictingAppointmentID)
	assert.True(t, slots[1].IsAvailable)
}

func TestPatientCannotCancelForNutritionist(t *testing.T) {
	e := newEnv(t)
	a, err := e.schedule(monday.Add(10*time.Hour), monday.Add(10*time.Hour+30*time.Minute))
	require.NoError(t, err)

	_, err = e.svc.UpdateAppointmentStatus(context.Background(), e.patient, a.ID, model.UpdateStatusRequest{
		Status: model.StatusCancelledByNutritionist,
	})
	assert.ErrorIs(t, err, apperrors.Forbidden)
}

func TestUnlinkedPatientCannotBook(t *testing.T) {
	e := newEnv(t)
	stranger := model.Identity{CallerID: uuid.New(), Role: model.RolePatient}

	_, err := e.svc.ScheduleAppointment(context.Background(), stranger, model.ScheduleAppointmentRequest{
		NutritionistID: e.nutritionist.CallerID,
		StartTime:      monday.Add(9 * time.Hour),
		EndTime:        monday.Add(9*time.Hour + 30*time.Minute),
	})
	assert.ErrorIs(t, err, apperrors.NotLinked)

	all, err := e.svc.ListMyAppointments(context.Background(), e.admin)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCompletingTwiceFailsWithTerminalState(t *testing.T) {
	e := newEnv(t)
	a, err := e.schedule(monday.Add(9*time.Hour), monday.Add(9*time.Hour+30*time.Minute))
	require.NoError(t, err)

	req := model.UpdateStatusRequest{Status: model.StatusCompleted}
	first, err := e.svc.UpdateAppointmentStatus(context.Background(), e.nutritionist, a.ID, req)
	require.NoError(t, err)

	_, err = e.svc.UpdateAppointmentStatus(context.Background(), e.nutritionist, a.ID, req)
	assert.ErrorIs(t, err, apperrors.TerminalState)

	view, err := e.svc.GetAppointment(context.Background(), e.nutritionist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, view.Status)
	assert.Equal(t, first.UpdatedAt, view.UpdatedAt)
}

func TestScheduledAppointmentVisibleToBothParties(t *testing.T) {
	e := newEnv(t)
	start := monday.Add(11 * time.Hour)
	a, err := e.schedule(start, start.Add(45*time.Minute))
	require.NoError(t, err)

	mine, err := e.svc.ListMyAppointments(context.Background(), e.patient)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)
	assert.True(t, mine[0].StartTime.Equal(a.StartTime))
	assert.True(t, mine[0].EndTime.Equal(a.EndTime))
	require.NotNil(t, mine[0].Nutritionist)
	assert.Equal(t, "Nina Rao", mine[0].Nutritionist.Name)
	assert.Nil(t, mine[0].Patient)

	theirs, err := e.svc.ListMyAppointments(context.Background(), e.nutritionist)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.True(t, theirs[0].StartTime.Equal(a.StartTime))
	require.NotNil(t, theirs[0].Patient)
	assert.Equal(t, "pat@example.com", theirs[0].Patient.Email)
	assert.Nil(t, theirs[0].Nutritionist)

	all, err := e.svc.ListMyAppointments(context.Background(), e.admin)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].Patient)
	assert.NotNil(t, all[0].Nutritionist)
}

func TestRoleChecks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.ManageAvailability(ctx, e.patient, model.ReplaceAvailabilityRequest{})
	assert.ErrorIs(t, err, apperrors.Forbidden)

	_, err = e.svc.GetAvailability(ctx, e.admin)
	assert.ErrorIs(t, err, apperrors.Forbidden)

	_, err = e.svc.ScheduleAppointment(ctx, e.nutritionist, model.ScheduleAppointmentRequest{
		NutritionistID: e.nutritionist.CallerID,
		StartTime:      monday.Add(9 * time.Hour),
		EndTime:        monday.Add(10 * time.Hour),
	})
	assert.ErrorIs(t, err, apperrors.Forbidden)
}

func TestSearchAvailability(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.ManageAvailability(ctx, e.nutritionist, model.ReplaceAvailabilityRequest{
		Slots: []model.AvailabilitySlotInput{
			{DayOfWeek: model.Monday, StartMinute: 540, EndMinute: 720},
			{DayOfWeek: model.Thursday, StartMinute: 600, EndMinute: 660},
		},
	})
	require.NoError(t, err)

	all, err := e.svc.SearchAvailability(ctx, e.nutritionist.CallerID, model.AvailabilityQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	thursday := model.Thursday
	byDay, err := e.svc.SearchAvailability(ctx, e.nutritionist.CallerID, model.AvailabilityQuery{DayOfWeek: &thursday})
	require.NoError(t, err)
	require.Len(t, byDay, 1)
	assert.Equal(t, 600, byDay[0].StartMinute)

	date := monday
	byDate, err := e.svc.SearchAvailability(ctx, e.nutritionist.CallerID, model.AvailabilityQuery{Date: &date})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, model.Monday, byDate[0].DayOfWeek)
}

func TestRescheduleViewShowsCurrentSlot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, err := e.schedule(monday.Add(9*time.Hour), monday.Add(9*time.Hour+30*time.Minute))
	require.NoError(t, err)

	slots, err := e.svc.GenerateSlots(ctx, e.patient, e.nutritionist.CallerID, SlotQuery{Date: monday, CurrentAppointmentID: &a.ID})
	require.NoError(t, err)
	require.Len(t, slots, 16)
	assert.True(t, slots[0].IsCurrent)
	assert.True(t, slots[0].IsAvailable)

	result, err := e.svc.RescheduleAppointment(ctx, e.patient, a.ID, model.RescheduleAppointmentRequest{
		StartTime: monday.Add(14 * time.Hour),
		EndTime:   monday.Add(14*time.Hour + 30*time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRescheduled, result.Previous.Status)

	slots, err = e.svc.GenerateSlots(ctx, e.patient, e.nutritionist.CallerID, SlotQuery{Date: monday})
	require.NoError(t, err)
	assert.True(t, slots[0].IsAvailable)
	assert.True(t, slots[10].IsBooked)
}

func TestCurrentAppointmentMustBeVisibleToCaller(t *testing.T) {
	e := newEnv(t)
	a, err := e.schedule(monday.Add(9*time.Hour), monday.Add(9*time.Hour+30*time.Minute))
	require.NoError(t, err)
	stranger := model.Identity{CallerID: uuid.New(), Role: model.RolePatient}

	_, err = e.svc.GenerateSlots(context.Background(), stranger, e.nutritionist.CallerID, SlotQuery{Date: monday, CurrentAppointmentID: &a.ID})
	assert.ErrorIs(t, err, apperrors.Forbidden)
}

func TestAdminDeletesAppointment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, err := e.schedule(monday.Add(9*time.Hour), monday.Add(9*time.Hour+30*time.Minute))
	require.NoError(t, err)

	assert.ErrorIs(t, e.svc.DeleteAppointment(ctx, e.patient, a.ID), apperrors.Forbidden)
	require.NoError(t, e.svc.DeleteAppointment(ctx, e.admin, a.ID))

	mine, err := e.svc.ListMyAppointments(ctx, e.patient)
	require.NoError(t, err)
	assert.Empty(t, mine)
}
