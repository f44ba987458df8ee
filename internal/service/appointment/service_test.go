package appointment

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository/memory"
	"github.com/nutricoach/scheduling-api/internal/service/availability"
	"github.com/nutricoach/scheduling-api/internal/service/event"
	"github.com/nutricoach/scheduling-api/internal/service/relationship"
	apperrors "github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

// Sunday 2024-01-14, the day before the Monday most tests book on.
var fixedNow = time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc          *Service
	availability *availability.Service
	store        *memory.Store
	patient      model.Identity
	nutritionist model.Identity
	admin        model.Identity
}

func newFixture(t *testing.T, enforce bool) *fixture {
	t.Helper()
	store := memory.NewStore()
	m := metrics.New("test")
	events := event.NewService(store.Outbox())
	avail := availability.NewService(store.Availability(), store.Transactor(), events, 0, logger.Nop(), m)

	f := &fixture{
		availability: avail,
		store:        store,
		patient:      model.Identity{CallerID: uuid.New(), Role: model.RolePatient},
		nutritionist: model.Identity{CallerID: uuid.New(), Role: model.RoleNutritionist},
		admin:        model.Identity{CallerID: uuid.New(), Role: model.RoleAdmin},
	}
	f.svc = NewService(
		store.Appointments(),
		store.Transactor(),
		relationship.NewGate(store.Relationships(), m),
		avail,
		events,
		Config{EnforceAvailability: enforce, Location: time.UTC},
		logger.Nop(),
		m,
		WithClock(func() time.Time { return fixedNow }),
	)
	store.Link(f.patient.CallerID, f.nutritionist.CallerID)
	return f
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 1, 15, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) book(t *testing.T, start, end time.Time) *model.Appointment {
	t.Helper()
	a, err := f.svc.Schedule(context.Background(), f.patient, ScheduleParams{
		PatientID:      f.patient.CallerID,
		NutritionistID: f.nutritionist.CallerID,
		StartTime:      start,
		EndTime:        end,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) try(start, end time.Time) error {
	_, err := f.svc.Schedule(context.Background(), f.patient, ScheduleParams{
		PatientID:      f.patient.CallerID,
		NutritionistID: f.nutritionist.CallerID,
		StartTime:      start,
		EndTime:        end,
	})
	return err
}

func TestScheduleCreatesScheduledAppointment(t *testing.T) {
	f := newFixture(t, false)

	a := f.book(t, at(9, 0), at(9, 30))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, model.StatusScheduled, a.Status)

	stored, err := f.store.Appointments().Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.StartTime.Equal(at(9, 0)))

	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, event.AppointmentScheduled, events[0].EventType)
	assert.Equal(t, a.ID, events[0].AggregateID)
}

func TestScheduleRejectsOverlapButAllowsTouching(t *testing.T) {
	f := newFixture(t, false)
	f.book(t, at(9, 0), at(9, 30))

	err := f.try(at(9, 15), at(9, 45))
	assert.ErrorIs(t, err, apperrors.SlotConflict)

	err = f.try(at(8, 45), at(10, 0))
	assert.ErrorIs(t, err, apperrors.SlotConflict)

	f.book(t, at(9, 30), at(10, 0))
	f.book(t, at(8, 30), at(9, 0))
}

func TestCancelledAppointmentFreesTheInterval(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))

	_, err := f.svc.UpdateStatus(context.Background(), f.patient, a.ID, model.StatusCancelledByPatient, nil)
	require.NoError(t, err)

	f.book(t, at(9, 0), at(9, 30))
}

func TestScheduleValidation(t *testing.T) {
	cases := []struct {
		name       string
		start, end time.Time
		code       apperrors.ErrorCode
	}{
		{"end before start", at(10, 0), at(9, 0), apperrors.ErrInvalidInterval},
		{"empty interval", at(10, 0), at(10, 0), apperrors.ErrInvalidInterval},
		{"in the past", fixedNow.Add(-time.Hour), fixedNow.Add(-30 * time.Minute), apperrors.ErrPastSchedule},
		{"starting now", fixedNow, fixedNow.Add(30 * time.Minute), apperrors.ErrPastSchedule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			err := f.try(tc.start, tc.end)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperrors.Code(err))

			all, err := f.store.Appointments().List(context.Background(), model.AppointmentFilter{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestScheduleRequiresActiveLink(t *testing.T) {
	f := newFixture(t, false)
	f.store.Unlink(f.patient.CallerID, f.nutritionist.CallerID)

	err := f.try(at(9, 0), at(9, 30))
	assert.ErrorIs(t, err, apperrors.NotLinked)

	all, err := f.store.Appointments().List(context.Background(), model.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.store.OutboxEvents())
}

func TestRevokedLinkBlocksLaterBookings(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))

	f.store.Unlink(f.patient.CallerID, f.nutritionist.CallerID)

	assert.ErrorIs(t, f.try(at(11, 0), at(11, 30)), apperrors.NotLinked)
	_, err := f.svc.Reschedule(context.Background(), f.patient, a.ID, RescheduleParams{StartTime: at(12, 0), EndTime: at(12, 30)})
	assert.ErrorIs(t, err, apperrors.NotLinked)

	stored, err := f.store.Appointments().Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, stored.Status, "a rejected reschedule leaves the source untouched")
}

func TestScheduleRejectsLongNotes(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.Schedule(context.Background(), f.patient, ScheduleParams{
		PatientID:      f.patient.CallerID,
		NutritionistID: f.nutritionist.CallerID,
		StartTime:      at(9, 0),
		EndTime:        at(9, 30),
		Notes:          strings.Repeat("é", model.MaxNotesLength+1),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	_, err = f.svc.Schedule(context.Background(), f.patient, ScheduleParams{
		PatientID:      f.patient.CallerID,
		NutritionistID: f.nutritionist.CallerID,
		StartTime:      at(9, 0),
		EndTime:        at(9, 30),
		Notes:          strings.Repeat("é", model.MaxNotesLength),
	})
	assert.NoError(t, err)
}

func TestScheduleEnforcesAvailability(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.availability.Replace(context.Background(), f.nutritionist, f.nutritionist.CallerID, []model.AvailabilitySlotInput{
		{DayOfWeek: model.Monday, StartMinute: 540, EndMinute: 720},
		{DayOfWeek: model.Monday, StartMinute: 1380, EndMinute: 1440},
	})
	require.NoError(t, err)

	f.book(t, at(9, 0), at(9, 30))
	f.book(t, at(11, 30), at(12, 0))
	f.book(t, at(23, 30), time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC))

	cases := []struct {
		name       string
		start, end time.Time
	}{
		{"before opening", at(8, 30), at(9, 0)},
		{"straddles closing", at(11, 45), at(12, 15)},
		{"crosses midnight", at(23, 45), time.Date(2024, 1, 16, 0, 15, 0, 0, time.UTC)},
		{"other weekday", time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 9, 30, 0, 0, time.UTC)},
		{"partial minute past closing", at(11, 30), at(12, 0).Add(time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.try(tc.start, tc.end)
			assert.ErrorIs(t, err, apperrors.OutsideAvailability)
		})
	}
}

func TestClearedAvailabilityOnAnotherInstanceStopsBookings(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	// this instance caches availability; f.availability plays the other instance
	f.svc.availability = availability.NewService(f.store.Availability(), f.store.Transactor(),
		event.NewService(f.store.Outbox()), time.Minute, logger.Nop(), metrics.New("test"))

	_, err := f.availability.Replace(ctx, f.nutritionist, f.nutritionist.CallerID, []model.AvailabilitySlotInput{
		{DayOfWeek: model.Monday, StartMinute: 540, EndMinute: 720},
	})
	require.NoError(t, err)
	f.book(t, at(9, 0), at(9, 30))

	_, err = f.availability.Replace(ctx, f.nutritionist, f.nutritionist.CallerID, []model.AvailabilitySlotInput{})
	require.NoError(t, err)

	assert.ErrorIs(t, f.try(at(10, 0), at(10, 30)), apperrors.OutsideAvailability)
}

func TestAvailabilityIsInterpretedInConfiguredLocation(t *testing.T) {
	f := newFixture(t, true)
	loc := time.FixedZone("UTC+2", 2*60*60)
	f.svc.cfg.Location = loc

	_, err := f.availability.Replace(context.Background(), f.nutritionist, f.nutritionist.CallerID, []model.AvailabilitySlotInput{
		{DayOfWeek: model.Monday, StartMinute: 540, EndMinute: 600},
	})
	require.NoError(t, err)

	// 07:00 UTC is 09:00 local
	f.book(t, at(7, 0), at(7, 30))
	assert.ErrorIs(t, f.try(at(9, 0), at(9, 30)), apperrors.OutsideAvailability)
}

func TestUpdateStatusRoleTable(t *testing.T) {
	cases := []struct {
		name    string
		actor   func(f *fixture) model.Identity
		target  model.AppointmentStatus
		allowed bool
	}{
		{"patient cancels", func(f *fixture) model.Identity { return f.patient }, model.StatusCancelledByPatient, true},
		{"patient reschedules", func(f *fixture) model.Identity { return f.patient }, model.StatusRescheduled, true},
		{"patient completes", func(f *fixture) model.Identity { return f.patient }, model.StatusCompleted, false},
		{"patient marks no-show", func(f *fixture) model.Identity { return f.patient }, model.StatusNoShow, false},
		{"patient cancels for nutritionist", func(f *fixture) model.Identity { return f.patient }, model.StatusCancelledByNutritionist, false},
		{"nutritionist completes", func(f *fixture) model.Identity { return f.nutritionist }, model.StatusCompleted, true},
		{"nutritionist marks no-show", func(f *fixture) model.Identity { return f.nutritionist }, model.StatusNoShow, true},
		{"nutritionist cancels", func(f *fixture) model.Identity { return f.nutritionist }, model.StatusCancelledByNutritionist, true},
		{"nutritionist cancels for patient", func(f *fixture) model.Identity { return f.nutritionist }, model.StatusCancelledByPatient, false},
		{"admin cancels for patient", func(f *fixture) model.Identity { return f.admin }, model.StatusCancelledByPatient, true},
		{"stranger patient", func(*fixture) model.Identity {
			return model.Identity{CallerID: uuid.New(), Role: model.RolePatient}
		}, model.StatusCancelledByPatient, false},
		{"stranger nutritionist", func(*fixture) model.Identity {
			return model.Identity{CallerID: uuid.New(), Role: model.RoleNutritionist}
		}, model.StatusCompleted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			a := f.book(t, at(9, 0), at(9, 30))

			updated, err := f.svc.UpdateStatus(context.Background(), tc.actor(f), a.ID, tc.target, nil)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.target, updated.Status)
				return
			}
			assert.ErrorIs(t, err, apperrors.Forbidden)
			stored, err := f.store.Appointments().Get(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusScheduled, stored.Status)
		})
	}
}

func TestTerminalStatusNeverChanges(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, f.nutritionist, a.ID, model.StatusCompleted, nil)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, f.nutritionist, a.ID, model.StatusCompleted, nil)
	assert.ErrorIs(t, err, apperrors.TerminalState)

	_, err = f.svc.UpdateStatus(ctx, f.admin, a.ID, model.StatusScheduled, nil)
	assert.ErrorIs(t, err, apperrors.TerminalState)

	stored, err := f.store.Appointments().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
}

func TestUpdateStatusReplacesNotesAndRecordsEvent(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))
	notes := "patient felt unwell"

	updated, err := f.svc.UpdateStatus(context.Background(), f.patient, a.ID, model.StatusCancelledByPatient, &notes)
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)

	events := f.store.OutboxEvents()
	require.Len(t, events, 2)
	assert.Equal(t, event.AppointmentStatusChanged, events[1].EventType)
	assert.Contains(t, string(events[1].Payload), `"previous_status":"scheduled"`)
}

func TestInvalidStoredStatusIsInternal(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))
	ctx := context.Background()

	a.Status = model.AppointmentStatus("archived")
	require.NoError(t, f.store.Appointments().Update(ctx, a))

	assert.NotPanics(t, func() {
		_, err := f.svc.UpdateStatus(ctx, f.admin, a.ID, model.StatusCompleted, nil)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrInternal))

		_, err = f.svc.Reschedule(ctx, f.admin, a.ID, RescheduleParams{StartTime: at(11, 0), EndTime: at(11, 30)})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrInternal))
	})
}

func TestUpdateStatusUnknownAppointment(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.UpdateStatus(context.Background(), f.admin, uuid.New(), model.StatusCompleted, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestRescheduleRetiresOldAndBooksNew(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))
	ctx := context.Background()

	// overlapping the appointment being moved is fine
	result, err := f.svc.Reschedule(ctx, f.patient, a.ID, RescheduleParams{StartTime: at(9, 15), EndTime: at(9, 45)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRescheduled, result.Previous.Status)
	assert.Equal(t, model.StatusScheduled, result.Appointment.Status)
	assert.NotEqual(t, a.ID, result.Appointment.ID)

	old, err := f.store.Appointments().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRescheduled, old.Status)

	_, err = f.svc.Reschedule(ctx, f.patient, a.ID, RescheduleParams{StartTime: at(11, 0), EndTime: at(11, 30)})
	assert.ErrorIs(t, err, apperrors.TerminalState)
}

func TestRescheduleIntoConflictLeavesOriginalUntouched(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))
	f.book(t, at(10, 0), at(10, 30))
	ctx := context.Background()

	_, err := f.svc.Reschedule(ctx, f.nutritionist, a.ID, RescheduleParams{StartTime: at(10, 15), EndTime: at(10, 45)})
	assert.ErrorIs(t, err, apperrors.SlotConflict)

	stored, err := f.store.Appointments().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, stored.Status)
}

func TestGetAndDeleteAccess(t *testing.T) {
	f := newFixture(t, false)
	a := f.book(t, at(9, 0), at(9, 30))
	ctx := context.Background()
	stranger := model.Identity{CallerID: uuid.New(), Role: model.RolePatient}

	_, err := f.svc.Get(ctx, f.patient, a.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.nutritionist, a.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, stranger, a.ID)
	assert.ErrorIs(t, err, apperrors.Forbidden)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.nutritionist, a.ID), apperrors.Forbidden)
	require.NoError(t, f.svc.Delete(ctx, f.admin, a.ID))
	_, err = f.svc.Get(ctx, f.admin, a.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestListScopesByRole(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	other := model.Identity{CallerID: uuid.New(), Role: model.RolePatient}
	f.store.Link(other.CallerID, f.nutritionist.CallerID)

	second := f.book(t, at(11, 0), at(11, 30))
	first := f.book(t, at(9, 0), at(9, 30))
	_, err := f.svc.Schedule(ctx, other, ScheduleParams{
		PatientID:      other.CallerID,
		NutritionistID: f.nutritionist.CallerID,
		StartTime:      at(10, 0),
		EndTime:        at(10, 30),
	})
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, f.patient)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, first.ID, mine[0].ID)
	assert.Equal(t, second.ID, mine[1].ID)

	theirs, err := f.svc.List(ctx, f.nutritionist)
	require.NoError(t, err)
	assert.Len(t, theirs, 3)

	all, err := f.svc.List(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConcurrentBookingsYieldOneAppointment(t *testing.T) {
	f := newFixture(t, false)
	const attempts = 16

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.try(at(9, 0), at(9, 30))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.SlotConflict)
	}
	assert.Equal(t, 1, succeeded)
}

func TestCanSetStatusCoversEveryStatus(t *testing.T) {
	a := &model.Appointment{PatientID: uuid.New(), NutritionistID: uuid.New()}
	patient := model.Identity{CallerID: a.PatientID, Role: model.RolePatient}
	nutritionist := model.Identity{CallerID: a.NutritionistID, Role: model.RoleNutritionist}
	admin := model.Identity{CallerID: uuid.New(), Role: model.RoleAdmin}

	patientMay := map[model.AppointmentStatus]bool{
		model.StatusCancelledByPatient: true,
		model.StatusRescheduled:        true,
	}
	for _, status := range model.AllStatuses {
		assert.True(t, CanSetStatus(admin, a, status), status)
		assert.Equal(t, patientMay[status], CanSetStatus(patient, a, status), status)
		assert.Equal(t, status != model.StatusCancelledByPatient, CanSetStatus(nutritionist, a, status), status)
	}
	assert.False(t, CanSetStatus(admin, a, model.AppointmentStatus("archived")))
}
