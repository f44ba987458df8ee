package scheduling

import (
	"sort"
	"time"

	"github.com/nutricoach/scheduling-api/internal/model"
	apperrors "github.com/nutricoach/scheduling-api/pkg/errors"
)

// DefaultGranularity is the slot length in minutes when none is configured.
const DefaultGranularity = 30

// SlotInput is everything slot generation needs. It is computed without I/O.
type SlotInput struct {
	// Date selects a calendar day in Location; the clock part is ignored.
	Date     time.Time
	Location *time.Location
	// Availability may hold slots for any weekday; only active slots of Date's weekday are used.
	Availability []*model.AvailabilitySlot
	// Appointments of the nutritionist; only scheduled ones block a slot.
	Appointments []*model.Appointment
	Granularity  int
	Now          time.Time
	// Current is the appointment being moved. It never blocks a slot, and the
	// slot starting at its start time is kept and flagged even when not in the future.
	Current *model.Appointment
}

// GenerateSlots expands weekly availability into concrete candidates of
// Granularity minutes for one day, sorted by start time.
func GenerateSlots(in SlotInput) ([]model.Slot, error) {
	if in.Granularity <= 0 || in.Granularity > model.MinutesPerDay {
		return nil, apperrors.NewBadRequest("granularity must be between 1 and 1440 minutes", nil)
	}
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	local := in.Date.In(loc)
	y, m, d := local.Date()
	day := model.DayOfWeekOf(time.Date(y, m, d, 12, 0, 0, 0, loc))

	blocking := make([]*model.Appointment, 0, len(in.Appointments))
	for _, a := range in.Appointments {
		if a.Status != model.StatusScheduled {
			continue
		}
		if in.Current != nil && a.ID == in.Current.ID {
			continue
		}
		blocking = append(blocking, a)
	}
	sort.Slice(blocking, func(i, j int) bool { return blocking[i].StartTime.Before(blocking[j].StartTime) })

	seen := make(map[int]bool)
	slots := []model.Slot{}
	for _, window := range in.Availability {
		if !window.IsActive || window.DayOfWeek != day {
			continue
		}
		for minute := window.StartMinute; minute+in.Granularity <= window.EndMinute; minute += in.Granularity {
			if seen[minute] {
				continue
			}
			seen[minute] = true

			start := time.Date(y, m, d, 0, minute, 0, 0, loc)
			end := time.Date(y, m, d, 0, minute+in.Granularity, 0, 0, loc)
			current := in.Current != nil && start.Equal(in.Current.StartTime)
			if !start.After(in.Now) && !current {
				continue
			}

			slot := model.Slot{Time: start, EndTime: end, IsAvailable: true, IsCurrent: current}
			for _, a := range blocking {
				if a.Overlaps(start, end) {
					id := a.ID
					slot.IsAvailable = false
					slot.IsBooked = true
					slot.ConflictingAppointmentID = &id
					break
				}
			}
			slots = append(slots, slot)
		}
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time.Before(slots[j].Time) })
	return slots, nil
}
