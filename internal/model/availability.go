package model

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinutesPerDay bounds StartMinute and EndMinute.
const MinutesPerDay = 1440

// DayOfWeek is an ISO weekday, Monday=1 through Sunday=7.
type DayOfWeek int

const (
	Monday DayOfWeek = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var dayNames = [...]string{
	Monday:    "monday",
	Tuesday:   "tuesday",
	Wednesday: "wednesday",
	Thursday:  "thursday",
	Friday:    "friday",
	Saturday:  "saturday",
	Sunday:    "sunday",
}

// AllDays lists the week in storage order.
var AllDays = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

func (d DayOfWeek) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d DayOfWeek) String() string {
	if !d.Valid() {
		return fmt.Sprintf("day(%d)", int(d))
	}
	return dayNames[d]
}

// ParseDayOfWeek accepts a day name in any case.
func ParseDayOfWeek(s string) (DayOfWeek, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, d := range AllDays {
		if dayNames[d] == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid day of week %q", s)
}

// DayOfWeekOf returns the weekday of t in t's own location.
func DayOfWeekOf(t time.Time) DayOfWeek {
	if t.Weekday() == time.Sunday {
		return Sunday
	}
	return DayOfWeek(t.Weekday())
}

func (d DayOfWeek) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid day of week %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *DayOfWeek) UnmarshalText(text []byte) error {
	parsed, err := ParseDayOfWeek(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the day as its ISO number.
func (d DayOfWeek) Value() (driver.Value, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid day of week %d", int(d))
	}
	return int64(d), nil
}

func (d *DayOfWeek) Scan(src interface{}) error {
	var n int64
	switch v := src.(type) {
	case int64:
		n = v
	case []byte:
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("scan day of week: %w", err)
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("scan day of week: %w", err)
		}
		n = parsed
	default:
		return fmt.Errorf("scan day of week: unsupported type %T", src)
	}
	day := DayOfWeek(n)
	if !day.Valid() {
		return fmt.Errorf("scan day of week: %d out of range", n)
	}
	*d = day
	return nil
}

// AvailabilitySlot is one recurring weekly open-hours interval of a nutritionist.
// Minutes are counted from local midnight; the interval is [StartMinute, EndMinute).
type AvailabilitySlot struct {
	ID             uuid.UUID `json:"id" db:"id"`
	NutritionistID uuid.UUID `json:"nutritionist_id" db:"nutritionist_id"`
	DayOfWeek      DayOfWeek `json:"day_of_week" db:"day_of_week"`
	StartMinute    int       `json:"start_minute" db:"start_minute"`
	EndMinute      int       `json:"end_minute" db:"end_minute"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Contains reports whether [startMinute, endMinute) lies inside the slot.
func (s *AvailabilitySlot) Contains(startMinute, endMinute int) bool {
	return startMinute >= s.StartMinute && endMinute <= s.EndMinute
}

// AvailabilitySlotInput is one entry of a replace-all availability request.
type AvailabilitySlotInput struct {
	DayOfWeek   DayOfWeek `json:"day_of_week" binding:"required"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
	IsActive    *bool     `json:"is_active"`
}

// Active defaults to true when is_active is omitted.
func (in AvailabilitySlotInput) Active() bool {
	return in.IsActive == nil || *in.IsActive
}

// ReplaceAvailabilityRequest replaces the caller's whole weekly schedule.
// An empty list clears it.
type ReplaceAvailabilityRequest struct {
	Slots []AvailabilitySlotInput `json:"slots" binding:"dive"`
}

// AvailabilityQuery narrows a search to one weekday, given directly or through a date.
type AvailabilityQuery struct {
	Date      *time.Time
	DayOfWeek *DayOfWeek
}
