package appointment

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilityRule is a provider-owned recurring window: a weekday plus a
// local time-of-day range walked in slot-duration steps. Times are minutes
// since local midnight in the provider availability timezone.
type AvailabilityRule struct {
	ID                  uuid.UUID
	ProviderID          uuid.UUID
	Weekday             time.Weekday
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
	Active              bool
	CreatedAt           time.Time
}

// overlapsRule reports whether two rules on the same weekday intersect in
// time-of-day.
func (r AvailabilityRule) overlapsRule(other AvailabilityRule) bool {
	if r.Weekday != other.Weekday {
		return false
	}
	return r.StartMinute < other.EndMinute && other.StartMinute < r.EndMinute
}

// AvailabilityException is a one-off block (vacation, personal time) over a
// UTC instant range.
type AvailabilityException struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	StartsAt   time.Time // UTC
	EndsAt     time.Time // UTC
	Reason     *string
	Active     bool
	CreatedAt  time.Time
}

func (e AvailabilityException) overlapsWindow(start, end time.Time) bool {
	return windowsOverlap(e.StartsAt, e.EndsAt, start, end)
}

// SlotWindow is one bookable window produced by the slot generator.
type SlotWindow struct {
	WindowStart time.Time // UTC
	WindowEnd   time.Time // UTC
}

// AvailabilityOverview is the provider-facing read model of the raw
// availability configuration.
type AvailabilityOverview struct {
	ProviderID uuid.UUID
	Rules      []AvailabilityRule
	Exceptions []AvailabilityException
}
