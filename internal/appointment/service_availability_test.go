package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAddAvailabilityRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule, err := f.svc.AddAvailabilityRule(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityRuleParams{
		Weekday:             time.Saturday,
		StartMinute:         9 * 60,
		EndMinute:           13 * 60,
		SlotDurationMinutes: 60,
	})
	require.NoError(t, err)
	require.True(t, rule.Active)
	require.Equal(t, time.Saturday, rule.Weekday)
}

func TestAddAvailabilityRuleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params AvailabilityRuleParams
		code   string
	}{
		{"inverted window", AvailabilityRuleParams{Weekday: time.Saturday, StartMinute: 600, EndMinute: 540, SlotDurationMinutes: 60}, CodeInvalidWindow},
		{"past midnight", AvailabilityRuleParams{Weekday: time.Saturday, StartMinute: 600, EndMinute: 1500, SlotDurationMinutes: 60}, CodeInvalidWindow},
		{"slot too short", AvailabilityRuleParams{Weekday: time.Saturday, StartMinute: 540, EndMinute: 780, SlotDurationMinutes: 10}, CodeInvalidSlotDuration},
		// The fixture already has Monday 08:00-18:00.
		{"overlapping rule", AvailabilityRuleParams{Weekday: time.Monday, StartMinute: 17 * 60, EndMinute: 20 * 60, SlotDurationMinutes: 60}, CodePolicyViolation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AddAvailabilityRule(ctx, f.providerID, RoleProvider, f.providerID, tc.params)
			require.Equal(t, tc.code, FaultCode(err))
		})
	}

	// Providers cannot manage another provider's schedule.
	other := uuid.New()
	f.repo.PutUser(&User{ID: other, Name: "Davi", Role: RoleProvider, Plan: PlanTrial, Active: true})
	_, err := f.svc.AddAvailabilityRule(ctx, f.providerID, RoleProvider, other, AvailabilityRuleParams{
		Weekday: time.Saturday, StartMinute: 540, EndMinute: 780, SlotDurationMinutes: 60,
	})
	require.Equal(t, CodeForbidden, FaultCode(err))
}

func TestRemoveAvailabilityRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule, err := f.svc.AddAvailabilityRule(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityRuleParams{
		Weekday: time.Saturday, StartMinute: 540, EndMinute: 780, SlotDurationMinutes: 60,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveAvailabilityRule(ctx, f.providerID, RoleProvider, rule.ID))
	// Deactivation is idempotent.
	require.NoError(t, f.svc.RemoveAvailabilityRule(ctx, f.providerID, RoleProvider, rule.ID))

	err = f.svc.RemoveAvailabilityRule(ctx, f.providerID, RoleProvider, uuid.New())
	require.Equal(t, CodeRuleNotFound, FaultCode(err))

	overview, err := f.svc.GetAvailabilityOverview(ctx, f.adminID, RoleAdmin, f.providerID)
	require.NoError(t, err)
	for _, r := range overview.Rules {
		require.NotEqual(t, rule.ID, r.ID)
	}
}

func TestAvailabilityExceptionHidesSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Block next Monday entirely.
	dayStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	reason := "vacation"
	exception, err := f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: dayStart,
		EndsAt:   dayStart.AddDate(0, 0, 1),
		Reason:   &reason,
	})
	require.NoError(t, err)

	slots, err := f.svc.GetAvailableSlots(ctx, f.clientID, RoleClient, f.providerID, dayStart, dayStart.AddDate(0, 0, 1), 0)
	require.NoError(t, err)
	require.Empty(t, slots)

	// Removing the exception reopens the day.
	require.NoError(t, f.svc.RemoveAvailabilityException(ctx, f.providerID, RoleProvider, exception.ID))
	slots, err = f.svc.GetAvailableSlots(ctx, f.clientID, RoleClient, f.providerID, dayStart, dayStart.AddDate(0, 0, 1), 0)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
}

func TestAddAvailabilityExceptionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: f.now.Add(2 * time.Hour),
		EndsAt:   f.now.Add(time.Hour),
	})
	require.Equal(t, CodeInvalidWindow, FaultCode(err))

	_, err = f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: f.now.Add(-48 * time.Hour),
		EndsAt:   f.now.Add(-24 * time.Hour),
	})
	require.Equal(t, CodeInvalidWindow, FaultCode(err))
}

// An exception cannot be created over a window that still reserves the
// calendar; the booking must be rescheduled or cancelled first.
func TestAvailabilityExceptionRejectsBookedWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)

	_, err := f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: appt.WindowStart.Add(-time.Hour),
		EndsAt:   appt.WindowEnd.Add(time.Hour),
	})
	require.Equal(t, CodePolicyViolation, FaultCode(err))

	got, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)

	// A cancelled booking no longer blocks the window.
	_, err = f.svc.Cancel(ctx, f.clientID, RoleClient, appt.ID, "travel")
	require.NoError(t, err)

	_, err = f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: appt.WindowStart.Add(-time.Hour),
		EndsAt:   appt.WindowEnd.Add(time.Hour),
	})
	require.NoError(t, err)
}

func TestAvailabilityExceptionRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: f.now.Add(24 * time.Hour),
		EndsAt:   f.now.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: f.now.Add(36 * time.Hour),
		EndsAt:   f.now.Add(60 * time.Hour),
	})
	require.Equal(t, CodePolicyViolation, FaultCode(err))

	// Touching windows do not overlap, and a removed exception frees its
	// range again.
	_, err = f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: f.now.Add(48 * time.Hour),
		EndsAt:   f.now.Add(60 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveAvailabilityException(ctx, f.providerID, RoleProvider, first.ID))
	_, err = f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: f.now.Add(24 * time.Hour),
		EndsAt:   f.now.Add(36 * time.Hour),
	})
	require.NoError(t, err)
}

func TestGetAvailabilityOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddAvailabilityException(ctx, f.providerID, RoleProvider, f.providerID, AvailabilityExceptionParams{
		StartsAt: f.now.Add(24 * time.Hour),
		EndsAt:   f.now.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	overview, err := f.svc.GetAvailabilityOverview(ctx, f.providerID, RoleProvider, f.providerID)
	require.NoError(t, err)
	require.Len(t, overview.Rules, 5)
	require.Len(t, overview.Exceptions, 1)

	_, err = f.svc.GetAvailabilityOverview(ctx, f.clientID, RoleClient, f.providerID)
	require.Equal(t, CodeForbidden, FaultCode(err))
}
