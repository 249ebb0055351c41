package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestScopeChangeCapCents(t *testing.T) {
	cases := []struct {
		plan     Plan
		accepted int64
		want     int64
	}{
		{PlanTrial, 100000, 10000},  // absolute cap wins
		{PlanTrial, 20000, 4000},    // 20% wins
		{PlanBronze, 50000, 15000},  // 30%
		{PlanSilver, 50000, 20000},  // 40%
		{PlanSilver, 500000, 60000}, // absolute cap
		{PlanGold, 100000, 50000},   // 50%
		{PlanGold, 1000000, 150000}, // absolute cap
		{PlanTrial, 0, 10000},       // no accepted value, absolute cap
		{Plan("Unknown"), 100000, 10000},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ScopeChangeCapCents(tc.plan, tc.accepted), "%s/%d", tc.plan, tc.accepted)
	}
}

func TestAcceptedProposalValueCents(t *testing.T) {
	providerID := uuid.New()
	v1, v2 := int64(10000), int64(25000)

	request := &ServiceRequest{
		Proposals: []Proposal{
			{ProviderID: providerID, EstimatedValueCents: &v1, Accepted: false},
			{ProviderID: providerID, EstimatedValueCents: &v2, Accepted: true},
		},
	}
	require.Equal(t, int64(25000), request.AcceptedProposalValueCents())
	require.True(t, request.AcceptedProposalFor(providerID))
	require.False(t, request.AcceptedProposalFor(uuid.New()))

	// Invalidated acceptances do not count.
	request.Proposals[1].Invalidated = true
	require.Zero(t, request.AcceptedProposalValueCents())
	require.False(t, request.AcceptedProposalFor(providerID))
}

func TestAppointmentOverlaps(t *testing.T) {
	start := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	appt := &Appointment{WindowStart: start, WindowEnd: start.Add(time.Hour)}

	require.True(t, appt.Overlaps(start.Add(30*time.Minute), start.Add(90*time.Minute)))
	require.True(t, appt.Overlaps(start.Add(-30*time.Minute), start.Add(30*time.Minute)))
	require.True(t, appt.Overlaps(start, start.Add(time.Hour)))
	// Touching boundaries do not overlap.
	require.False(t, appt.Overlaps(start.Add(time.Hour), start.Add(2*time.Hour)))
	require.False(t, appt.Overlaps(start.Add(-time.Hour), start))
}

func TestPinHashing(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	pin, err := generatePin(6)
	require.NoError(t, err)
	require.Len(t, pin, 6)
	for _, r := range pin {
		require.True(t, r >= '0' && r <= '9')
	}

	hash := hashPin(a, pin)
	require.True(t, pinMatches(a, pin, hash))
	require.False(t, pinMatches(b, pin, hash))
	require.False(t, pinMatches(a, wrongPin(pin), hash))

	// The same pin salts differently per appointment.
	require.NotEqual(t, hash, hashPin(b, pin))
}
