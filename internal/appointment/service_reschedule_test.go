package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRequestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)
	// Tuesday 14:00 UTC (11:00 local), inside the weekday schedule.
	newStart := appt.WindowStart.Add(25 * time.Hour)

	updated, err := f.svc.RequestReschedule(ctx, f.clientID, RoleClient, appt.ID, RescheduleParams{
		WindowStart: newStart,
		WindowEnd:   newStart.Add(time.Hour),
		Reason:      "conflicting delivery",
	})
	require.NoError(t, err)

	require.Equal(t, StatusRescheduleRequestedByClient, updated.Status)
	require.NotNil(t, updated.PreNegotiationStatus)
	require.Equal(t, StatusConfirmed, *updated.PreNegotiationStatus)
	require.Equal(t, newStart, *updated.ProposedWindowStart)
	// The live window is untouched until the counterparty accepts.
	require.Equal(t, appt.WindowStart, updated.WindowStart)
}

func TestRequestRescheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)
	newStart := appt.WindowStart.Add(25 * time.Hour)
	valid := RescheduleParams{WindowStart: newStart, WindowEnd: newStart.Add(time.Hour), Reason: "conflict"}

	noReason := valid
	noReason.Reason = " "
	_, err := f.svc.RequestReschedule(ctx, f.clientID, RoleClient, appt.ID, noReason)
	require.Equal(t, CodeInvalidReason, FaultCode(err))

	tooFar := valid
	tooFar.WindowStart = f.now.Add(31 * 24 * time.Hour)
	tooFar.WindowEnd = tooFar.WindowStart.Add(time.Hour)
	_, err = f.svc.RequestReschedule(ctx, f.clientID, RoleClient, appt.ID, tooFar)
	require.Equal(t, CodePolicyViolation, FaultCode(err))

	_, err = f.svc.RequestReschedule(ctx, f.adminID, RoleAdmin, appt.ID, valid)
	require.Equal(t, CodeForbidden, FaultCode(err))

	// Too close to the current window.
	f.now = appt.WindowStart.Add(-30 * time.Minute)
	near := valid
	near.WindowStart = f.now.Add(48 * time.Hour)
	near.WindowEnd = near.WindowStart.Add(time.Hour)
	_, err = f.svc.RequestReschedule(ctx, f.clientID, RoleClient, appt.ID, near)
	require.Equal(t, CodePolicyViolation, FaultCode(err))
}

func TestRespondRescheduleAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)
	newStart := appt.WindowStart.Add(25 * time.Hour)
	newEnd := newStart.Add(time.Hour)

	_, err := f.svc.RequestReschedule(ctx, f.clientID, RoleClient, appt.ID, RescheduleParams{
		WindowStart: newStart,
		WindowEnd:   newEnd,
		Reason:      "conflicting delivery",
	})
	require.NoError(t, err)

	updated, err := f.svc.RespondReschedule(ctx, f.providerID, RoleProvider, appt.ID, true, nil)
	require.NoError(t, err)

	require.Equal(t, StatusRescheduleConfirmed, updated.Status)
	require.Equal(t, newStart, updated.WindowStart)
	require.Equal(t, newEnd, updated.WindowEnd)
	require.Nil(t, updated.ProposedWindowStart)
	require.Nil(t, updated.PreNegotiationStatus)

	// The operational track restarts for the new window.
	require.NotNil(t, updated.OperationalStatus)
	require.Equal(t, OperationalOnTheWay, *updated.OperationalStatus)
}

func TestRespondRescheduleRejectRestoresStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)
	newStart := appt.WindowStart.Add(25 * time.Hour)

	_, err := f.svc.RequestReschedule(ctx, f.providerID, RoleProvider, appt.ID, RescheduleParams{
		WindowStart: newStart,
		WindowEnd:   newStart.Add(time.Hour),
		Reason:      "running late that day",
	})
	require.NoError(t, err)

	reason := "the original time works for me"
	updated, err := f.svc.RespondReschedule(ctx, f.clientID, RoleClient, appt.ID, false, &reason)
	require.NoError(t, err)

	require.Equal(t, StatusConfirmed, updated.Status)
	require.Equal(t, appt.WindowStart, updated.WindowStart)
	require.Nil(t, updated.ProposedWindowStart)
	require.Nil(t, updated.RescheduleReason)
}

func TestRespondRescheduleRequesterCannotAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)
	newStart := appt.WindowStart.Add(25 * time.Hour)

	_, err := f.svc.RequestReschedule(ctx, f.clientID, RoleClient, appt.ID, RescheduleParams{
		WindowStart: newStart,
		WindowEnd:   newStart.Add(time.Hour),
		Reason:      "conflicting delivery",
	})
	require.NoError(t, err)

	_, err = f.svc.RespondReschedule(ctx, f.clientID, RoleClient, appt.ID, true, nil)
	require.Equal(t, CodeForbidden, FaultCode(err))

	// Admins may resolve stuck negotiations.
	updated, err := f.svc.RespondReschedule(ctx, f.adminID, RoleAdmin, appt.ID, true, nil)
	require.NoError(t, err)
	require.Equal(t, StatusRescheduleConfirmed, updated.Status)
}

func TestRespondRescheduleAcceptFailsWhenSlotTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)
	newStart := appt.WindowStart.Add(25 * time.Hour)
	newEnd := newStart.Add(time.Hour)

	_, err := f.svc.RequestReschedule(ctx, f.clientID, RoleClient, appt.ID, RescheduleParams{
		WindowStart: newStart,
		WindowEnd:   newEnd,
		Reason:      "conflicting delivery",
	})
	require.NoError(t, err)

	// Another booking grabs the proposed window while the request is open.
	value := int64(30000)
	otherRequest := &ServiceRequest{
		ID:                uuid.New(),
		ClientID:          f.clientID,
		Status:            RequestOpen,
		BaseValueCents:    &value,
		CurrentValueCents: value,
	}
	otherRequest.Proposals = []Proposal{{
		ID:                  uuid.New(),
		ServiceRequestID:    otherRequest.ID,
		ProviderID:          f.providerID,
		EstimatedValueCents: &value,
		Accepted:            true,
	}}
	f.repo.PutServiceRequest(otherRequest)

	_, err = f.svc.Create(ctx, f.clientID, RoleClient, CreateParams{
		ServiceRequestID: otherRequest.ID,
		ProviderID:       f.providerID,
		WindowStart:      newStart,
		WindowEnd:        newEnd,
	})
	require.NoError(t, err)

	_, err = f.svc.RespondReschedule(ctx, f.providerID, RoleProvider, appt.ID, true, nil)
	require.Equal(t, CodeSlotUnavailable, FaultCode(err))
}

func TestRespondRescheduleWithoutRequestFails(t *testing.T) {
	f := newFixture(t)

	appt := f.bookConfirmed(t)
	_, err := f.svc.RespondReschedule(context.Background(), f.providerID, RoleProvider, appt.ID, true, nil)
	require.Equal(t, CodeInvalidState, FaultCode(err))
}
