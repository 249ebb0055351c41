package appointment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// complete drives a booking all the way to operational completion and
// returns the appointment with the one-time PIN.
func (f *fixture) complete(t *testing.T) (*Appointment, string) {
	t.Helper()

	appt := f.bookInProgress(t)
	result, err := f.svc.UpdateOperationalStatus(context.Background(), f.providerID, RoleProvider, appt.ID, OperationalCompleted, nil)
	require.NoError(t, err)
	require.Len(t, result.CompletionPin, 6)
	return result.Appointment, result.CompletionPin
}

// wrongPin flips the last digit.
func wrongPin(pin string) string {
	last := pin[len(pin)-1]
	if last == '9' {
		last = '0'
	} else {
		last++
	}
	return pin[:len(pin)-1] + string(last)
}

func TestOperationalCompletionIssuesTerm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, pin := f.complete(t)

	require.Equal(t, StatusCompleted, appt.Status)
	require.Equal(t, OperationalCompleted, *appt.OperationalStatus)

	request, err := f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Equal(t, RequestCompleted, request.Status)

	term, err := f.svc.GetCompletionTerm(ctx, f.clientID, RoleClient, appt.ID)
	require.NoError(t, err)
	require.Equal(t, TermPendingClientAcceptance, term.Status)
	require.NotNil(t, term.PinHash)
	// Only the salted hash is stored.
	require.NotContains(t, *term.PinHash, pin)
	require.Equal(t, hashPayload(term.Payload), term.PayloadHash)
	require.True(t, strings.HasPrefix(term.Payload, "term="))
}

func TestOperationalStatusSyncPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookConfirmed(t)

	// The sub-machine cannot skip states.
	_, err := f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalInService, nil)
	require.Equal(t, CodeInvalidState, FaultCode(err))

	onSite, err := f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalOnSite, nil)
	require.NoError(t, err)
	require.Equal(t, StatusArrived, onSite.Appointment.Status)

	inService, err := f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalInService, nil)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, inService.Appointment.Status)

	request, err := f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Equal(t, RequestInProgress, request.Status)

	// Waiting for parts needs a reason and does not touch the lifecycle.
	_, err = f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalWaitingParts, nil)
	require.Equal(t, CodeInvalidReason, FaultCode(err))

	reason := "compressor valve on order"
	waiting, err := f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalWaitingParts, &reason)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, waiting.Appointment.Status)
	require.Equal(t, OperationalWaitingParts, *waiting.Appointment.OperationalStatus)

	// Completion is unreachable from WaitingParts.
	_, err = f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalCompleted, nil)
	require.Equal(t, CodeInvalidState, FaultCode(err))
}

func TestCompletionBlockedByChecklist(t *testing.T) {
	f := newFixture(t)
	f.svc.ext.Checklist = staticChecklist{validation: ChecklistValidation{
		CanComplete:      false,
		PendingItemNames: []string{"before photos", "client walkthrough"},
	}}

	appt := f.bookInProgress(t)
	_, err := f.svc.UpdateOperationalStatus(context.Background(), f.providerID, RoleProvider, appt.ID, OperationalCompleted, nil)
	require.Equal(t, CodePolicyViolation, FaultCode(err))
	require.Contains(t, err.Error(), "before photos")
}

func TestCompletionBlockedByPendingScopeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(5000))
	require.NoError(t, err)

	_, err = f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalCompleted, nil)
	require.Equal(t, CodeScopeChangePending, FaultCode(err))

	// A timed-out amendment is expired in place instead of blocking.
	f.advance(25 * time.Hour)
	result, err := f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalCompleted, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.CompletionPin)

	got, err := f.repo.GetScopeChangeByID(ctx, sc.ID)
	require.NoError(t, err)
	require.Equal(t, ScopeChangeExpired, got.Status)
}

func TestConfirmCompletionByPin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, pin := f.complete(t)

	term, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, pin)
	require.NoError(t, err)
	require.Equal(t, TermAcceptedByClient, term.Status)
	require.Equal(t, AcceptanceMethodPin, *term.AcceptedWithMethod)

	request, err := f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Equal(t, RequestValidated, request.Status)

	// Acceptance is final.
	_, err = f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, pin)
	require.Equal(t, CodeInvalidState, FaultCode(err))
}

func TestConfirmCompletionByPinAttemptLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, pin := f.complete(t)
	bad := wrongPin(pin)

	for attempt := 1; attempt < 5; attempt++ {
		_, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, bad)
		require.Equal(t, CodeInvalidPin, FaultCode(err))
	}

	_, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, bad)
	require.Equal(t, CodePinLocked, FaultCode(err))

	term, err := f.repo.GetCompletionTermByAppointment(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, TermEscalatedToAdmin, term.Status)
	require.NotNil(t, term.EscalatedAt)
	require.Positive(t, f.notifier.countFor(f.adminID))

	// The correct PIN no longer works once locked.
	_, err = f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, pin)
	require.Equal(t, CodePinLocked, FaultCode(err))

	// The signature path still lets the client close it out.
	accepted, err := f.svc.ConfirmCompletionBySignature(ctx, f.clientID, RoleClient, appt.ID, "Ana Souza")
	require.NoError(t, err)
	require.Equal(t, TermAcceptedByClient, accepted.Status)
	require.Equal(t, AcceptanceMethodSignature, *accepted.AcceptedWithMethod)
}

func TestConfirmCompletionPinExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, pin := f.complete(t)

	f.advance(31 * time.Minute)
	_, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, pin)
	require.Equal(t, CodePinExpired, FaultCode(err))

	term, err := f.repo.GetCompletionTermByAppointment(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, TermExpired, term.Status)

	// A regenerated PIN resets the term and the attempt counter.
	fresh, err := f.svc.RegenerateCompletionPin(ctx, f.providerID, RoleProvider, appt.ID)
	require.NoError(t, err)
	require.Len(t, fresh, 6)

	accepted, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, fresh)
	require.NoError(t, err)
	require.Equal(t, TermAcceptedByClient, accepted.Status)
}

func TestConfirmCompletionBySignatureValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, _ := f.complete(t)

	_, err := f.svc.ConfirmCompletionBySignature(ctx, f.clientID, RoleClient, appt.ID, "Jo")
	require.Equal(t, CodeInvalidSignature, FaultCode(err))

	_, err = f.svc.ConfirmCompletionBySignature(ctx, f.providerID, RoleProvider, appt.ID, "Bruno Lima")
	require.Equal(t, CodeForbidden, FaultCode(err))

	accepted, err := f.svc.ConfirmCompletionBySignature(ctx, f.clientID, RoleClient, appt.ID, "Ana Souza")
	require.NoError(t, err)
	require.Equal(t, "Ana Souza", *accepted.AcceptedSignatureName)
}

func TestContestCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, _ := f.complete(t)

	_, err := f.svc.ContestCompletion(ctx, f.clientID, RoleClient, appt.ID, "bad")
	require.Equal(t, CodeInvalidReason, FaultCode(err))

	contested, err := f.svc.ContestCompletion(ctx, f.clientID, RoleClient, appt.ID, "the leak came back the same evening")
	require.NoError(t, err)
	require.Equal(t, TermContestedByClient, contested.Status)
	require.NotNil(t, contested.ContestedAt)

	// Provider and every active admin hear about the dispute.
	require.Positive(t, f.notifier.countFor(f.providerID))
	require.Positive(t, f.notifier.countFor(f.adminID))

	_, err = f.svc.ConfirmCompletionBySignature(ctx, f.clientID, RoleClient, appt.ID, "Ana Souza")
	require.Equal(t, CodeInvalidState, FaultCode(err))
}

func TestRegenerateCompletionPinGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, pin := f.complete(t)

	_, err := f.svc.RegenerateCompletionPin(ctx, f.clientID, RoleClient, appt.ID)
	require.Equal(t, CodeForbidden, FaultCode(err))

	_, err = f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, pin)
	require.NoError(t, err)

	_, err = f.svc.RegenerateCompletionPin(ctx, f.providerID, RoleProvider, appt.ID)
	require.Equal(t, CodeInvalidState, FaultCode(err))
}

// An attempt-locked term can only be reopened by an admin; regeneration
// clears the escalation and lets the client retry with the new PIN.
func TestAdminRegenerateAfterEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, pin := f.complete(t)
	bad := wrongPin(pin)
	for attempt := 0; attempt < 5; attempt++ {
		_, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, bad)
		require.Error(t, err)
	}

	// The provider cannot bypass the lockout.
	_, err := f.svc.RegenerateCompletionPin(ctx, f.providerID, RoleProvider, appt.ID)
	require.Equal(t, CodeForbidden, FaultCode(err))

	fresh, err := f.svc.RegenerateCompletionPin(ctx, f.adminID, RoleAdmin, appt.ID)
	require.NoError(t, err)
	require.Len(t, fresh, 6)

	term, err := f.repo.GetCompletionTermByAppointment(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, TermPendingClientAcceptance, term.Status)
	require.Zero(t, term.PinFailedAttempts)
	require.Nil(t, term.EscalatedAt)

	accepted, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, fresh)
	require.NoError(t, err)
	require.Equal(t, TermAcceptedByClient, accepted.Status)
}

// Regeneration also reopens a contested term, clearing the dispute fields.
func TestAdminRegenerateAfterContest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, _ := f.complete(t)
	_, err := f.svc.ContestCompletion(ctx, f.clientID, RoleClient, appt.ID, "the leak came back the same evening")
	require.NoError(t, err)

	fresh, err := f.svc.RegenerateCompletionPin(ctx, f.adminID, RoleAdmin, appt.ID)
	require.NoError(t, err)

	term, err := f.repo.GetCompletionTermByAppointment(ctx, appt.ID)
	require.NoError(t, err)
	require.Equal(t, TermPendingClientAcceptance, term.Status)
	require.Nil(t, term.ContestReason)
	require.Nil(t, term.ContestedAt)

	accepted, err := f.svc.ConfirmCompletionByPin(ctx, f.clientID, RoleClient, appt.ID, fresh)
	require.NoError(t, err)
	require.Equal(t, TermAcceptedByClient, accepted.Status)
}

func TestRespondPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)

	_, err := f.svc.RespondPresence(ctx, f.clientID, RoleClient, appt.ID, false, "")
	require.Equal(t, CodeInvalidReason, FaultCode(err))

	updated, err := f.svc.RespondPresence(ctx, f.clientID, RoleClient, appt.ID, true, "")
	require.NoError(t, err)
	require.NotNil(t, updated.ClientPresenceConfirmed)
	require.True(t, *updated.ClientPresenceConfirmed)

	updated, err = f.svc.RespondPresence(ctx, f.providerID, RoleProvider, appt.ID, false, "client not home")
	require.NoError(t, err)
	require.NotNil(t, updated.ProviderPresenceConfirmed)
	require.False(t, *updated.ProviderPresenceConfirmed)
}

type staticChecklist struct {
	validation ChecklistValidation
}

func (c staticChecklist) ValidateRequiredItemsForCompletion(context.Context, uuid.UUID) (ChecklistValidation, error) {
	return c.validation, nil
}
