package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// bookInProgress drives a fresh booking through confirmation, arrival and
// execution start.
func (f *fixture) bookInProgress(t *testing.T) *Appointment {
	t.Helper()
	ctx := context.Background()

	appt := f.bookConfirmed(t)
	f.now = appt.WindowStart

	lat, lng := -23.5505, -46.6333
	_, err := f.svc.MarkArrived(ctx, f.providerID, RoleProvider, appt.ID, ArrivalParams{
		Latitude:  &lat,
		Longitude: &lng,
	})
	require.NoError(t, err)

	started, err := f.svc.StartExecution(ctx, f.providerID, RoleProvider, appt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, started.Status)
	return started
}

func (f *fixture) scopeParams(valueCents int64) ScopeChangeParams {
	return ScopeChangeParams{
		Reason:                     "hidden pipe damage",
		AdditionalScopeDescription: "replace corroded section behind the wall",
		IncrementalValueCents:      valueCents,
	}
}

func TestCreateScopeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)

	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)

	require.Equal(t, ScopeChangePendingClientApproval, sc.Status)
	require.Equal(t, 1, sc.Version)
	require.Nil(t, sc.PreviousVersionID)
	require.Equal(t, int64(15000), sc.IncrementalValueCents)
}

// The Silver plan caps the increment at min(60000, 40% of the accepted
// value). With a R$500 acceptance the cap is 20000 cents.
func TestCreateScopeChangePlanCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)

	_, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(20001))
	require.Equal(t, CodePolicyViolation, FaultCode(err))

	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(20000))
	require.NoError(t, err)
	require.Equal(t, int64(20000), sc.IncrementalValueCents)
}

func TestCreateScopeChangeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)

	noReason := f.scopeParams(1000)
	noReason.Reason = ""
	_, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, noReason)
	require.Equal(t, CodeInvalidReason, FaultCode(err))

	zero := f.scopeParams(0)
	_, err = f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, zero)
	require.Equal(t, CodeInvalidValue, FaultCode(err))

	_, err = f.svc.CreateScopeChange(ctx, f.clientID, RoleClient, appt.ID, f.scopeParams(1000))
	require.Equal(t, CodeForbidden, FaultCode(err))
}

func TestCreateScopeChangeRequiresExecution(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t) // still pending confirmation
	_, err := f.svc.CreateScopeChange(context.Background(), f.providerID, RoleProvider, appt.ID, f.scopeParams(1000))
	require.Equal(t, CodeInvalidState, FaultCode(err))
}

func TestCreateScopeChangeSinglePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)

	_, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(5000))
	require.NoError(t, err)

	_, err = f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(3000))
	require.Equal(t, CodeScopeChangePending, FaultCode(err))

	// Once the previous one times out it is expired in place and a new
	// version opens.
	f.advance(25 * time.Hour)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(3000))
	require.NoError(t, err)
	require.Equal(t, 2, sc.Version)
	require.NotNil(t, sc.PreviousVersionID)
}

func TestRespondScopeChangeApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)

	updated, err := f.svc.RespondScopeChange(ctx, f.clientID, RoleClient, sc.ID, true, nil)
	require.NoError(t, err)
	require.Equal(t, ScopeChangeApprovedByClient, updated.Status)
	require.NotNil(t, updated.ClientRespondedAt)

	request, err := f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Equal(t, int64(15000), request.ApprovedExtraCents)
	require.Equal(t, int64(65000), request.CurrentValueCents)
}

func TestRespondScopeChangeReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)

	reason := "not in my budget"
	updated, err := f.svc.RespondScopeChange(ctx, f.clientID, RoleClient, sc.ID, false, &reason)
	require.NoError(t, err)
	require.Equal(t, ScopeChangeRejectedByClient, updated.Status)

	// Commercial totals stay untouched.
	request, err := f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Zero(t, request.ApprovedExtraCents)
	require.Equal(t, int64(50000), request.CurrentValueCents)

	// A resolved amendment cannot be answered twice.
	_, err = f.svc.RespondScopeChange(ctx, f.clientID, RoleClient, sc.ID, true, nil)
	require.Equal(t, CodeInvalidState, FaultCode(err))
}

func TestRespondScopeChangeAfterTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)

	f.advance(25 * time.Hour)
	_, err = f.svc.RespondScopeChange(ctx, f.clientID, RoleClient, sc.ID, true, nil)
	require.Equal(t, CodeScopeChangeExpired, FaultCode(err))

	got, err := f.repo.GetScopeChangeByID(ctx, sc.ID)
	require.NoError(t, err)
	require.Equal(t, ScopeChangeExpired, got.Status)
}

func TestRespondScopeChangeOnlyClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)

	_, err = f.svc.RespondScopeChange(ctx, f.providerID, RoleProvider, sc.ID, true, nil)
	require.Equal(t, CodeForbidden, FaultCode(err))

	other := uuid.New()
	f.repo.PutUser(&User{ID: other, Name: "Eva", Role: RoleClient, Plan: PlanTrial, Active: true})
	_, err = f.svc.RespondScopeChange(ctx, other, RoleClient, sc.ID, true, nil)
	require.Equal(t, CodeForbidden, FaultCode(err))
}

func TestScopeChangeAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)

	attachment, err := f.svc.AddScopeChangeAttachment(ctx, f.providerID, RoleProvider, sc.ID, ScopeChangeAttachmentParams{
		FileURL:     "https://cdn.example.com/pipe.jpg",
		FileName:    "pipe.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   1 << 20,
	})
	require.NoError(t, err)
	require.Equal(t, "image", attachment.MediaKind)

	_, err = f.svc.AddScopeChangeAttachment(ctx, f.providerID, RoleProvider, sc.ID, ScopeChangeAttachmentParams{
		FileURL:     "https://cdn.example.com/huge.mp4",
		FileName:    "huge.mp4",
		ContentType: "video/mp4",
		SizeBytes:   26 << 20,
	})
	require.Equal(t, CodeInvalidAttachment, FaultCode(err))

	for i := 0; i < MaxScopeChangeAttachments-1; i++ {
		_, err = f.svc.AddScopeChangeAttachment(ctx, f.providerID, RoleProvider, sc.ID, ScopeChangeAttachmentParams{
			FileURL:     "https://cdn.example.com/more.pdf",
			FileName:    "more.pdf",
			ContentType: "application/pdf",
			SizeBytes:   1024,
		})
		require.NoError(t, err)
	}

	_, err = f.svc.AddScopeChangeAttachment(ctx, f.providerID, RoleProvider, sc.ID, ScopeChangeAttachmentParams{
		FileURL:     "https://cdn.example.com/one-too-many.pdf",
		FileName:    "one-too-many.pdf",
		ContentType: "application/pdf",
		SizeBytes:   1024,
	})
	require.Equal(t, CodeInvalidAttachment, FaultCode(err))
}

func TestExpirePendingScopeChangesSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)

	expired, err := f.svc.ExpirePendingScopeChanges(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, expired)

	f.advance(25 * time.Hour)
	expired, err = f.svc.ExpirePendingScopeChanges(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	got, err := f.repo.GetScopeChangeByID(ctx, sc.ID)
	require.NoError(t, err)
	require.Equal(t, ScopeChangeExpired, got.Status)

	expired, err = f.svc.ExpirePendingScopeChanges(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, expired)
}

// recordingRecalculator counts invocations of the commercial seam while
// keeping the baseline arithmetic.
type recordingRecalculator struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingRecalculator) Recalculate(ctx context.Context, request *ServiceRequest) (CommercialTotals, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return baselineRecalculator{}.Recalculate(ctx, request)
}

func (r *recordingRecalculator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Every amendment resolution, approved, rejected or swept as expired, must
// pass through the commercial recalculator.
func TestScopeChangeResolutionRecalculatesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	calc := &recordingRecalculator{}
	f.svc.ext.Commercial = calc

	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(10000))
	require.NoError(t, err)
	_, err = f.svc.RespondScopeChange(ctx, f.clientID, RoleClient, sc.ID, false, nil)
	require.NoError(t, err)
	require.Equal(t, 1, calc.count())

	request, err := f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), request.CurrentValueCents)

	sc, err = f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(15000))
	require.NoError(t, err)
	_, err = f.svc.RespondScopeChange(ctx, f.clientID, RoleClient, sc.ID, true, nil)
	require.NoError(t, err)
	require.Equal(t, 2, calc.count())

	request, err = f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Equal(t, int64(15000), request.ApprovedExtraCents)
	require.Equal(t, int64(65000), request.CurrentValueCents)

	_, err = f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(3000))
	require.NoError(t, err)
	f.advance(25 * time.Hour)
	expired, err := f.svc.ExpirePendingScopeChanges(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Equal(t, 3, calc.count())

	// Expiry folds nothing in; the approved totals stand.
	request, err = f.repo.GetServiceRequestByID(ctx, f.requestID)
	require.NoError(t, err)
	require.Equal(t, int64(65000), request.CurrentValueCents)
}

// Amendment handling and completion both rewrite the service request, so
// they must hold its lock alongside the appointment lock.
func TestAmendmentAndCompletionLockScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	rec := &recordingLocks{inner: f.svc.locks}
	f.svc.locks = rec

	both := []string{appointmentLockKey(appt.ID), requestLockKey(f.requestID)}

	_, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(5000))
	require.NoError(t, err)
	require.Equal(t, both, rec.last())

	f.advance(25 * time.Hour)
	expired, err := f.svc.ExpirePendingScopeChanges(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Equal(t, both, rec.last())

	_, err = f.svc.UpdateOperationalStatus(ctx, f.providerID, RoleProvider, appt.ID, OperationalCompleted, nil)
	require.NoError(t, err)
	require.Equal(t, both, rec.last())
}

func TestScopeChangeVersionsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)

	first, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(5000))
	require.NoError(t, err)
	_, err = f.svc.RespondScopeChange(ctx, f.clientID, RoleClient, first.ID, false, nil)
	require.NoError(t, err)

	second, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(4000))
	require.NoError(t, err)
	require.Equal(t, 2, second.Version)
	require.NotNil(t, second.PreviousVersionID)
	require.Equal(t, first.ID, *second.PreviousVersionID)

	all, err := f.svc.ListScopeChanges(ctx, f.clientID, RoleClient, appt.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListScopeChangesForRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.bookInProgress(t)
	sc, err := f.svc.CreateScopeChange(ctx, f.providerID, RoleProvider, appt.ID, f.scopeParams(5000))
	require.NoError(t, err)

	for _, actor := range []struct {
		id   uuid.UUID
		role ActorRole
	}{
		{f.clientID, RoleClient},
		{f.providerID, RoleProvider},
		{f.adminID, RoleAdmin},
	} {
		changes, err := f.svc.ListScopeChangesForRequest(ctx, actor.id, actor.role, f.requestID)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		require.Equal(t, sc.ID, changes[0].ID)
	}

	otherClient := uuid.New()
	f.repo.PutUser(&User{ID: otherClient, Name: "Eva", Role: RoleClient, Plan: PlanTrial, Active: true})
	_, err = f.svc.ListScopeChangesForRequest(ctx, otherClient, RoleClient, f.requestID)
	require.Equal(t, CodeForbidden, FaultCode(err))

	_, err = f.svc.ListScopeChangesForRequest(ctx, f.clientID, RoleClient, uuid.New())
	require.Equal(t, CodeRequestNotFound, FaultCode(err))
}
