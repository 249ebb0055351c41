package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Window duration and query-range bounds shared by slot generation and
// appointment creation.
const (
	MinWindowMinutes  = 15
	MaxWindowMinutes  = 240
	MaxSlotsRangeDays = 31
)

type ActorRole string

const (
	RoleClient   ActorRole = "Client"
	RoleProvider ActorRole = "Provider"
	RoleAdmin    ActorRole = "Admin"
	RoleSystem   ActorRole = "System"
)

func ParseActorRole(raw string) (ActorRole, bool) {
	switch raw {
	case string(RoleClient):
		return RoleClient, true
	case string(RoleProvider):
		return RoleProvider, true
	case string(RoleAdmin):
		return RoleAdmin, true
	case string(RoleSystem):
		return RoleSystem, true
	}
	return "", false
}

type Status string

const (
	StatusPendingProviderConfirmation   Status = "PendingProviderConfirmation"
	StatusConfirmed                     Status = "Confirmed"
	StatusRejectedByProvider            Status = "RejectedByProvider"
	StatusExpiredWithoutProviderAction  Status = "ExpiredWithoutProviderAction"
	StatusRescheduleRequestedByClient   Status = "RescheduleRequestedByClient"
	StatusRescheduleRequestedByProvider Status = "RescheduleRequestedByProvider"
	StatusRescheduleConfirmed           Status = "RescheduleConfirmed"
	StatusArrived                       Status = "Arrived"
	StatusInProgress                    Status = "InProgress"
	StatusCancelledByClient             Status = "CancelledByClient"
	StatusCancelledByProvider           Status = "CancelledByProvider"
	StatusCompleted                     Status = "Completed"
)

// BlockingStatuses are the appointment statuses that reserve the provider's
// calendar: a candidate slot overlapping any appointment in one of these
// statuses is not bookable.
var BlockingStatuses = []Status{
	StatusPendingProviderConfirmation,
	StatusConfirmed,
	StatusArrived,
	StatusInProgress,
	StatusRescheduleRequestedByClient,
	StatusRescheduleRequestedByProvider,
	StatusRescheduleConfirmed,
}

type OperationalStatus string

const (
	OperationalOnTheWay     OperationalStatus = "OnTheWay"
	OperationalOnSite       OperationalStatus = "OnSite"
	OperationalInService    OperationalStatus = "InService"
	OperationalWaitingParts OperationalStatus = "WaitingParts"
	OperationalCompleted    OperationalStatus = "Completed"
)

func ParseOperationalStatus(raw string) (OperationalStatus, bool) {
	switch raw {
	case string(OperationalOnTheWay):
		return OperationalOnTheWay, true
	case string(OperationalOnSite):
		return OperationalOnSite, true
	case string(OperationalInService):
		return OperationalInService, true
	case string(OperationalWaitingParts):
		return OperationalWaitingParts, true
	case string(OperationalCompleted):
		return OperationalCompleted, true
	}
	return "", false
}

type Plan string

const (
	PlanTrial  Plan = "Trial"
	PlanBronze Plan = "Bronze"
	PlanSilver Plan = "Silver"
	PlanGold   Plan = "Gold"
)

// planScopeCaps bounds the incremental value a provider may request in a
// scope change: min(absolute cap, accepted proposal value * percent / 100),
// falling back to the absolute cap when no accepted value exists.
var planScopeCaps = map[Plan]struct {
	AbsoluteCapCents int64
	Percent          int64
}{
	PlanTrial:  {10000, 20},
	PlanBronze: {30000, 30},
	PlanSilver: {60000, 40},
	PlanGold:   {150000, 50},
}

// ScopeChangeCapCents resolves the plan-tiered incremental value cap.
func ScopeChangeCapCents(plan Plan, acceptedValueCents int64) int64 {
	cap, ok := planScopeCaps[plan]
	if !ok {
		cap = planScopeCaps[PlanTrial]
	}
	if acceptedValueCents <= 0 {
		return cap.AbsoluteCapCents
	}
	relative := acceptedValueCents * cap.Percent / 100
	if relative < cap.AbsoluteCapCents {
		return relative
	}
	return cap.AbsoluteCapCents
}

type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      ActorRole
	Plan      Plan
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ServiceRequestStatus string

const (
	RequestOpen       ServiceRequestStatus = "Open"
	RequestScheduled  ServiceRequestStatus = "Scheduled"
	RequestInProgress ServiceRequestStatus = "InProgress"
	RequestCompleted  ServiceRequestStatus = "Completed"
	RequestCanceled   ServiceRequestStatus = "Canceled"
	RequestValidated  ServiceRequestStatus = "Validated"
)

func (s ServiceRequestStatus) Closed() bool {
	return s == RequestCompleted || s == RequestCanceled || s == RequestValidated
}

type Proposal struct {
	ID                  uuid.UUID
	ServiceRequestID    uuid.UUID
	ProviderID          uuid.UUID
	EstimatedValueCents *int64
	Accepted            bool
	Invalidated         bool
	CreatedAt           time.Time
}

type ServiceRequest struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	Description string
	Status      ServiceRequestStatus

	// Running commercial totals, recomputed after amendment resolution.
	BaseValueCents     *int64
	ApprovedExtraCents int64
	CurrentValueCents  int64

	Proposals []Proposal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AcceptedProposalValueCents returns the highest accepted, non-invalidated
// proposal value, or 0 when none exists.
func (r *ServiceRequest) AcceptedProposalValueCents() int64 {
	var max int64
	for _, p := range r.Proposals {
		if !p.Accepted || p.Invalidated || p.EstimatedValueCents == nil {
			continue
		}
		if *p.EstimatedValueCents > max {
			max = *p.EstimatedValueCents
		}
	}
	return max
}

// AcceptedProposalFor reports whether the provider holds an accepted,
// non-invalidated proposal on this request.
func (r *ServiceRequest) AcceptedProposalFor(providerID uuid.UUID) bool {
	for _, p := range r.Proposals {
		if p.ProviderID == providerID && p.Accepted && !p.Invalidated {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID               uuid.UUID
	ServiceRequestID uuid.UUID
	ClientID         uuid.UUID
	ProviderID       uuid.UUID

	Status      Status
	WindowStart time.Time // UTC
	WindowEnd   time.Time // UTC
	ExpiresAt   *time.Time
	Reason      *string

	// Reschedule negotiation, populated while a request is pending.
	ProposedWindowStart   *time.Time
	ProposedWindowEnd     *time.Time
	RescheduleRequestedAt *time.Time
	RescheduleRequestedBy *ActorRole
	RescheduleReason      *string
	PreNegotiationStatus  *Status

	OperationalStatus          *OperationalStatus
	OperationalStatusUpdatedAt *time.Time
	OperationalStatusReason    *string

	ConfirmedAt *time.Time
	ArrivedAt   *time.Time
	StartedAt   *time.Time
	RejectedAt  *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time

	ArrivedLatitude       *float64
	ArrivedLongitude      *float64
	ArrivedAccuracyMeters *float64
	ArrivedManualReason   *string

	ClientPresenceConfirmed     *bool
	ClientPresenceRespondedAt   *time.Time
	ClientPresenceReason        *string
	ProviderPresenceConfirmed   *bool
	ProviderPresenceRespondedAt *time.Time
	ProviderPresenceReason      *string

	// Computed externally; carried for read models only.
	NoShowRiskScore        *int
	NoShowRiskLevel        *string
	NoShowRiskCalculatedAt *time.Time
	NoShowRiskReasons      *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Overlaps reports whether the appointment window intersects [start, end).
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return windowsOverlap(a.WindowStart, a.WindowEnd, start, end)
}

func windowsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// HistoryEntry is one immutable audit record. Entries are only ever
// appended; reconstructing every transition from them must be possible.
type HistoryEntry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID

	PreviousStatus            *Status
	NewStatus                 Status
	PreviousOperationalStatus *OperationalStatus
	NewOperationalStatus      *OperationalStatus

	ActorID   *uuid.UUID
	ActorRole ActorRole
	Reason    *string
	Metadata  map[string]string

	OccurredAt time.Time
}
