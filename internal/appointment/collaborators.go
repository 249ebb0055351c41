package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// External collaborators. The engine consumes these seams; their
// implementations live outside this module. Reminder, notification,
// telemetry and ledger calls are best-effort: a failure is logged and
// recorded in history metadata, never surfaced to the caller of the
// triggering transition.

// ChecklistValidator gates operational completion on required checklist
// items.
type ChecklistValidator interface {
	ValidateRequiredItemsForCompletion(ctx context.Context, appointmentID uuid.UUID) (ChecklistValidation, error)
}

type ChecklistValidation struct {
	CanComplete      bool
	PendingItemNames []string
}

// ReminderScheduler owns appointment reminder dispatch.
type ReminderScheduler interface {
	ScheduleForAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) error
	CancelPending(ctx context.Context, appointmentID uuid.UUID, reason string) error
}

// NotificationSender delivers fire-and-forget user messages.
type NotificationSender interface {
	Send(ctx context.Context, recipientID uuid.UUID, subject, body, actionURL string) error
}

// FinancialPolicyEventType identifies the cancellation/no-show event being
// priced.
type FinancialPolicyEventType string

const (
	FinancialEventClientCancellation   FinancialPolicyEventType = "ClientCancellation"
	FinancialEventProviderCancellation FinancialPolicyEventType = "ProviderCancellation"
	FinancialEventProviderNoShow       FinancialPolicyEventType = "ProviderNoShow"
)

type FinancialBreakdown struct {
	CounterpartyActor ActorRole
	CompensationCents int64
	PenaltyCents      int64
}

// FinancialPolicy computes and applies penalty/compensation amounts. The
// amounts are computed elsewhere; the engine only triggers the calls.
type FinancialPolicy interface {
	Calculate(ctx context.Context, eventType FinancialPolicyEventType, serviceValueCents int64, windowStart, eventAt time.Time) (FinancialBreakdown, error)
	ApplyMutation(ctx context.Context, providerID uuid.UUID, entryType string, amountCents int64, reason, reference string) error
}

// CommercialTotals is the recomputed money snapshot for a service request.
type CommercialTotals struct {
	BaseValueCents     int64
	ApprovedExtraCents int64
	CurrentValueCents  int64
}

// CommercialRecalculator re-derives a request's running totals. It is
// invoked whenever an amendment resolves: approved, rejected or expired.
type CommercialRecalculator interface {
	Recalculate(ctx context.Context, request *ServiceRequest) (CommercialTotals, error)
}

// PresenceTelemetry receives presence confirmations for no-show risk
// scoring.
type PresenceTelemetry interface {
	RecordPresenceResponse(ctx context.Context, appointmentID uuid.UUID, role ActorRole, confirmed bool, reason string) error
}

// Collaborators bundles every external seam; zero-value fields are replaced
// with no-op implementations by NewService.
type Collaborators struct {
	Checklist  ChecklistValidator
	Reminders  ReminderScheduler
	Notifier   NotificationSender
	Financial  FinancialPolicy
	Commercial CommercialRecalculator
	Telemetry  PresenceTelemetry
}

func (c Collaborators) withDefaults() Collaborators {
	if c.Checklist == nil {
		c.Checklist = noopChecklist{}
	}
	if c.Reminders == nil {
		c.Reminders = noopReminders{}
	}
	if c.Notifier == nil {
		c.Notifier = noopNotifier{}
	}
	if c.Financial == nil {
		c.Financial = noopFinancial{}
	}
	if c.Commercial == nil {
		c.Commercial = baselineRecalculator{}
	}
	if c.Telemetry == nil {
		c.Telemetry = noopTelemetry{}
	}
	return c
}

type noopChecklist struct{}

func (noopChecklist) ValidateRequiredItemsForCompletion(context.Context, uuid.UUID) (ChecklistValidation, error) {
	return ChecklistValidation{CanComplete: true}, nil
}

type noopReminders struct{}

func (noopReminders) ScheduleForAppointment(context.Context, uuid.UUID, string) error { return nil }
func (noopReminders) CancelPending(context.Context, uuid.UUID, string) error          { return nil }

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, uuid.UUID, string, string, string) error { return nil }

type noopFinancial struct{}

func (noopFinancial) Calculate(context.Context, FinancialPolicyEventType, int64, time.Time, time.Time) (FinancialBreakdown, error) {
	return FinancialBreakdown{}, nil
}

func (noopFinancial) ApplyMutation(context.Context, uuid.UUID, string, int64, string, string) error {
	return nil
}

type noopTelemetry struct{}

func (noopTelemetry) RecordPresenceResponse(context.Context, uuid.UUID, ActorRole, bool, string) error {
	return nil
}
