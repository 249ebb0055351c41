package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/config"
	"github.com/homefix/appointment-scheduling/internal/lock"
)

// Service is the scheduling coordinator: it owns the appointment aggregate
// and serializes every conflicting operation through the lock registry.
// Availability reads take no lock and may be stale; the race is resolved by
// re-checking under lock at commit time.
type Service struct {
	repo  Repository
	locks lock.Registry
	ext   Collaborators
	cfg   config.Config
	log   *zap.Logger
	loc   *time.Location
	now   func() time.Time
}

func NewService(repo Repository, locks lock.Registry, ext Collaborators, cfg config.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.AvailabilityTimeZone)
	if err != nil {
		log.Warn("availability timezone unresolvable, using host-local",
			zap.String("timezone", cfg.AvailabilityTimeZone), zap.Error(err))
		loc = time.Local
	}

	return &Service{
		repo:  repo,
		locks: locks,
		ext:   ext.withDefaults(),
		cfg:   cfg,
		log:   log,
		loc:   loc,
		now:   time.Now,
	}
}

// Lock key builders. Keys sort with "appointment:" before "request:", which
// matches the required total order (appointment lock first, then
// service-request lock) under the registry's lexicographic acquisition.
func appointmentLockKey(id uuid.UUID) string {
	return "appointment:" + id.String()
}

func requestLockKey(id uuid.UUID) string {
	return "request:" + id.String()
}

func providerDayLockKey(providerID uuid.UUID, day time.Time) string {
	return "create:provider:" + providerID.String() + ":" + day.UTC().Format("2006-01-02")
}

func requestDayLockKey(requestID uuid.UUID, day time.Time) string {
	return "create:request:" + requestID.String() + ":" + day.UTC().Format("2006-01-02")
}

// GetAvailableSlots computes bookable windows for a provider over a range
// of at most MaxSlotsRangeDays days. Read-only; safe without locks.
func (s *Service) GetAvailableSlots(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, providerID uuid.UUID, from, to time.Time, slotDurationMinutes int) ([]SlotWindow, error) {
	from = from.UTC()
	to = to.UTC()

	if providerID == uuid.Nil {
		return nil, fault(CodeInvalidProvider, "provider id is required")
	}
	if !to.After(from) {
		return nil, fault(CodeInvalidRange, "date range is invalid")
	}
	if to.Sub(from) > time.Duration(MaxSlotsRangeDays)*24*time.Hour {
		return nil, fault(CodeInvalidRange, fmt.Sprintf("slot queries allow at most %d days", MaxSlotsRangeDays))
	}
	if slotDurationMinutes != 0 && (slotDurationMinutes < MinWindowMinutes || slotDurationMinutes > MaxWindowMinutes) {
		return nil, fault(CodeInvalidSlotDuration, fmt.Sprintf("slot duration must be between %d and %d minutes", MinWindowMinutes, MaxWindowMinutes))
	}
	if actorRole == RoleProvider && actorID != providerID {
		return nil, fault(CodeForbidden, "providers may only query their own slots")
	}

	if _, err := s.loadActiveProvider(ctx, providerID); err != nil {
		return nil, err
	}

	rules, err := s.repo.GetAvailabilityRulesByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	if len(rules) == 0 {
		return []SlotWindow{}, nil
	}

	exceptions, err := s.repo.GetAvailabilityExceptionsByProvider(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load availability exceptions: %w", err)
	}

	reserved, err := s.repo.GetProviderAppointmentsInRange(ctx, providerID, from, to, BlockingStatuses)
	if err != nil {
		return nil, fmt.Errorf("load reserved appointments: %w", err)
	}

	return BuildAvailableSlots(rules, exceptions, reserved, from, to, slotDurationMinutes, s.loc), nil
}

type CreateParams struct {
	ServiceRequestID uuid.UUID
	ProviderID       uuid.UUID
	WindowStart      time.Time
	WindowEnd        time.Time
	Reason           *string
}

// Create reserves a window on the provider's calendar. The conflict checks
// and the insert run under the creation locks, keyed by (provider, day) and
// (service request, day) and acquired in lexicographic order.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, params CreateParams) (*Appointment, error) {
	windowStart := params.WindowStart.UTC()
	windowEnd := params.WindowEnd.UTC()
	now := s.now()

	if params.ServiceRequestID == uuid.Nil {
		return nil, fault(CodeInvalidRequest, "service request id is required")
	}
	if params.ProviderID == uuid.Nil {
		return nil, fault(CodeInvalidProvider, "provider id is required")
	}
	if err := validateWindow(windowStart, windowEnd); err != nil {
		return nil, err
	}
	if !windowStart.After(now.Add(time.Minute)) {
		return nil, fault(CodeInvalidWindow, "the appointment window must be in the future")
	}
	if actorRole == RoleProvider && actorID != params.ProviderID {
		return nil, fault(CodeForbidden, "providers may only create appointments for themselves")
	}

	if _, err := s.loadActiveProvider(ctx, params.ProviderID); err != nil {
		return nil, err
	}

	request, err := s.loadServiceRequest(ctx, params.ServiceRequestID)
	if err != nil {
		return nil, err
	}
	if actorRole == RoleClient && request.ClientID != actorID {
		return nil, fault(CodeForbidden, "clients may not schedule another client's request")
	}
	if request.Status.Closed() {
		return nil, fault(CodeRequestClosed, "the service request is already closed")
	}
	if !request.AcceptedProposalFor(params.ProviderID) {
		return nil, fault(CodeProviderNotAssigned, "the provider has no accepted proposal for this request")
	}

	keys := []string{
		providerDayLockKey(params.ProviderID, windowStart),
		requestDayLockKey(params.ServiceRequestID, windowStart),
	}

	var created *Appointment
	err = s.locks.WithLock(ctx, keys, func(ctx context.Context) error {
		// Re-check conflicts inside the critical section.
		siblings, err := s.repo.GetAppointmentsByServiceRequest(ctx, params.ServiceRequestID)
		if err != nil {
			return fmt.Errorf("load request appointments: %w", err)
		}
		for _, sibling := range siblings {
			if sibling.Status.Blocking() && sibling.Overlaps(windowStart, windowEnd) {
				return fault(CodeRequestWindowConflict, "the request already holds an overlapping appointment")
			}
		}

		available, err := s.slotAvailable(ctx, params.ProviderID, windowStart, windowEnd, uuid.Nil)
		if err != nil {
			return err
		}
		if !available {
			return fault(CodeSlotUnavailable, "the chosen window is not available for the provider")
		}

		expiresAt := now.Add(s.cfg.ConfirmationExpiry)
		appt := &Appointment{
			ID:               uuid.New(),
			ServiceRequestID: params.ServiceRequestID,
			ClientID:         request.ClientID,
			ProviderID:       params.ProviderID,
			Status:           StatusPendingProviderConfirmation,
			WindowStart:      windowStart,
			WindowEnd:        windowEnd,
			ExpiresAt:        &expiresAt,
			Reason:           trimmedOrNil(params.Reason),
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := s.repo.AddAppointment(ctx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID: appt.ID,
			NewStatus:     StatusPendingProviderConfirmation,
			ActorID:       &actorID,
			ActorRole:     actorRole,
			Reason:        strPtr("appointment created"),
		})

		if request.Status != RequestScheduled {
			request.Status = RequestScheduled
			if err := s.repo.UpdateServiceRequest(ctx, request); err != nil {
				return fmt.Errorf("mark request scheduled: %w", err)
			}
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, created.ID, created.ProviderID,
		"New appointment awaiting confirmation",
		fmt.Sprintf("A visit was booked for %s.", created.WindowStart.Format(time.RFC3339)),
		"/appointments/"+created.ID.String())

	return created, nil
}

// Confirm moves a pending appointment to Confirmed, clears the SLA expiry
// and starts tracking the operational sub-state at OnTheWay.
func (s *Service) Confirm(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID) (*Appointment, error) {
	if actorRole != RoleProvider && actorRole != RoleAdmin {
		return nil, fault(CodeForbidden, "only the provider may confirm an appointment")
	}

	var confirmed *Appointment
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if actorRole == RoleProvider && appt.ProviderID != actorID {
			return fault(CodeForbidden, "the appointment belongs to another provider")
		}

		next, ok := nextStatus(appt.Status, EventConfirm)
		if !ok {
			return fault(CodeInvalidState, "only a pending appointment can be confirmed")
		}

		now := s.now()
		prev := appt.Status
		op := OperationalOnTheWay

		appt.Status = next
		appt.ExpiresAt = nil
		appt.ConfirmedAt = &now
		appt.OperationalStatus = &op
		appt.OperationalStatusUpdatedAt = &now
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("confirm appointment: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:        appt.ID,
			PreviousStatus:       &prev,
			NewStatus:            appt.Status,
			NewOperationalStatus: &op,
			ActorID:              &actorID,
			ActorRole:            actorRole,
			Reason:               strPtr("appointment confirmed"),
		})

		confirmed = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ext.Reminders.ScheduleForAppointment(ctx, confirmed.ID, "appointment confirmed"); err != nil {
		s.recordSideEffectFailure(ctx, confirmed.ID, "reminder_schedule", err)
	}
	s.notifyBestEffort(ctx, confirmed.ID, confirmed.ClientID,
		"Appointment confirmed",
		fmt.Sprintf("Your visit on %s was confirmed by the provider.", confirmed.WindowStart.Format(time.RFC3339)),
		"/appointments/"+confirmed.ID.String())

	return confirmed, nil
}

// Reject declines a pending appointment; the reason is mandatory.
func (s *Service) Reject(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, reason string) (*Appointment, error) {
	if actorRole != RoleProvider && actorRole != RoleAdmin {
		return nil, fault(CodeForbidden, "only the provider may reject an appointment")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fault(CodeInvalidReason, "a rejection reason is required")
	}

	var rejected *Appointment
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if actorRole == RoleProvider && appt.ProviderID != actorID {
			return fault(CodeForbidden, "the appointment belongs to another provider")
		}

		next, ok := nextStatus(appt.Status, EventReject)
		if !ok {
			return fault(CodeInvalidState, "only a pending appointment can be rejected")
		}

		now := s.now()
		prev := appt.Status
		appt.Status = next
		appt.ExpiresAt = nil
		appt.RejectedAt = &now
		appt.Reason = &reason
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("reject appointment: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:  appt.ID,
			PreviousStatus: &prev,
			NewStatus:      appt.Status,
			ActorID:        &actorID,
			ActorRole:      actorRole,
			Reason:         &reason,
		})

		rejected = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, rejected.ID, rejected.ClientID,
		"Appointment rejected",
		"The provider declined the proposed visit: "+reason,
		"/appointments/"+rejected.ID.String())

	return rejected, nil
}

// GetByID loads an appointment, enforcing participant/admin access.
func (s *Service) GetByID(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actorID, actorRole) {
		return nil, fault(CodeForbidden, "no access to this appointment")
	}
	return appt, nil
}

// GetHistory returns the ordered audit trail for an appointment.
func (s *Service) GetHistory(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actorID, actorRole) {
		return nil, fault(CodeForbidden, "no access to this appointment")
	}
	entries, err := s.repo.GetHistoryByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}

// ListMine returns the actor's appointments, optionally bounded by a range.
func (s *Service) ListMine(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, from, to *time.Time) ([]*Appointment, error) {
	switch actorRole {
	case RoleProvider:
		appts, err := s.repo.ListAppointmentsByProvider(ctx, actorID, from, to)
		if err != nil {
			return nil, fmt.Errorf("list provider appointments: %w", err)
		}
		return appts, nil
	case RoleClient:
		appts, err := s.repo.ListAppointmentsByClient(ctx, actorID, from, to)
		if err != nil {
			return nil, fmt.Errorf("list client appointments: %w", err)
		}
		return appts, nil
	default:
		return []*Appointment{}, nil
	}
}

// slotAvailable re-validates rule fit, exceptions and blocking overlaps for
// one window. excludeAppointment skips the appointment being moved so a
// reschedule does not collide with itself.
func (s *Service) slotAvailable(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time, excludeAppointment uuid.UUID) (bool, error) {
	rules, err := s.repo.GetAvailabilityRulesByProvider(ctx, providerID)
	if err != nil {
		return false, fmt.Errorf("load availability rules: %w", err)
	}
	if !windowInsideAnyRule(rules, windowStart, windowEnd, s.loc) {
		return false, nil
	}

	exceptions, err := s.repo.GetAvailabilityExceptionsByProvider(ctx, providerID, windowStart, windowEnd)
	if err != nil {
		return false, fmt.Errorf("load availability exceptions: %w", err)
	}
	for _, e := range exceptions {
		if e.Active && e.overlapsWindow(windowStart, windowEnd) {
			return false, nil
		}
	}

	conflicts, err := s.repo.GetProviderAppointmentsInRange(ctx, providerID, windowStart, windowEnd, BlockingStatuses)
	if err != nil {
		return false, fmt.Errorf("load conflicting appointments: %w", err)
	}
	for _, c := range conflicts {
		if c.ID == excludeAppointment {
			continue
		}
		if c.Overlaps(windowStart, windowEnd) {
			return false, nil
		}
	}

	return true, nil
}

func validateWindow(start, end time.Time) error {
	if !end.After(start) {
		return fault(CodeInvalidWindow, "the window end must be after its start")
	}
	minutes := end.Sub(start).Minutes()
	if minutes < MinWindowMinutes || minutes > MaxWindowMinutes {
		return fault(CodeInvalidWindow, fmt.Sprintf("the window must be between %d and %d minutes", MinWindowMinutes, MaxWindowMinutes))
	}
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy != ey || sm != em || sd != ed {
		// The window may end exactly at midnight of the next day.
		if !(ed == sd+1 && end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0) {
			return fault(CodeInvalidWindow, "the window must stay within one calendar day")
		}
	}
	return nil
}

func (s *Service) loadActiveProvider(ctx context.Context, providerID uuid.UUID) (*User, error) {
	provider, err := s.repo.GetUserByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fault(CodeProviderNotFound, "provider not found")
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if provider.Role != RoleProvider || !provider.Active {
		return nil, fault(CodeProviderNotFound, "provider not found")
	}
	return provider, nil
}

func (s *Service) loadServiceRequest(ctx context.Context, requestID uuid.UUID) (*ServiceRequest, error) {
	request, err := s.repo.GetServiceRequestByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrServiceRequestNotFound) {
			return nil, fault(CodeRequestNotFound, "service request not found")
		}
		return nil, fmt.Errorf("load service request: %w", err)
	}
	return request, nil
}

func (s *Service) loadAppointment(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fault(CodeAppointmentNotFound, "appointment not found")
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func canAccess(appt *Appointment, actorID uuid.UUID, actorRole ActorRole) bool {
	switch actorRole {
	case RoleAdmin:
		return true
	case RoleClient:
		return appt.ClientID == actorID
	case RoleProvider:
		return appt.ProviderID == actorID
	}
	return false
}

// appendHistory appends an audit entry best-effort. The audit trail may lag
// but must never contradict the aggregate, so a failed append is logged and
// the primary mutation stands.
func (s *Service) appendHistory(ctx context.Context, entry *HistoryEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}
	if err := s.repo.AddHistory(ctx, entry); err != nil {
		s.log.Error("history append failed",
			zap.String("appointment_id", entry.AppointmentID.String()),
			zap.String("new_status", string(entry.NewStatus)),
			zap.Error(err))
	}
}

// notifyBestEffort sends a notification without letting a delivery failure
// poison the state transition that triggered it.
func (s *Service) notifyBestEffort(ctx context.Context, appointmentID, recipientID uuid.UUID, subject, body, actionURL string) {
	if err := s.ext.Notifier.Send(ctx, recipientID, subject, body, actionURL); err != nil {
		s.recordSideEffectFailure(ctx, appointmentID, "notification", err)
	}
}

// recordSideEffectFailure keeps collaborator failures visible: a structured
// log line plus a history entry with metadata, so tests and operators can
// assert on them.
func (s *Service) recordSideEffectFailure(ctx context.Context, appointmentID uuid.UUID, kind string, cause error) {
	s.log.Warn("best-effort side effect failed",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("kind", kind),
		zap.Error(cause))

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return
	}

	op := appt.OperationalStatus
	s.appendHistory(ctx, &HistoryEntry{
		AppointmentID:             appointmentID,
		PreviousStatus:            &appt.Status,
		NewStatus:                 appt.Status,
		PreviousOperationalStatus: op,
		NewOperationalStatus:      op,
		ActorRole:                 RoleSystem,
		Metadata: map[string]string{
			"side_effect": kind,
			"error":       cause.Error(),
		},
	})
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func strPtr(v string) *string {
	return &v
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode history metadata: %w", err)
	}
	return string(raw), nil
}
