package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cancel tears down a live appointment. The minimum-notice policy applies to
// both parties; financial consequences are computed by the policy
// collaborator and recorded best-effort.
func (s *Service) Cancel(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, reason string) (*Appointment, error) {
	if actorRole != RoleClient && actorRole != RoleProvider {
		return nil, fault(CodeForbidden, "only a participant may cancel an appointment")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fault(CodeInvalidReason, "a cancellation reason is required")
	}

	event := EventCancelByClient
	financialEvent := FinancialEventClientCancellation
	if actorRole == RoleProvider {
		event = EventCancelByProvider
		financialEvent = FinancialEventProviderCancellation
	}

	var cancelled *Appointment
	var requestValueCents int64
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if (actorRole == RoleClient && appt.ClientID != actorID) ||
			(actorRole == RoleProvider && appt.ProviderID != actorID) {
			return fault(CodeForbidden, "no access to this appointment")
		}

		next, ok := nextStatus(appt.Status, event)
		if !ok {
			return fault(CodeInvalidState, "the appointment cannot be cancelled in its current state")
		}

		now := s.now()
		if appt.WindowStart.Sub(now) < s.cfg.CancelMinNotice {
			return fault(CodePolicyViolation, fmt.Sprintf("cancellations require at least %s of notice", s.cfg.CancelMinNotice))
		}

		prev := appt.Status
		appt.Status = next
		appt.CancelledAt = &now
		appt.Reason = &reason
		clearNegotiation(appt)
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:  appt.ID,
			PreviousStatus: &prev,
			NewStatus:      appt.Status,
			ActorID:        &actorID,
			ActorRole:      actorRole,
			Reason:         &reason,
		})

		if request, err := s.loadServiceRequest(ctx, appt.ServiceRequestID); err == nil {
			requestValueCents = request.CurrentValueCents
			s.reopenRequestIfIdle(ctx, request, appt.ID)
		}

		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.applyFinancialPolicy(ctx, cancelled, financialEvent, requestValueCents, reason)

	if err := s.ext.Reminders.CancelPending(ctx, cancelled.ID, "appointment cancelled"); err != nil {
		s.recordSideEffectFailure(ctx, cancelled.ID, "reminder_cancel", err)
	}

	recipient := cancelled.ProviderID
	if actorRole == RoleProvider {
		recipient = cancelled.ClientID
	}
	s.notifyBestEffort(ctx, cancelled.ID, recipient,
		"Appointment cancelled",
		"The appointment was cancelled: "+reason,
		"/appointments/"+cancelled.ID.String())

	return cancelled, nil
}

// reopenRequestIfIdle moves a Scheduled request back to Open when no other
// calendar-blocking appointment remains on it.
func (s *Service) reopenRequestIfIdle(ctx context.Context, request *ServiceRequest, excludeAppointment uuid.UUID) {
	if request.Status != RequestScheduled {
		return
	}
	siblings, err := s.repo.GetAppointmentsByServiceRequest(ctx, request.ID)
	if err != nil {
		s.log.Error("load request appointments for reopen check",
			zap.String("service_request_id", request.ID.String()), zap.Error(err))
		return
	}
	for _, sibling := range siblings {
		if sibling.ID != excludeAppointment && sibling.Status.Blocking() {
			return
		}
	}
	request.Status = RequestOpen
	if err := s.repo.UpdateServiceRequest(ctx, request); err != nil {
		s.log.Error("reopen service request",
			zap.String("service_request_id", request.ID.String()), zap.Error(err))
	}
}

// applyFinancialPolicy runs the penalty/compensation calculation and applies
// the resulting ledger mutations, recording the outcome in history.
func (s *Service) applyFinancialPolicy(ctx context.Context, appt *Appointment, eventType FinancialPolicyEventType, serviceValueCents int64, reason string) {
	breakdown, err := s.ext.Financial.Calculate(ctx, eventType, serviceValueCents, appt.WindowStart, s.now())
	if err != nil {
		s.recordSideEffectFailure(ctx, appt.ID, "financial_calculate", err)
		return
	}
	if breakdown.PenaltyCents == 0 && breakdown.CompensationCents == 0 {
		return
	}

	reference := "appointment:" + appt.ID.String()
	if breakdown.PenaltyCents > 0 {
		if err := s.ext.Financial.ApplyMutation(ctx, appt.ProviderID, "penalty", breakdown.PenaltyCents, reason, reference); err != nil {
			s.recordSideEffectFailure(ctx, appt.ID, "financial_penalty", err)
		}
	}
	if breakdown.CompensationCents > 0 {
		if err := s.ext.Financial.ApplyMutation(ctx, appt.ProviderID, "compensation", breakdown.CompensationCents, reason, reference); err != nil {
			s.recordSideEffectFailure(ctx, appt.ID, "financial_compensation", err)
		}
	}

	op := appt.OperationalStatus
	s.appendHistory(ctx, &HistoryEntry{
		AppointmentID:             appt.ID,
		PreviousStatus:            &appt.Status,
		NewStatus:                 appt.Status,
		PreviousOperationalStatus: op,
		NewOperationalStatus:      op,
		ActorRole:                 RoleSystem,
		Metadata: map[string]string{
			"financial_event":    string(eventType),
			"penalty_cents":      fmt.Sprintf("%d", breakdown.PenaltyCents),
			"compensation_cents": fmt.Sprintf("%d", breakdown.CompensationCents),
		},
	})
}

// ExpirePendingAppointments sweeps appointments whose provider-confirmation
// SLA has elapsed. Each candidate is re-checked under its own lock; a
// concurrent confirm wins the race cleanly.
func (s *Service) ExpirePendingAppointments(ctx context.Context, limit int) (int, error) {
	now := s.now()
	candidates, err := s.repo.FindExpiredPendingAppointments(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for _, candidate := range candidates {
		id := candidate.ID
		err := s.locks.WithLock(ctx, []string{appointmentLockKey(id)}, func(ctx context.Context) error {
			appt, err := s.loadAppointment(ctx, id)
			if err != nil {
				return err
			}
			if appt.Status != StatusPendingProviderConfirmation {
				return nil
			}
			if appt.ExpiresAt == nil || appt.ExpiresAt.After(now) {
				return nil
			}

			next, ok := nextStatus(appt.Status, EventExpire)
			if !ok {
				return nil
			}

			prev := appt.Status
			appt.Status = next
			appt.ExpiresAt = nil
			appt.UpdatedAt = s.now()

			if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
				return fmt.Errorf("expire appointment: %w", err)
			}

			s.appendHistory(ctx, &HistoryEntry{
				AppointmentID:  appt.ID,
				PreviousStatus: &prev,
				NewStatus:      appt.Status,
				ActorRole:      RoleSystem,
				Reason:         strPtr("provider confirmation window elapsed"),
			})

			var requestValueCents int64
			if request, err := s.loadServiceRequest(ctx, appt.ServiceRequestID); err == nil {
				requestValueCents = request.CurrentValueCents
				s.reopenRequestIfIdle(ctx, request, appt.ID)
			}
			s.applyFinancialPolicy(ctx, appt, FinancialEventProviderNoShow, requestValueCents,
				"provider confirmation window elapsed")

			expired++
			s.notifyBestEffort(ctx, appt.ID, appt.ClientID,
				"Appointment expired",
				"The provider did not confirm in time; please pick another window.",
				"/appointments/"+appt.ID.String())
			return nil
		})
		if err != nil {
			s.log.Error("expire pending appointment",
				zap.String("appointment_id", id.String()), zap.Error(err))
		}
	}

	return expired, nil
}
