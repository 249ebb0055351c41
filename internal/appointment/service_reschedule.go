package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RescheduleParams struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Reason      string
}

// RequestReschedule opens a reschedule negotiation. The current window stays
// reserved until the counterparty responds, and the pre-negotiation status is
// stored so a rejection can restore it exactly.
func (s *Service) RequestReschedule(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, params RescheduleParams) (*Appointment, error) {
	if actorRole != RoleClient && actorRole != RoleProvider {
		return nil, fault(CodeForbidden, "only a participant may request a reschedule")
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		return nil, fault(CodeInvalidReason, "a reschedule reason is required")
	}

	windowStart := params.WindowStart.UTC()
	windowEnd := params.WindowEnd.UTC()
	if err := validateWindow(windowStart, windowEnd); err != nil {
		return nil, err
	}

	now := s.now()
	if !windowStart.After(now) {
		return nil, fault(CodeInvalidWindow, "the proposed window must be in the future")
	}
	if windowStart.After(now.Add(s.cfg.RescheduleMaxAdvance)) {
		return nil, fault(CodePolicyViolation, "the proposed window is too far in the future")
	}

	event := EventRequestRescheduleByClient
	if actorRole == RoleProvider {
		event = EventRequestRescheduleByProvider
	}

	var updated *Appointment
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
			return fault(CodeInvalidState, "the appointment cannot be rescheduled in its current state")
		}
		if appt.WindowStart.Sub(now) < s.cfg.RescheduleMinNotice {
			return fault(CodePolicyViolation, fmt.Sprintf("reschedules require at least %s of notice", s.cfg.RescheduleMinNotice))
		}

		available, err := s.slotAvailable(ctx, appt.ProviderID, windowStart, windowEnd, appt.ID)
		if err != nil {
			return err
		}
		if !available {
			return fault(CodeSlotUnavailable, "the proposed window is not available for the provider")
		}

		prev := appt.Status
		appt.PreNegotiationStatus = &prev
		appt.Status = next
		appt.ProposedWindowStart = &windowStart
		appt.ProposedWindowEnd = &windowEnd
		appt.RescheduleRequestedAt = &now
		appt.RescheduleRequestedBy = &actorRole
		appt.RescheduleReason = &reason
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("store reschedule request: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:  appt.ID,
			PreviousStatus: &prev,
			NewStatus:      appt.Status,
			ActorID:        &actorID,
			ActorRole:      actorRole,
			Reason:         &reason,
			Metadata: map[string]string{
				"proposed_window_start": windowStart.Format(time.RFC3339),
				"proposed_window_end":   windowEnd.Format(time.RFC3339),
			},
		})

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	recipient := updated.ProviderID
	if actorRole == RoleProvider {
		recipient = updated.ClientID
	}
	s.notifyBestEffort(ctx, updated.ID, recipient,
		"Reschedule requested",
		fmt.Sprintf("A new window was proposed: %s. Reason: %s", windowStart.Format(time.RFC3339), reason),
		"/appointments/"+updated.ID.String())

	return updated, nil
}

// RespondReschedule resolves a pending negotiation. Acceptance re-validates
// the proposed window under the appointment lock; the slot may have been
// taken while the request sat unanswered. Rejection restores the stored
// pre-negotiation status and keeps the original window.
func (s *Service) RespondReschedule(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, accept bool, reason *string) (*Appointment, error) {
	if actorRole != RoleClient && actorRole != RoleProvider && actorRole != RoleAdmin {
		return nil, fault(CodeForbidden, "only a participant may respond to a reschedule")
	}

	var updated *Appointment
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !appt.Status.RescheduleRequested() {
			return fault(CodeInvalidState, "no reschedule request is pending")
		}
		if err := authorizeRescheduleResponse(appt, actorID, actorRole); err != nil {
			return err
		}

		now := s.now()
		prev := appt.Status

		if accept {
			if appt.ProposedWindowStart == nil || appt.ProposedWindowEnd == nil {
				return fault(CodeInvalidState, "the reschedule request carries no proposed window")
			}
			windowStart := *appt.ProposedWindowStart
			windowEnd := *appt.ProposedWindowEnd

			available, err := s.slotAvailable(ctx, appt.ProviderID, windowStart, windowEnd, appt.ID)
			if err != nil {
				return err
			}
			if !available {
				return fault(CodeSlotUnavailable, "the proposed window is no longer available")
			}

			next, ok := nextStatus(appt.Status, EventAcceptReschedule)
			if !ok {
				return fault(CodeInvalidState, "the reschedule cannot be accepted in this state")
			}

			appt.Status = next
			appt.WindowStart = windowStart
			appt.WindowEnd = windowEnd

			// The visit restarts against the new window, so any arrival or
			// in-service progress recorded for the old one no longer applies.
			op := OperationalOnTheWay
			appt.OperationalStatus = &op
			appt.OperationalStatusUpdatedAt = &now
			appt.OperationalStatusReason = nil
		} else {
			// Revert to the stored pre-negotiation status. Confirmed is the
			// conservative default for records predating the field.
			restored := StatusConfirmed
			if appt.PreNegotiationStatus != nil {
				restored = *appt.PreNegotiationStatus
			}
			appt.Status = restored
		}

		clearNegotiation(appt)
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("store reschedule response: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:  appt.ID,
			PreviousStatus: &prev,
			NewStatus:      appt.Status,
			ActorID:        &actorID,
			ActorRole:      actorRole,
			Reason:         trimmedOrNil(reason),
			Metadata: map[string]string{
				"reschedule_accepted": fmt.Sprintf("%t", accept),
			},
		})

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if accept {
		if err := s.ext.Reminders.CancelPending(ctx, updated.ID, "window changed"); err != nil {
			s.recordSideEffectFailure(ctx, updated.ID, "reminder_cancel", err)
		}
		if err := s.ext.Reminders.ScheduleForAppointment(ctx, updated.ID, "appointment rescheduled"); err != nil {
			s.recordSideEffectFailure(ctx, updated.ID, "reminder_schedule", err)
		}
	}

	subject := "Reschedule declined"
	body := "The proposed window was declined; the original appointment stands."
	if accept {
		subject = "Reschedule confirmed"
		body = fmt.Sprintf("The appointment was moved to %s.", updated.WindowStart.Format(time.RFC3339))
	}
	recipient := updated.ClientID
	if actorRole == RoleClient {
		recipient = updated.ProviderID
	}
	s.notifyBestEffort(ctx, updated.ID, recipient, subject, body, "/appointments/"+updated.ID.String())

	return updated, nil
}

// authorizeRescheduleResponse lets only the counterparty (or an admin)
// answer: a party cannot accept its own proposal.
func authorizeRescheduleResponse(appt *Appointment, actorID uuid.UUID, actorRole ActorRole) error {
	if actorRole == RoleAdmin {
		return nil
	}
	requestedBy := RoleClient
	if appt.Status == StatusRescheduleRequestedByProvider {
		requestedBy = RoleProvider
	}
	if actorRole == requestedBy {
		return fault(CodeForbidden, "the requesting party cannot respond to its own reschedule")
	}
	if actorRole == RoleClient && appt.ClientID != actorID {
		return fault(CodeForbidden, "no access to this appointment")
	}
	if actorRole == RoleProvider && appt.ProviderID != actorID {
		return fault(CodeForbidden, "no access to this appointment")
	}
	return nil
}

func clearNegotiation(appt *Appointment) {
	appt.ProposedWindowStart = nil
	appt.ProposedWindowEnd = nil
	appt.RescheduleRequestedAt = nil
	appt.RescheduleRequestedBy = nil
	appt.RescheduleReason = nil
	appt.PreNegotiationStatus = nil
}
