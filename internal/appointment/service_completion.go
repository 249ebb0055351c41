package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegenerateCompletionPin issues a fresh PIN for a term whose previous PIN
// expired or was never delivered. Attempts reset and prior contest or
// escalation state is cleared; reopening an escalated or contested term is
// admin-only, and an accepted term cannot be reopened.
func (s *Service) RegenerateCompletionPin(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID) (string, error) {
	if actorRole != RoleProvider && actorRole != RoleAdmin {
		return "", fault(CodeForbidden, "only the provider may regenerate the completion pin")
	}

	var pin string
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		term, appt, err := s.loadTermWithAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if actorRole == RoleProvider && appt.ProviderID != actorID {
			return fault(CodeForbidden, "the appointment belongs to another provider")
		}
		switch term.Status {
		case TermPendingClientAcceptance, TermExpired:
		case TermEscalatedToAdmin, TermContestedByClient:
			if actorRole != RoleAdmin {
				return fault(CodeForbidden, "an escalated or contested term can only be reopened by an admin")
			}
		default:
			return fault(CodeInvalidState, "the completion term is already resolved")
		}

		fresh, err := generatePin(s.cfg.CompletionPinLength)
		if err != nil {
			return err
		}

		now := s.now()
		hash := hashPin(appt.ID, fresh)
		expires := now.Add(s.cfg.CompletionPinExpiry)

		term.Status = TermPendingClientAcceptance
		term.PinHash = &hash
		term.PinExpiresAt = &expires
		term.PinFailedAttempts = 0
		term.EscalatedAt = nil
		term.ContestReason = nil
		term.ContestedAt = nil
		term.UpdatedAt = now

		if err := s.repo.UpdateCompletionTerm(ctx, term); err != nil {
			return fmt.Errorf("store regenerated pin: %w", err)
		}

		s.appendTermAudit(ctx, appt, &actorID, actorRole, term, "completion pin regenerated")
		pin = fresh
		return nil
	})
	if err != nil {
		return "", err
	}
	return pin, nil
}

// ConfirmCompletionByPin validates the client's PIN against the stored
// salted hash. Failed attempts accumulate; reaching the limit escalates the
// term to an admin and locks the PIN path.
func (s *Service) ConfirmCompletionByPin(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, pin string) (*CompletionTerm, error) {
	if actorRole != RoleClient {
		return nil, fault(CodeForbidden, "only the client may confirm completion")
	}
	pin = strings.TrimSpace(pin)
	if len(pin) != s.cfg.CompletionPinLength {
		return nil, fault(CodeInvalidPin, fmt.Sprintf("the pin must have %d digits", s.cfg.CompletionPinLength))
	}

	var accepted *CompletionTerm
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		term, appt, err := s.loadTermWithAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ClientID != actorID {
			return fault(CodeForbidden, "no access to this appointment")
		}
		if term.Status == TermEscalatedToAdmin {
			return fault(CodePinLocked, "too many failed attempts; an admin will review the completion")
		}
		if term.Status != TermPendingClientAcceptance {
			return fault(CodeInvalidState, "the completion term is already resolved")
		}
		if term.PinHash == nil {
			return fault(CodeInvalidState, "no pin was issued for this completion")
		}

		now := s.now()
		if term.PinExpiresAt != nil && now.After(*term.PinExpiresAt) {
			term.Status = TermExpired
			term.UpdatedAt = now
			if err := s.repo.UpdateCompletionTerm(ctx, term); err != nil {
				return fmt.Errorf("expire completion pin: %w", err)
			}
			return fault(CodePinExpired, "the pin expired; ask the provider for a new one")
		}

		if !pinMatches(appt.ID, pin, *term.PinHash) {
			term.PinFailedAttempts++
			term.UpdatedAt = now
			if term.PinFailedAttempts >= s.cfg.CompletionPinMaxAttempts {
				term.Status = TermEscalatedToAdmin
				term.EscalatedAt = &now
				if err := s.repo.UpdateCompletionTerm(ctx, term); err != nil {
					return fmt.Errorf("escalate completion term: %w", err)
				}
				s.appendTermAudit(ctx, appt, &actorID, actorRole, term, "pin attempt limit reached")
				s.notifyAdmins(ctx, appt,
					"Completion acceptance escalated",
					fmt.Sprintf("Appointment %s hit the pin attempt limit and needs manual review.", appt.ID))
				return fault(CodePinLocked, "too many failed attempts; an admin will review the completion")
			}
			if err := s.repo.UpdateCompletionTerm(ctx, term); err != nil {
				return fmt.Errorf("record failed pin attempt: %w", err)
			}
			remaining := s.cfg.CompletionPinMaxAttempts - term.PinFailedAttempts
			return fault(CodeInvalidPin, fmt.Sprintf("incorrect pin; %d attempts remaining", remaining))
		}

		method := AcceptanceMethodPin
		term.Status = TermAcceptedByClient
		term.AcceptedWithMethod = &method
		term.AcceptedAt = &now
		term.UpdatedAt = now

		if err := s.repo.UpdateCompletionTerm(ctx, term); err != nil {
			return fmt.Errorf("accept completion term: %w", err)
		}

		s.markRequestValidated(ctx, appt.ServiceRequestID)
		s.appendTermAudit(ctx, appt, &actorID, actorRole, term, "completion accepted by pin")

		accepted = term
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, accepted.AppointmentID, accepted.ProviderID,
		"Completion confirmed",
		"The client confirmed the completed service.",
		"/appointments/"+accepted.AppointmentID.String())

	return accepted, nil
}

// ConfirmCompletionBySignature is the fallback acceptance path: the client
// types their full name instead of a PIN. It also unblocks terms whose PIN
// expired or was locked by failed attempts.
func (s *Service) ConfirmCompletionBySignature(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, signatureName string) (*CompletionTerm, error) {
	if actorRole != RoleClient {
		return nil, fault(CodeForbidden, "only the client may confirm completion")
	}
	signatureName = strings.TrimSpace(signatureName)
	if utf8.RuneCountInString(signatureName) < minSignatureNameLen {
		return nil, fault(CodeInvalidSignature, "the signature name is too short")
	}

	var accepted *CompletionTerm
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		term, appt, err := s.loadTermWithAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ClientID != actorID {
			return fault(CodeForbidden, "no access to this appointment")
		}
		switch term.Status {
		case TermPendingClientAcceptance, TermExpired, TermEscalatedToAdmin:
		default:
			return fault(CodeInvalidState, "the completion term is already resolved")
		}

		now := s.now()
		method := AcceptanceMethodSignature
		term.Status = TermAcceptedByClient
		term.AcceptedWithMethod = &method
		term.AcceptedSignatureName = &signatureName
		term.AcceptedAt = &now
		term.UpdatedAt = now

		if err := s.repo.UpdateCompletionTerm(ctx, term); err != nil {
			return fmt.Errorf("accept completion term: %w", err)
		}

		s.markRequestValidated(ctx, appt.ServiceRequestID)
		s.appendTermAudit(ctx, appt, &actorID, actorRole, term, "completion accepted by signature")

		accepted = term
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, accepted.AppointmentID, accepted.ProviderID,
		"Completion confirmed",
		"The client confirmed the completed service by signature.",
		"/appointments/"+accepted.AppointmentID.String())

	return accepted, nil
}

// ContestCompletion records the client's dispute of the delivered work and
// fans it out to every active admin for arbitration.
func (s *Service) ContestCompletion(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, reason string) (*CompletionTerm, error) {
	if actorRole != RoleClient {
		return nil, fault(CodeForbidden, "only the client may contest a completion")
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < minContestReasonLen {
		return nil, fault(CodeInvalidReason, "the contest reason is too short")
	}

	var contested *CompletionTerm
	var appt *Appointment
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		term, a, err := s.loadTermWithAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.ClientID != actorID {
			return fault(CodeForbidden, "no access to this appointment")
		}
		switch term.Status {
		case TermPendingClientAcceptance, TermExpired, TermEscalatedToAdmin:
		default:
			return fault(CodeInvalidState, "the completion term is already resolved")
		}

		now := s.now()
		term.Status = TermContestedByClient
		term.ContestReason = &reason
		term.ContestedAt = &now
		term.UpdatedAt = now

		if err := s.repo.UpdateCompletionTerm(ctx, term); err != nil {
			return fmt.Errorf("contest completion term: %w", err)
		}

		s.appendTermAudit(ctx, a, &actorID, actorRole, term, "completion contested")

		contested = term
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, appt.ID, appt.ProviderID,
		"Completion contested",
		"The client contested the completed service: "+reason,
		"/appointments/"+appt.ID.String())
	s.notifyAdmins(ctx, appt,
		"Completion contested",
		fmt.Sprintf("Appointment %s was contested by the client: %s", appt.ID, reason))

	return contested, nil
}

// GetCompletionTerm loads the acceptance record for an appointment.
func (s *Service) GetCompletionTerm(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID) (*CompletionTerm, error) {
	term, appt, err := s.loadTermWithAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actorID, actorRole) {
		return nil, fault(CodeForbidden, "no access to this appointment")
	}
	return term, nil
}

func (s *Service) loadTermWithAppointment(ctx context.Context, appointmentID uuid.UUID) (*CompletionTerm, *Appointment, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	term, err := s.repo.GetCompletionTermByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrCompletionTermNotFound) {
			return nil, nil, fault(CodeTermNotFound, "no completion term exists for this appointment")
		}
		return nil, nil, fmt.Errorf("load completion term: %w", err)
	}
	return term, appt, nil
}

func (s *Service) markRequestValidated(ctx context.Context, requestID uuid.UUID) {
	request, err := s.loadServiceRequest(ctx, requestID)
	if err != nil {
		return
	}
	if request.Status == RequestValidated {
		return
	}
	request.Status = RequestValidated
	if err := s.repo.UpdateServiceRequest(ctx, request); err != nil {
		s.log.Error("mark request validated",
			zap.String("service_request_id", request.ID.String()), zap.Error(err))
	}
}

func (s *Service) notifyAdmins(ctx context.Context, appt *Appointment, subject, body string) {
	adminIDs, err := s.repo.ListActiveAdminIDs(ctx)
	if err != nil {
		s.recordSideEffectFailure(ctx, appt.ID, "admin_fanout", err)
		return
	}
	for _, adminID := range adminIDs {
		s.notifyBestEffort(ctx, appt.ID, adminID, subject, body, "/admin/appointments/"+appt.ID.String())
	}
}

// appendTermAudit records a completion-term event against the appointment's
// audit trail without changing lifecycle state.
func (s *Service) appendTermAudit(ctx context.Context, appt *Appointment, actorID *uuid.UUID, actorRole ActorRole, term *CompletionTerm, reason string) {
	op := appt.OperationalStatus
	s.appendHistory(ctx, &HistoryEntry{
		AppointmentID:             appt.ID,
		PreviousStatus:            &appt.Status,
		NewStatus:                 appt.Status,
		PreviousOperationalStatus: op,
		NewOperationalStatus:      op,
		ActorID:                   actorID,
		ActorRole:                 actorRole,
		Reason:                    &reason,
		Metadata: map[string]string{
			"completion_term_id": term.ID.String(),
			"term_status":        string(term.Status),
		},
	})
}
