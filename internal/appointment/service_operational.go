package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ArrivalParams struct {
	Latitude       *float64
	Longitude      *float64
	AccuracyMeters *float64
	ManualReason   *string
}

// MarkArrived records the provider's on-site arrival: the primary status
// moves to Arrived and the operational sub-state to OnSite. Arrival is
// recorded with geolocation when the device provides it, otherwise with a
// manual justification.
func (s *Service) MarkArrived(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, params ArrivalParams) (*Appointment, error) {
	if actorRole != RoleProvider {
		return nil, fault(CodeForbidden, "only the provider may report arrival")
	}
	if params.Latitude == nil && params.ManualReason == nil {
		return nil, fault(CodeInvalidReason, "arrival needs either coordinates or a manual justification")
	}

	var updated *Appointment
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ProviderID != actorID {
			return fault(CodeForbidden, "the appointment belongs to another provider")
		}

		next, ok := nextStatus(appt.Status, EventMarkArrived)
		if !ok {
			return fault(CodeInvalidState, "arrival can only be reported on a confirmed appointment")
		}

		now := s.now()
		prev := appt.Status
		prevOp := appt.OperationalStatus
		op := OperationalOnSite

		appt.Status = next
		appt.ArrivedAt = &now
		appt.ArrivedLatitude = params.Latitude
		appt.ArrivedLongitude = params.Longitude
		appt.ArrivedAccuracyMeters = params.AccuracyMeters
		appt.ArrivedManualReason = trimmedOrNil(params.ManualReason)
		appt.OperationalStatus = &op
		appt.OperationalStatusUpdatedAt = &now
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("mark arrived: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:             appt.ID,
			PreviousStatus:            &prev,
			NewStatus:                 appt.Status,
			PreviousOperationalStatus: prevOp,
			NewOperationalStatus:      &op,
			ActorID:                   &actorID,
			ActorRole:                 actorRole,
			Reason:                    appt.ArrivedManualReason,
		})

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, updated.ID, updated.ClientID,
		"Provider arrived",
		"The provider reported arrival at the service address. Please confirm their presence.",
		"/appointments/"+updated.ID.String()+"/presence")

	return updated, nil
}

// StartExecution moves an arrived appointment into service.
func (s *Service) StartExecution(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID) (*Appointment, error) {
	if actorRole != RoleProvider {
		return nil, fault(CodeForbidden, "only the provider may start the service")
	}

	var updated *Appointment
	err := s.locks.WithLock(ctx, []string{appointmentLockKey(appointmentID)}, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ProviderID != actorID {
			return fault(CodeForbidden, "the appointment belongs to another provider")
		}

		next, ok := nextStatus(appt.Status, EventStartExecution)
		if !ok {
			return fault(CodeInvalidState, "the service can only start after arrival")
		}

		now := s.now()
		prev := appt.Status
		prevOp := appt.OperationalStatus
		op := OperationalInService

		appt.Status = next
		appt.StartedAt = &now
		appt.OperationalStatus = &op
		appt.OperationalStatusUpdatedAt = &now
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("start execution: %w", err)
		}

		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:             appt.ID,
			PreviousStatus:            &prev,
			NewStatus:                 appt.Status,
			PreviousOperationalStatus: prevOp,
			NewOperationalStatus:      &op,
			ActorID:                   &actorID,
			ActorRole:                 actorRole,
		})

		if request, err := s.loadServiceRequest(ctx, appt.ServiceRequestID); err == nil {
			if request.Status == RequestScheduled {
				request.Status = RequestInProgress
				if err := s.repo.UpdateServiceRequest(ctx, request); err != nil {
					return fmt.Errorf("mark request in progress: %w", err)
				}
			}
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// OperationalUpdateResult carries the completion PIN when the transition to
// operational Completed generated one. The plaintext is returned exactly
// once and never stored.
type OperationalUpdateResult struct {
	Appointment   *Appointment
	CompletionPin string
}

// UpdateOperationalStatus advances the parallel sub-state machine and
// applies its sync points onto the primary lifecycle: OnSite marks arrival,
// InService starts execution, Completed completes the appointment and
// issues the acceptance term. Completion is gated on checklist items and on
// the absence of a pending amendment.
func (s *Service) UpdateOperationalStatus(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, target OperationalStatus, reason *string) (*OperationalUpdateResult, error) {
	if actorRole != RoleProvider {
		return nil, fault(CodeForbidden, "only the provider may update the operational status")
	}
	if target == OperationalWaitingParts && trimmedOrNil(reason) == nil {
		return nil, fault(CodeInvalidReason, "waiting for parts requires a reason")
	}

	// Completion touches the service request's state, so its lock joins the
	// appointment lock. The unlocked read only discovers the request id; the
	// aggregate is re-read under the locks.
	keys := []string{appointmentLockKey(appointmentID)}
	if target == OperationalCompleted {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, requestLockKey(appt.ServiceRequestID))
	}

	result := &OperationalUpdateResult{}
	err := s.locks.WithLock(ctx, keys, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ProviderID != actorID {
			return fault(CodeForbidden, "the appointment belongs to another provider")
		}
		if !inActiveExecution(appt.Status) {
			return fault(CodeInvalidState, "the appointment is not in execution")
		}

		current := OperationalOnTheWay
		if appt.OperationalStatus != nil {
			current = *appt.OperationalStatus
		}
		if !operationalTransitionAllowed(current, target) {
			return fault(CodeInvalidState, fmt.Sprintf("cannot move from %s to %s", current, target))
		}

		now := s.now()
		prev := appt.Status
		prevOp := appt.OperationalStatus

		// Sync points onto the primary lifecycle.
		switch target {
		case OperationalOnSite:
			if next, ok := nextStatus(appt.Status, EventMarkArrived); ok {
				appt.Status = next
				appt.ArrivedAt = &now
			}
		case OperationalInService:
			if next, ok := nextStatus(appt.Status, EventStartExecution); ok {
				appt.Status = next
				appt.StartedAt = &now
			}
		case OperationalCompleted:
			pin, err := s.completeUnderLock(ctx, appt, actorID, now)
			if err != nil {
				return err
			}
			result.CompletionPin = pin
		}

		appt.OperationalStatus = &target
		appt.OperationalStatusUpdatedAt = &now
		appt.OperationalStatusReason = trimmedOrNil(reason)
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("update operational status: %w", err)
		}

		entry := &HistoryEntry{
			AppointmentID:             appt.ID,
			PreviousStatus:            &prev,
			NewStatus:                 appt.Status,
			PreviousOperationalStatus: prevOp,
			NewOperationalStatus:      &target,
			ActorID:                   &actorID,
			ActorRole:                 actorRole,
			Reason:                    trimmedOrNil(reason),
		}
		s.appendHistory(ctx, entry)

		result.Appointment = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if target == OperationalCompleted {
		s.notifyBestEffort(ctx, result.Appointment.ID, result.Appointment.ClientID,
			"Service completed, confirmation needed",
			"The provider marked the service as completed. Use the PIN shared on site, or your app, to confirm.",
			"/appointments/"+result.Appointment.ID.String()+"/completion")
	}

	return result, nil
}

// completeUnderLock applies the completion gates and issues the acceptance
// term. Caller holds the appointment and service-request locks and persists
// the appointment.
func (s *Service) completeUnderLock(ctx context.Context, appt *Appointment, actorID uuid.UUID, now time.Time) (string, error) {
	validation, err := s.ext.Checklist.ValidateRequiredItemsForCompletion(ctx, appt.ID)
	if err != nil {
		return "", fmt.Errorf("validate completion checklist: %w", err)
	}
	if !validation.CanComplete {
		return "", fault(CodePolicyViolation, "required checklist items are pending: "+strings.Join(validation.PendingItemNames, ", "))
	}

	pending, err := s.repo.GetPendingScopeChangeByAppointment(ctx, appt.ID)
	if err != nil && !errors.Is(err, ErrScopeChangeNotFound) {
		return "", fmt.Errorf("check pending scope change: %w", err)
	}
	if pending != nil {
		if !pending.TimedOut(now, s.cfg.ScopeChangeResponseTimeout) {
			return "", fault(CodeScopeChangePending, "a scope change is awaiting the client's response")
		}
		// Lazily expire a timed-out amendment instead of blocking completion
		// until the sweep catches it.
		if err := s.expireScopeChange(ctx, pending, now); err != nil {
			return "", err
		}
	}

	next, ok := nextStatus(appt.Status, EventComplete)
	if !ok {
		return "", fault(CodeInvalidState, "the service must be in progress to complete")
	}
	appt.Status = next
	appt.CompletedAt = &now

	request, err := s.loadServiceRequest(ctx, appt.ServiceRequestID)
	if err != nil {
		return "", err
	}
	if !request.Status.Closed() {
		request.Status = RequestCompleted
		if err := s.repo.UpdateServiceRequest(ctx, request); err != nil {
			return "", fmt.Errorf("mark request completed: %w", err)
		}
	}

	pin, err := generatePin(s.cfg.CompletionPinLength)
	if err != nil {
		return "", err
	}
	pinHash := hashPin(appt.ID, pin)
	pinExpires := now.Add(s.cfg.CompletionPinExpiry)

	term := &CompletionTerm{
		ID:               uuid.New(),
		ServiceRequestID: appt.ServiceRequestID,
		AppointmentID:    appt.ID,
		ProviderID:       appt.ProviderID,
		ClientID:         appt.ClientID,
		Status:           TermPendingClientAcceptance,
		Summary:          fmt.Sprintf("Service completed on %s", now.Format(time.RFC3339)),
		PinHash:          &pinHash,
		PinExpiresAt:     &pinExpires,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	term.Payload = completionPayload(term, request.CurrentValueCents, now)
	term.PayloadHash = hashPayload(term.Payload)

	if err := s.repo.AddCompletionTerm(ctx, term); err != nil {
		return "", fmt.Errorf("insert completion term: %w", err)
	}

	s.appendHistory(ctx, &HistoryEntry{
		AppointmentID: appt.ID,
		NewStatus:     appt.Status,
		ActorID:       &actorID,
		ActorRole:     RoleProvider,
		Metadata: map[string]string{
			"completion_term_id": term.ID.String(),
			"payload_hash":       term.PayloadHash,
		},
	})

	return pin, nil
}

// completionPayload is the canonical serialized snapshot covered by the
// payload hash. Field order is fixed; changing it invalidates stored hashes.
func completionPayload(term *CompletionTerm, valueCents int64, completedAt time.Time) string {
	return fmt.Sprintf("term=%s;request=%s;appointment=%s;provider=%s;client=%s;value_cents=%d;completed_at=%s",
		term.ID, term.ServiceRequestID, term.AppointmentID, term.ProviderID, term.ClientID,
		valueCents, completedAt.UTC().Format(time.RFC3339))
}

// RespondPresence records a party's answer to the presence prompt sent at
// arrival and forwards it to the no-show telemetry sink.
func (s *Service) RespondPresence(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, confirmed bool, reason string) (*Appointment, error) {
	if actorRole != RoleClient && actorRole != RoleProvider {
		return nil, fault(CodeForbidden, "only a participant may confirm presence")
	}
	reason = strings.TrimSpace(reason)
	if !confirmed && reason == "" {
		return nil, fault(CodeInvalidReason, "denying presence requires a reason")
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
		if appt.Status.Terminal() {
			return fault(CodeInvalidState, "the appointment is already closed")
		}

		now := s.now()
		reasonPtr := trimmedOrNil(&reason)
		if actorRole == RoleClient {
			appt.ClientPresenceConfirmed = &confirmed
			appt.ClientPresenceRespondedAt = &now
			appt.ClientPresenceReason = reasonPtr
		} else {
			appt.ProviderPresenceConfirmed = &confirmed
			appt.ProviderPresenceRespondedAt = &now
			appt.ProviderPresenceReason = reasonPtr
		}
		appt.UpdatedAt = now

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("store presence response: %w", err)
		}

		op := appt.OperationalStatus
		s.appendHistory(ctx, &HistoryEntry{
			AppointmentID:             appt.ID,
			PreviousStatus:            &appt.Status,
			NewStatus:                 appt.Status,
			PreviousOperationalStatus: op,
			NewOperationalStatus:      op,
			ActorID:                   &actorID,
			ActorRole:                 actorRole,
			Reason:                    reasonPtr,
			Metadata: map[string]string{
				"presence_confirmed": fmt.Sprintf("%t", confirmed),
			},
		})

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ext.Telemetry.RecordPresenceResponse(ctx, updated.ID, actorRole, confirmed, reason); err != nil {
		s.recordSideEffectFailure(ctx, updated.ID, "presence_telemetry", err)
	}

	return updated, nil
}
