package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ScopeChangeParams struct {
	Reason                     string
	AdditionalScopeDescription string
	IncrementalValueCents      int64
}

type ScopeChangeAttachmentParams struct {
	FileURL     string
	FileName    string
	ContentType string
	SizeBytes   int64
}

// CreateScopeChange opens an amendment on a live appointment. The
// incremental value is capped by the provider's plan tier, and at most one
// amendment may be pending per appointment at a time.
func (s *Service) CreateScopeChange(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID, params ScopeChangeParams) (*ScopeChangeRequest, error) {
	if actorRole != RoleProvider {
		return nil, fault(CodeForbidden, "only the provider may request a scope change")
	}
	reason := strings.TrimSpace(params.Reason)
	description := strings.TrimSpace(params.AdditionalScopeDescription)
	if reason == "" {
		return nil, fault(CodeInvalidReason, "a scope change reason is required")
	}
	if description == "" {
		return nil, fault(CodeInvalidReason, "the additional scope must be described")
	}
	if params.IncrementalValueCents <= 0 {
		return nil, fault(CodeInvalidValue, "the incremental value must be positive")
	}

	provider, err := s.loadActiveProvider(ctx, actorID)
	if err != nil {
		return nil, err
	}

	// The unlocked read only discovers the request id for the lock key; the
	// aggregate is re-read under the locks.
	preload, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	keys := []string{
		appointmentLockKey(appointmentID),
		requestLockKey(preload.ServiceRequestID),
	}

	var created *ScopeChangeRequest
	err = s.locks.WithLock(ctx, keys, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ProviderID != actorID {
			return fault(CodeForbidden, "the appointment belongs to another provider")
		}
		if !inActiveExecution(appt.Status) {
			return fault(CodeInvalidState, "scope changes require an appointment in execution")
		}

		now := s.now()
		pending, err := s.repo.GetPendingScopeChangeByAppointment(ctx, appt.ID)
		if err != nil && !errors.Is(err, ErrScopeChangeNotFound) {
			return fmt.Errorf("check pending scope change: %w", err)
		}
		if pending != nil {
			if !pending.TimedOut(now, s.cfg.ScopeChangeResponseTimeout) {
				return fault(CodeScopeChangePending, "a previous scope change is still awaiting a response")
			}
			if err := s.expireScopeChange(ctx, pending, now); err != nil {
				return err
			}
		}

		request, err := s.loadServiceRequest(ctx, appt.ServiceRequestID)
		if err != nil {
			return err
		}

		capCents := ScopeChangeCapCents(provider.Plan, request.AcceptedProposalValueCents())
		if params.IncrementalValueCents > capCents {
			return fault(CodePolicyViolation,
				fmt.Sprintf("the incremental value exceeds the %s plan cap of %d cents", provider.Plan, capCents))
		}

		history, err := s.repo.GetScopeChangesByAppointment(ctx, appt.ID)
		if err != nil {
			return fmt.Errorf("load scope change history: %w", err)
		}
		version := 1
		var previousID *uuid.UUID
		for _, sc := range history {
			if sc.Version >= version {
				version = sc.Version + 1
				id := sc.ID
				previousID = &id
			}
		}

		sc := &ScopeChangeRequest{
			ID:                         uuid.New(),
			ServiceRequestID:           appt.ServiceRequestID,
			AppointmentID:              appt.ID,
			ProviderID:                 actorID,
			Version:                    version,
			Status:                     ScopeChangePendingClientApproval,
			Reason:                     reason,
			AdditionalScopeDescription: description,
			IncrementalValueCents:      params.IncrementalValueCents,
			RequestedAt:                now,
			PreviousVersionID:          previousID,
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}

		if err := s.repo.AddScopeChange(ctx, sc); err != nil {
			return fmt.Errorf("insert scope change: %w", err)
		}

		s.appendScopeChangeAudit(ctx, appt, &actorID, actorRole, sc, "scope change requested")

		created = sc
		return nil
	})
	if err != nil {
		return nil, err
	}

	appt, err := s.loadAppointment(ctx, appointmentID)
	if err == nil {
		s.notifyBestEffort(ctx, appt.ID, appt.ClientID,
			"Scope change requested",
			fmt.Sprintf("The provider proposed additional work worth %d cents: %s", created.IncrementalValueCents, created.AdditionalScopeDescription),
			"/appointments/"+appt.ID.String()+"/scope-changes/"+created.ID.String())
	}

	return created, nil
}

// RespondScopeChange resolves a pending amendment. Approval folds the
// incremental value into the service request's commercial totals under both
// the appointment and request locks.
func (s *Service) RespondScopeChange(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, scopeChangeID uuid.UUID, approve bool, reason *string) (*ScopeChangeRequest, error) {
	if actorRole != RoleClient && actorRole != RoleAdmin {
		return nil, fault(CodeForbidden, "only the client may respond to a scope change")
	}

	sc, err := s.loadScopeChange(ctx, scopeChangeID)
	if err != nil {
		return nil, err
	}

	keys := []string{
		appointmentLockKey(sc.AppointmentID),
		requestLockKey(sc.ServiceRequestID),
	}

	var updated *ScopeChangeRequest
	err = s.locks.WithLock(ctx, keys, func(ctx context.Context) error {
		sc, err := s.loadScopeChange(ctx, scopeChangeID)
		if err != nil {
			return err
		}

		appt, err := s.loadAppointment(ctx, sc.AppointmentID)
		if err != nil {
			return err
		}
		if actorRole == RoleClient && appt.ClientID != actorID {
			return fault(CodeForbidden, "no access to this scope change")
		}

		if sc.Status != ScopeChangePendingClientApproval {
			return fault(CodeInvalidState, "the scope change has already been resolved")
		}

		now := s.now()
		if sc.TimedOut(now, s.cfg.ScopeChangeResponseTimeout) {
			if err := s.expireScopeChange(ctx, sc, now); err != nil {
				return err
			}
			return fault(CodeScopeChangeExpired, "the scope change expired without a response")
		}

		sc.ClientRespondedAt = &now
		sc.ClientResponseReason = trimmedOrNil(reason)
		sc.UpdatedAt = now

		if approve {
			sc.Status = ScopeChangeApprovedByClient
		} else {
			sc.Status = ScopeChangeRejectedByClient
		}

		if err := s.repo.UpdateScopeChange(ctx, sc); err != nil {
			return fmt.Errorf("store scope change response: %w", err)
		}

		var extra int64
		if approve {
			extra = sc.IncrementalValueCents
		}
		if err := s.resolveRequestTotals(ctx, sc.ServiceRequestID, extra); err != nil {
			return err
		}

		verb := "scope change rejected"
		if approve {
			verb = "scope change approved"
		}
		s.appendScopeChangeAudit(ctx, appt, &actorID, actorRole, sc, verb)

		updated = sc
		return nil
	})
	if err != nil {
		return nil, err
	}

	subject := "Scope change rejected"
	body := "The client declined the proposed additional work."
	if approve {
		subject = "Scope change approved"
		body = fmt.Sprintf("The client approved additional work worth %d cents.", updated.IncrementalValueCents)
	}
	s.notifyBestEffort(ctx, updated.AppointmentID, updated.ProviderID, subject, body,
		"/appointments/"+updated.AppointmentID.String()+"/scope-changes/"+updated.ID.String())

	return updated, nil
}

// AddScopeChangeAttachment attaches supporting evidence to a pending
// amendment.
func (s *Service) AddScopeChangeAttachment(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, scopeChangeID uuid.UUID, params ScopeChangeAttachmentParams) (*ScopeChangeAttachment, error) {
	if strings.TrimSpace(params.FileURL) == "" || strings.TrimSpace(params.FileName) == "" {
		return nil, fault(CodeInvalidAttachment, "attachment file url and name are required")
	}
	if params.SizeBytes <= 0 || params.SizeBytes > MaxScopeChangeAttachmentSize {
		return nil, fault(CodeInvalidAttachment, fmt.Sprintf("attachments are limited to %d bytes", int64(MaxScopeChangeAttachmentSize)))
	}

	sc, err := s.loadScopeChange(ctx, scopeChangeID)
	if err != nil {
		return nil, err
	}

	appt, err := s.loadAppointment(ctx, sc.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actorID, actorRole) {
		return nil, fault(CodeForbidden, "no access to this scope change")
	}
	if sc.Status != ScopeChangePendingClientApproval {
		return nil, fault(CodeInvalidState, "attachments can only be added while the scope change is pending")
	}
	if len(sc.Attachments) >= MaxScopeChangeAttachments {
		return nil, fault(CodeInvalidAttachment, fmt.Sprintf("at most %d attachments are allowed", MaxScopeChangeAttachments))
	}

	attachment := &ScopeChangeAttachment{
		ID:                   uuid.New(),
		ScopeChangeRequestID: sc.ID,
		UploadedByUserID:     actorID,
		FileURL:              strings.TrimSpace(params.FileURL),
		FileName:             strings.TrimSpace(params.FileName),
		ContentType:          params.ContentType,
		MediaKind:            mediaKindFor(params.ContentType),
		SizeBytes:            params.SizeBytes,
		CreatedAt:            s.now(),
	}

	if err := s.repo.AddScopeChangeAttachment(ctx, attachment); err != nil {
		return nil, fmt.Errorf("insert scope change attachment: %w", err)
	}
	return attachment, nil
}

// ListScopeChanges returns every amendment version for an appointment.
func (s *Service) ListScopeChanges(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, appointmentID uuid.UUID) ([]*ScopeChangeRequest, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actorID, actorRole) {
		return nil, fault(CodeForbidden, "no access to this appointment")
	}
	changes, err := s.repo.GetScopeChangesByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load scope changes: %w", err)
	}
	return changes, nil
}

// ListScopeChangesForRequest returns the amendment history across every
// appointment booked for the service request.
func (s *Service) ListScopeChangesForRequest(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, requestID uuid.UUID) ([]*ScopeChangeRequest, error) {
	request, err := s.loadServiceRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	allowed := actorRole == RoleAdmin ||
		(actorRole == RoleClient && request.ClientID == actorID) ||
		(actorRole == RoleProvider && request.AcceptedProposalFor(actorID))
	if !allowed {
		return nil, fault(CodeForbidden, "no access to this service request")
	}
	changes, err := s.repo.GetScopeChangesByServiceRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load scope changes: %w", err)
	}
	return changes, nil
}

// ExpirePendingScopeChanges sweeps amendments that sat unanswered past the
// response timeout.
func (s *Service) ExpirePendingScopeChanges(ctx context.Context, limit int) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.ScopeChangeResponseTimeout)
	candidates, err := s.repo.FindTimedOutPendingScopeChanges(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("find timed out scope changes: %w", err)
	}

	expired := 0
	for _, candidate := range candidates {
		id := candidate.ID
		keys := []string{
			appointmentLockKey(candidate.AppointmentID),
			requestLockKey(candidate.ServiceRequestID),
		}
		err := s.locks.WithLock(ctx, keys, func(ctx context.Context) error {
			sc, err := s.loadScopeChange(ctx, id)
			if err != nil {
				return err
			}
			if !sc.TimedOut(now, s.cfg.ScopeChangeResponseTimeout) {
				return nil
			}
			if err := s.expireScopeChange(ctx, sc, now); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			s.log.Error("expire scope change",
				zap.String("scope_change_id", id.String()), zap.Error(err))
		}
	}

	return expired, nil
}

// resolveRequestTotals folds an approved increment (zero for rejection and
// expiry) into the request and re-derives its totals through the commercial
// seam. Caller holds the service-request lock.
func (s *Service) resolveRequestTotals(ctx context.Context, requestID uuid.UUID, approvedExtraCents int64) error {
	request, err := s.loadServiceRequest(ctx, requestID)
	if err != nil {
		return err
	}
	request.ApprovedExtraCents += approvedExtraCents

	totals, err := s.ext.Commercial.Recalculate(ctx, request)
	if err != nil {
		return fmt.Errorf("recalculate commercial totals: %w", err)
	}
	request.ApprovedExtraCents = totals.ApprovedExtraCents
	request.CurrentValueCents = totals.CurrentValueCents

	if err := s.repo.UpdateServiceRequest(ctx, request); err != nil {
		return fmt.Errorf("store commercial totals: %w", err)
	}
	return nil
}

// expireScopeChange marks a pending amendment Expired. Caller holds the
// appointment and service-request locks.
func (s *Service) expireScopeChange(ctx context.Context, sc *ScopeChangeRequest, now time.Time) error {
	sc.Status = ScopeChangeExpired
	sc.UpdatedAt = now
	if err := s.repo.UpdateScopeChange(ctx, sc); err != nil {
		return fmt.Errorf("expire scope change: %w", err)
	}
	if err := s.resolveRequestTotals(ctx, sc.ServiceRequestID, 0); err != nil {
		return err
	}

	if appt, err := s.repo.GetAppointmentByID(ctx, sc.AppointmentID); err == nil {
		s.appendScopeChangeAudit(ctx, appt, nil, RoleSystem, sc, "scope change expired without client response")
	}

	s.notifyBestEffort(ctx, sc.AppointmentID, sc.ProviderID,
		"Scope change expired",
		"The client did not respond in time; the proposed additional work was discarded.",
		"/appointments/"+sc.AppointmentID.String()+"/scope-changes/"+sc.ID.String())

	return nil
}

// appendScopeChangeAudit writes the amendment audit entry. Status fields
// repeat the appointment's current state; the amendment details live in
// metadata under the scope_change_audit marker.
func (s *Service) appendScopeChangeAudit(ctx context.Context, appt *Appointment, actorID *uuid.UUID, actorRole ActorRole, sc *ScopeChangeRequest, reason string) {
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
			"scope_change_audit": "true",
			"scope_change_id":    sc.ID.String(),
			"version":            fmt.Sprintf("%d", sc.Version),
			"status":             string(sc.Status),
			"value_cents":        fmt.Sprintf("%d", sc.IncrementalValueCents),
		},
	})
}

func (s *Service) loadScopeChange(ctx context.Context, id uuid.UUID) (*ScopeChangeRequest, error) {
	sc, err := s.repo.GetScopeChangeByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrScopeChangeNotFound) {
			return nil, fault(CodeScopeChangeNotFound, "scope change not found")
		}
		return nil, fmt.Errorf("load scope change: %w", err)
	}
	return sc, nil
}
