package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const minutesPerDay = 24 * 60

type AvailabilityRuleParams struct {
	Weekday             time.Weekday
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
}

type AvailabilityExceptionParams struct {
	StartsAt time.Time
	EndsAt   time.Time
	Reason   *string
}

// AddAvailabilityRule registers a recurring window for the provider.
// Availability changes never touch existing appointments.
func (s *Service) AddAvailabilityRule(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, providerID uuid.UUID, params AvailabilityRuleParams) (*AvailabilityRule, error) {
	if err := s.authorizeAvailabilityChange(actorID, actorRole, providerID); err != nil {
		return nil, err
	}
	if params.Weekday < time.Sunday || params.Weekday > time.Saturday {
		return nil, fault(CodeInvalidWindow, "weekday is out of range")
	}
	if params.StartMinute < 0 || params.EndMinute > minutesPerDay || params.EndMinute <= params.StartMinute {
		return nil, fault(CodeInvalidWindow, "the rule window is invalid")
	}
	if params.SlotDurationMinutes < MinWindowMinutes || params.SlotDurationMinutes > MaxWindowMinutes {
		return nil, fault(CodeInvalidSlotDuration, fmt.Sprintf("slot duration must be between %d and %d minutes", MinWindowMinutes, MaxWindowMinutes))
	}

	if _, err := s.loadActiveProvider(ctx, providerID); err != nil {
		return nil, err
	}

	rule := &AvailabilityRule{
		ID:                  uuid.New(),
		ProviderID:          providerID,
		Weekday:             params.Weekday,
		StartMinute:         params.StartMinute,
		EndMinute:           params.EndMinute,
		SlotDurationMinutes: params.SlotDurationMinutes,
		Active:              true,
		CreatedAt:           s.now(),
	}

	existing, err := s.repo.GetAvailabilityRulesByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	for _, other := range existing {
		if other.Active && rule.overlapsRule(other) {
			return nil, fault(CodePolicyViolation, "the rule overlaps an existing rule on the same weekday")
		}
	}

	if err := s.repo.AddAvailabilityRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("insert availability rule: %w", err)
	}
	return rule, nil
}

// RemoveAvailabilityRule deactivates a rule. Appointments already booked
// inside the rule's windows are unaffected.
func (s *Service) RemoveAvailabilityRule(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, ruleID uuid.UUID) error {
	rule, err := s.repo.GetAvailabilityRuleByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return fault(CodeRuleNotFound, "availability rule not found")
		}
		return fmt.Errorf("load availability rule: %w", err)
	}
	if err := s.authorizeAvailabilityChange(actorID, actorRole, rule.ProviderID); err != nil {
		return err
	}
	if !rule.Active {
		return nil
	}
	if err := s.repo.DeactivateAvailabilityRule(ctx, ruleID); err != nil {
		return fmt.Errorf("deactivate availability rule: %w", err)
	}
	return nil
}

// AddAvailabilityException blocks a one-off instant range. The window must
// be clear: it may not intersect another active exception, and it may not
// cover an appointment that still reserves the calendar.
func (s *Service) AddAvailabilityException(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, providerID uuid.UUID, params AvailabilityExceptionParams) (*AvailabilityException, error) {
	if err := s.authorizeAvailabilityChange(actorID, actorRole, providerID); err != nil {
		return nil, err
	}
	startsAt := params.StartsAt.UTC()
	endsAt := params.EndsAt.UTC()
	if !endsAt.After(startsAt) {
		return nil, fault(CodeInvalidWindow, "the exception window is invalid")
	}
	if endsAt.Before(s.now()) {
		return nil, fault(CodeInvalidWindow, "the exception window is entirely in the past")
	}

	if _, err := s.loadActiveProvider(ctx, providerID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetAvailabilityExceptionsByProvider(ctx, providerID, startsAt, endsAt)
	if err != nil {
		return nil, fmt.Errorf("load availability exceptions: %w", err)
	}
	for _, other := range existing {
		if other.Active {
			return nil, fault(CodePolicyViolation, "the exception overlaps an existing active exception")
		}
	}

	booked, err := s.repo.GetProviderAppointmentsInRange(ctx, providerID, startsAt, endsAt, BlockingStatuses)
	if err != nil {
		return nil, fmt.Errorf("load booked appointments: %w", err)
	}
	if len(booked) > 0 {
		return nil, fault(CodePolicyViolation, "the exception window contains booked appointments; reschedule or cancel them first")
	}

	exception := &AvailabilityException{
		ID:         uuid.New(),
		ProviderID: providerID,
		StartsAt:   startsAt,
		EndsAt:     endsAt,
		Reason:     trimmedOrNil(params.Reason),
		Active:     true,
		CreatedAt:  s.now(),
	}

	if err := s.repo.AddAvailabilityException(ctx, exception); err != nil {
		return nil, fmt.Errorf("insert availability exception: %w", err)
	}

	return exception, nil
}

// RemoveAvailabilityException deactivates an exception, reopening its range.
func (s *Service) RemoveAvailabilityException(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, exceptionID uuid.UUID) error {
	exception, err := s.repo.GetAvailabilityExceptionByID(ctx, exceptionID)
	if err != nil {
		if errors.Is(err, ErrExceptionNotFound) {
			return fault(CodeExceptionNotFound, "availability exception not found")
		}
		return fmt.Errorf("load availability exception: %w", err)
	}
	if err := s.authorizeAvailabilityChange(actorID, actorRole, exception.ProviderID); err != nil {
		return err
	}
	if !exception.Active {
		return nil
	}
	if err := s.repo.DeactivateAvailabilityException(ctx, exceptionID); err != nil {
		return fmt.Errorf("deactivate availability exception: %w", err)
	}
	return nil
}

// GetAvailabilityOverview returns the provider's active rules and the
// exceptions covering the next MaxSlotsRangeDays days.
func (s *Service) GetAvailabilityOverview(ctx context.Context, actorID uuid.UUID, actorRole ActorRole, providerID uuid.UUID) (*AvailabilityOverview, error) {
	if err := s.authorizeAvailabilityChange(actorID, actorRole, providerID); err != nil {
		return nil, err
	}
	if _, err := s.loadActiveProvider(ctx, providerID); err != nil {
		return nil, err
	}

	rules, err := s.repo.GetAvailabilityRulesByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	active := make([]AvailabilityRule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}

	now := s.now()
	exceptions, err := s.repo.GetAvailabilityExceptionsByProvider(ctx, providerID, now, now.AddDate(0, 0, MaxSlotsRangeDays))
	if err != nil {
		return nil, fmt.Errorf("load availability exceptions: %w", err)
	}
	activeExceptions := make([]AvailabilityException, 0, len(exceptions))
	for _, e := range exceptions {
		if e.Active {
			activeExceptions = append(activeExceptions, e)
		}
	}

	return &AvailabilityOverview{
		ProviderID: providerID,
		Rules:      active,
		Exceptions: activeExceptions,
	}, nil
}

func (s *Service) authorizeAvailabilityChange(actorID uuid.UUID, actorRole ActorRole, providerID uuid.UUID) error {
	if actorRole == RoleAdmin {
		return nil
	}
	if actorRole == RoleProvider && actorID == providerID {
		return nil
	}
	return fault(CodeForbidden, "only the provider or an admin may manage availability")
}
