package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	ServiceRequestID string  `json:"service_request_id"`
	ProviderID       string  `json:"provider_id"`
	WindowStart      string  `json:"window_start"`
	WindowEnd        string  `json:"window_end"`
	Reason           *string `json:"reason,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Reason      string `json:"reason"`
}

type RescheduleResponseRequest struct {
	Accept bool    `json:"accept"`
	Reason *string `json:"reason,omitempty"`
}

type ArrivalRequest struct {
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
	ManualReason   *string  `json:"manual_reason,omitempty"`
}

type OperationalStatusRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

type PresenceRequest struct {
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason,omitempty"`
}

type AvailabilityRuleRequest struct {
	Weekday             int `json:"weekday"`
	StartMinute         int `json:"start_minute"`
	EndMinute           int `json:"end_minute"`
	SlotDurationMinutes int `json:"slot_duration_minutes"`
}

type AvailabilityExceptionRequest struct {
	StartsAt string  `json:"starts_at"`
	EndsAt   string  `json:"ends_at"`
	Reason   *string `json:"reason,omitempty"`
}

type ScopeChangeCreateRequest struct {
	Reason                     string `json:"reason"`
	AdditionalScopeDescription string `json:"additional_scope_description"`
	IncrementalValueCents      int64  `json:"incremental_value_cents"`
}

type ScopeChangeResponseRequest struct {
	Approve bool    `json:"approve"`
	Reason  *string `json:"reason,omitempty"`
}

type ScopeChangeAttachmentRequest struct {
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type ConfirmPinRequest struct {
	Pin string `json:"pin"`
}

type ConfirmSignatureRequest struct {
	SignatureName string `json:"signature_name"`
}

type ContestRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	ServiceRequestID  uuid.UUID  `json:"service_request_id"`
	ClientID          uuid.UUID  `json:"client_id"`
	ProviderID        uuid.UUID  `json:"provider_id"`
	Status            string     `json:"status"`
	OperationalStatus *string    `json:"operational_status,omitempty"`
	WindowStart       time.Time  `json:"window_start"`
	WindowEnd         time.Time  `json:"window_end"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Reason            *string    `json:"reason,omitempty"`

	ProposedWindowStart *time.Time `json:"proposed_window_start,omitempty"`
	ProposedWindowEnd   *time.Time `json:"proposed_window_end,omitempty"`
	RescheduleReason    *string    `json:"reschedule_reason,omitempty"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                  a.ID,
		ServiceRequestID:    a.ServiceRequestID,
		ClientID:            a.ClientID,
		ProviderID:          a.ProviderID,
		Status:              string(a.Status),
		WindowStart:         a.WindowStart,
		WindowEnd:           a.WindowEnd,
		ExpiresAt:           a.ExpiresAt,
		Reason:              a.Reason,
		ProposedWindowStart: a.ProposedWindowStart,
		ProposedWindowEnd:   a.ProposedWindowEnd,
		RescheduleReason:    a.RescheduleReason,
		ConfirmedAt:         a.ConfirmedAt,
		ArrivedAt:           a.ArrivedAt,
		StartedAt:           a.StartedAt,
		CancelledAt:         a.CancelledAt,
		CompletedAt:         a.CompletedAt,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
	if a.OperationalStatus != nil {
		op := string(*a.OperationalStatus)
		resp.OperationalStatus = &op
	}
	return resp
}

func toAppointmentResponses(appts []*appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(appts))
	for i, a := range appts {
		out[i] = toAppointmentResponse(a)
	}
	return out
}

type OperationalUpdateResponse struct {
	Appointment   AppointmentResponse `json:"appointment"`
	CompletionPin string              `json:"completion_pin,omitempty"`
}

type SlotResponse struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

type AvailabilityRuleResponse struct {
	ID                  uuid.UUID `json:"id"`
	ProviderID          uuid.UUID `json:"provider_id"`
	Weekday             int       `json:"weekday"`
	StartMinute         int       `json:"start_minute"`
	EndMinute           int       `json:"end_minute"`
	SlotDurationMinutes int       `json:"slot_duration_minutes"`
	Active              bool      `json:"active"`
}

type AvailabilityExceptionResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID uuid.UUID `json:"provider_id"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Reason     *string   `json:"reason,omitempty"`
	Active     bool      `json:"active"`
}

type AvailabilityOverviewResponse struct {
	ProviderID uuid.UUID                       `json:"provider_id"`
	Rules      []AvailabilityRuleResponse      `json:"rules"`
	Exceptions []AvailabilityExceptionResponse `json:"exceptions"`
}

func toRuleResponse(r appointment.AvailabilityRule) AvailabilityRuleResponse {
	return AvailabilityRuleResponse{
		ID:                  r.ID,
		ProviderID:          r.ProviderID,
		Weekday:             int(r.Weekday),
		StartMinute:         r.StartMinute,
		EndMinute:           r.EndMinute,
		SlotDurationMinutes: r.SlotDurationMinutes,
		Active:              r.Active,
	}
}

func toExceptionResponse(e appointment.AvailabilityException) AvailabilityExceptionResponse {
	return AvailabilityExceptionResponse{
		ID:         e.ID,
		ProviderID: e.ProviderID,
		StartsAt:   e.StartsAt,
		EndsAt:     e.EndsAt,
		Reason:     e.Reason,
		Active:     e.Active,
	}
}

type ScopeChangeResponse struct {
	ID                         uuid.UUID  `json:"id"`
	ServiceRequestID           uuid.UUID  `json:"service_request_id"`
	AppointmentID              uuid.UUID  `json:"appointment_id"`
	ProviderID                 uuid.UUID  `json:"provider_id"`
	Version                    int        `json:"version"`
	Status                     string     `json:"status"`
	Reason                     string     `json:"reason"`
	AdditionalScopeDescription string     `json:"additional_scope_description"`
	IncrementalValueCents      int64      `json:"incremental_value_cents"`
	RequestedAt                time.Time  `json:"requested_at"`
	ClientRespondedAt          *time.Time `json:"client_responded_at,omitempty"`
	ClientResponseReason       *string    `json:"client_response_reason,omitempty"`
	PreviousVersionID          *uuid.UUID `json:"previous_version_id,omitempty"`
	Attachments                int        `json:"attachments"`
}

func toScopeChangeResponse(sc *appointment.ScopeChangeRequest) ScopeChangeResponse {
	return ScopeChangeResponse{
		ID:                         sc.ID,
		ServiceRequestID:           sc.ServiceRequestID,
		AppointmentID:              sc.AppointmentID,
		ProviderID:                 sc.ProviderID,
		Version:                    sc.Version,
		Status:                     string(sc.Status),
		Reason:                     sc.Reason,
		AdditionalScopeDescription: sc.AdditionalScopeDescription,
		IncrementalValueCents:      sc.IncrementalValueCents,
		RequestedAt:                sc.RequestedAt,
		ClientRespondedAt:          sc.ClientRespondedAt,
		ClientResponseReason:       sc.ClientResponseReason,
		PreviousVersionID:          sc.PreviousVersionID,
		Attachments:                len(sc.Attachments),
	}
}

type CompletionTermResponse struct {
	ID                uuid.UUID  `json:"id"`
	AppointmentID     uuid.UUID  `json:"appointment_id"`
	Status            string     `json:"status"`
	Summary           string     `json:"summary"`
	PayloadHash       string     `json:"payload_hash"`
	PinExpiresAt      *time.Time `json:"pin_expires_at,omitempty"`
	PinFailedAttempts int        `json:"pin_failed_attempts"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	ContestedAt       *time.Time `json:"contested_at,omitempty"`
}

func toTermResponse(t *appointment.CompletionTerm) CompletionTermResponse {
	return CompletionTermResponse{
		ID:                t.ID,
		AppointmentID:     t.AppointmentID,
		Status:            string(t.Status),
		Summary:           t.Summary,
		PayloadHash:       t.PayloadHash,
		PinExpiresAt:      t.PinExpiresAt,
		PinFailedAttempts: t.PinFailedAttempts,
		AcceptedAt:        t.AcceptedAt,
		ContestedAt:       t.ContestedAt,
	}
}

type HistoryEntryResponse struct {
	ID                        uuid.UUID         `json:"id"`
	PreviousStatus            *string           `json:"previous_status,omitempty"`
	NewStatus                 string            `json:"new_status"`
	PreviousOperationalStatus *string           `json:"previous_operational_status,omitempty"`
	NewOperationalStatus      *string           `json:"new_operational_status,omitempty"`
	ActorID                   *uuid.UUID        `json:"actor_id,omitempty"`
	ActorRole                 string            `json:"actor_role"`
	Reason                    *string           `json:"reason,omitempty"`
	Metadata                  map[string]string `json:"metadata,omitempty"`
	OccurredAt                time.Time         `json:"occurred_at"`
}

func toHistoryResponse(entries []appointment.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, len(entries))
	for i, e := range entries {
		resp := HistoryEntryResponse{
			ID:         e.ID,
			NewStatus:  string(e.NewStatus),
			ActorID:    e.ActorID,
			ActorRole:  string(e.ActorRole),
			Reason:     e.Reason,
			Metadata:   e.Metadata,
			OccurredAt: e.OccurredAt,
		}
		if e.PreviousStatus != nil {
			v := string(*e.PreviousStatus)
			resp.PreviousStatus = &v
		}
		if e.PreviousOperationalStatus != nil {
			v := string(*e.PreviousOperationalStatus)
			resp.PreviousOperationalStatus = &v
		}
		if e.NewOperationalStatus != nil {
			v := string(*e.NewOperationalStatus)
			resp.NewOperationalStatus = &v
		}
		out[i] = resp
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
