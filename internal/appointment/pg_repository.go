package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Column lists shared by every query on the wide tables.

const appointmentColumns = `
	id, service_request_id, client_id, provider_id, status,
	window_start, window_end, expires_at, reason,
	proposed_window_start, proposed_window_end,
	reschedule_requested_at, reschedule_requested_by, reschedule_reason,
	pre_negotiation_status,
	operational_status, operational_status_updated_at, operational_status_reason,
	confirmed_at, arrived_at, started_at, rejected_at, cancelled_at, completed_at,
	arrived_latitude, arrived_longitude, arrived_accuracy_meters, arrived_manual_reason,
	client_presence_confirmed, client_presence_responded_at, client_presence_reason,
	provider_presence_confirmed, provider_presence_responded_at, provider_presence_reason,
	no_show_risk_score, no_show_risk_level, no_show_risk_calculated_at, no_show_risk_reasons,
	created_at, updated_at`

const scopeChangeColumns = `
	id, service_request_id, appointment_id, provider_id, version, status,
	reason, additional_scope_description, incremental_value_cents,
	requested_at, client_responded_at, client_response_reason, previous_version_id,
	created_at, updated_at`

const completionTermColumns = `
	id, service_request_id, appointment_id, provider_id, client_id, status, summary,
	payload, payload_hash, pin_hash, pin_expires_at, pin_failed_attempts,
	accepted_with_method, accepted_signature_name, accepted_at,
	contest_reason, contested_at, escalated_at, created_at, updated_at`

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.Plan,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanServiceRequest(row pgx.Row) (*ServiceRequest, error) {
	var r ServiceRequest
	err := row.Scan(
		&r.ID,
		&r.ClientID,
		&r.Description,
		&r.Status,
		&r.BaseValueCents,
		&r.ApprovedExtraCents,
		&r.CurrentValueCents,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ServiceRequestID,
		&a.ClientID,
		&a.ProviderID,
		&a.Status,
		&a.WindowStart,
		&a.WindowEnd,
		&a.ExpiresAt,
		&a.Reason,
		&a.ProposedWindowStart,
		&a.ProposedWindowEnd,
		&a.RescheduleRequestedAt,
		&a.RescheduleRequestedBy,
		&a.RescheduleReason,
		&a.PreNegotiationStatus,
		&a.OperationalStatus,
		&a.OperationalStatusUpdatedAt,
		&a.OperationalStatusReason,
		&a.ConfirmedAt,
		&a.ArrivedAt,
		&a.StartedAt,
		&a.RejectedAt,
		&a.CancelledAt,
		&a.CompletedAt,
		&a.ArrivedLatitude,
		&a.ArrivedLongitude,
		&a.ArrivedAccuracyMeters,
		&a.ArrivedManualReason,
		&a.ClientPresenceConfirmed,
		&a.ClientPresenceRespondedAt,
		&a.ClientPresenceReason,
		&a.ProviderPresenceConfirmed,
		&a.ProviderPresenceRespondedAt,
		&a.ProviderPresenceReason,
		&a.NoShowRiskScore,
		&a.NoShowRiskLevel,
		&a.NoShowRiskCalculatedAt,
		&a.NoShowRiskReasons,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanScopeChange(row pgx.Row) (*ScopeChangeRequest, error) {
	var s ScopeChangeRequest
	err := row.Scan(
		&s.ID,
		&s.ServiceRequestID,
		&s.AppointmentID,
		&s.ProviderID,
		&s.Version,
		&s.Status,
		&s.Reason,
		&s.AdditionalScopeDescription,
		&s.IncrementalValueCents,
		&s.RequestedAt,
		&s.ClientRespondedAt,
		&s.ClientResponseReason,
		&s.PreviousVersionID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScopeChangeNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanCompletionTerm(row pgx.Row) (*CompletionTerm, error) {
	var t CompletionTerm
	err := row.Scan(
		&t.ID,
		&t.ServiceRequestID,
		&t.AppointmentID,
		&t.ProviderID,
		&t.ClientID,
		&t.Status,
		&t.Summary,
		&t.Payload,
		&t.PayloadHash,
		&t.PinHash,
		&t.PinExpiresAt,
		&t.PinFailedAttempts,
		&t.AcceptedWithMethod,
		&t.AcceptedSignatureName,
		&t.AcceptedAt,
		&t.ContestReason,
		&t.ContestedAt,
		&t.EscalatedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompletionTermNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Users

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, plan, active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) ListActiveAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM users WHERE role = 'Admin' AND active
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Service requests

func (r *PgRepository) GetServiceRequestByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, client_id, description, status,
		       base_value_cents, approved_extra_cents, current_value_cents,
		       created_at, updated_at
		FROM service_requests
		WHERE id = $1
	`, id)
	request, err := scanServiceRequest(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, service_request_id, provider_id, estimated_value_cents,
		       accepted, invalidated, created_at
		FROM proposals
		WHERE service_request_id = $1
		ORDER BY created_at
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p Proposal
		if err := rows.Scan(&p.ID, &p.ServiceRequestID, &p.ProviderID,
			&p.EstimatedValueCents, &p.Accepted, &p.Invalidated, &p.CreatedAt); err != nil {
			return nil, err
		}
		request.Proposals = append(request.Proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return request, nil
}

func (r *PgRepository) UpdateServiceRequest(ctx context.Context, request *ServiceRequest) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE service_requests
		SET status = $2,
		    base_value_cents = $3,
		    approved_extra_cents = $4,
		    current_value_cents = $5,
		    updated_at = now()
		WHERE id = $1
	`, request.ID, request.Status, request.BaseValueCents,
		request.ApprovedExtraCents, request.CurrentValueCents)
	if err != nil {
		return fmt.Errorf("update service request: %w", err)
	}
	return nil
}

// Availability

func (r *PgRepository) GetAvailabilityRulesByProvider(ctx context.Context, providerID uuid.UUID) ([]AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, weekday, start_minute, end_minute, slot_duration_minutes, active, created_at
		FROM availability_rules
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []AvailabilityRule
	for rows.Next() {
		var rule AvailabilityRule
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &rule.Weekday, &rule.StartMinute,
			&rule.EndMinute, &rule.SlotDurationMinutes, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *PgRepository) GetAvailabilityRuleByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	var rule AvailabilityRule
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, weekday, start_minute, end_minute, slot_duration_minutes, active, created_at
		FROM availability_rules
		WHERE id = $1
	`, id).Scan(&rule.ID, &rule.ProviderID, &rule.Weekday, &rule.StartMinute,
		&rule.EndMinute, &rule.SlotDurationMinutes, &rule.Active, &rule.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (r *PgRepository) AddAvailabilityRule(ctx context.Context, rule *AvailabilityRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_rules
			(id, provider_id, weekday, start_minute, end_minute, slot_duration_minutes, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rule.ID, rule.ProviderID, rule.Weekday, rule.StartMinute,
		rule.EndMinute, rule.SlotDurationMinutes, rule.Active, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert availability rule: %w", err)
	}
	return nil
}

func (r *PgRepository) DeactivateAvailabilityRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_rules SET active = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate availability rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PgRepository) GetAvailabilityExceptionsByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, starts_at, ends_at, reason, active, created_at
		FROM availability_exceptions
		WHERE provider_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []AvailabilityException
	for rows.Next() {
		var e AvailabilityException
		if err := rows.Scan(&e.ID, &e.ProviderID, &e.StartsAt, &e.EndsAt,
			&e.Reason, &e.Active, &e.CreatedAt); err != nil {
			return nil, err
		}
		exceptions = append(exceptions, e)
	}
	return exceptions, rows.Err()
}

func (r *PgRepository) GetAvailabilityExceptionByID(ctx context.Context, id uuid.UUID) (*AvailabilityException, error) {
	var e AvailabilityException
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, starts_at, ends_at, reason, active, created_at
		FROM availability_exceptions
		WHERE id = $1
	`, id).Scan(&e.ID, &e.ProviderID, &e.StartsAt, &e.EndsAt, &e.Reason, &e.Active, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceptionNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *PgRepository) AddAvailabilityException(ctx context.Context, exception *AvailabilityException) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_exceptions
			(id, provider_id, starts_at, ends_at, reason, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exception.ID, exception.ProviderID, exception.StartsAt, exception.EndsAt,
		exception.Reason, exception.Active, exception.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert availability exception: %w", err)
	}
	return nil
}

func (r *PgRepository) DeactivateAvailabilityException(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_exceptions SET active = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate availability exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExceptionNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetProviderAppointmentsInRange(ctx context.Context, providerID uuid.UUID, from, to time.Time, statuses []Status) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND window_start < $3
		  AND window_end > $2
		  AND status = ANY($4)
		ORDER BY window_start
	`, providerID, from, to, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetAppointmentsByServiceRequest(ctx context.Context, serviceRequestID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE service_request_id = $1
		ORDER BY window_start
	`, serviceRequestID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, from, to *time.Time) ([]*Appointment, error) {
	return r.listByParty(ctx, "client_id", clientID, from, to)
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, from, to *time.Time) ([]*Appointment, error) {
	return r.listByParty(ctx, "provider_id", providerID, from, to)
}

func (r *PgRepository) listByParty(ctx context.Context, column string, partyID uuid.UUID, from, to *time.Time) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		  AND ($2::timestamptz IS NULL OR window_end > $2)
		  AND ($3::timestamptz IS NULL OR window_start < $3)
		ORDER BY window_start
	`, partyID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) AddAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
		        $31, $32, $33, $34, $35, $36, $37, $38, $39, $40)
	`, appointmentArgs(a)...)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments SET
			status = $2,
			window_start = $3,
			window_end = $4,
			expires_at = $5,
			reason = $6,
			proposed_window_start = $7,
			proposed_window_end = $8,
			reschedule_requested_at = $9,
			reschedule_requested_by = $10,
			reschedule_reason = $11,
			pre_negotiation_status = $12,
			operational_status = $13,
			operational_status_updated_at = $14,
			operational_status_reason = $15,
			confirmed_at = $16,
			arrived_at = $17,
			started_at = $18,
			rejected_at = $19,
			cancelled_at = $20,
			completed_at = $21,
			arrived_latitude = $22,
			arrived_longitude = $23,
			arrived_accuracy_meters = $24,
			arrived_manual_reason = $25,
			client_presence_confirmed = $26,
			client_presence_responded_at = $27,
			client_presence_reason = $28,
			provider_presence_confirmed = $29,
			provider_presence_responded_at = $30,
			provider_presence_reason = $31,
			updated_at = $32
		WHERE id = $1
	`, a.ID, a.Status, a.WindowStart, a.WindowEnd, a.ExpiresAt, a.Reason,
		a.ProposedWindowStart, a.ProposedWindowEnd,
		a.RescheduleRequestedAt, a.RescheduleRequestedBy, a.RescheduleReason,
		a.PreNegotiationStatus,
		a.OperationalStatus, a.OperationalStatusUpdatedAt, a.OperationalStatusReason,
		a.ConfirmedAt, a.ArrivedAt, a.StartedAt, a.RejectedAt, a.CancelledAt, a.CompletedAt,
		a.ArrivedLatitude, a.ArrivedLongitude, a.ArrivedAccuracyMeters, a.ArrivedManualReason,
		a.ClientPresenceConfirmed, a.ClientPresenceRespondedAt, a.ClientPresenceReason,
		a.ProviderPresenceConfirmed, a.ProviderPresenceRespondedAt, a.ProviderPresenceReason,
		a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindExpiredPendingAppointments(ctx context.Context, now time.Time, limit int) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PendingProviderConfirmation'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// History

func (r *PgRepository) AddHistory(ctx context.Context, entry *HistoryEntry) error {
	metadata, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	var metadataArg *string
	if metadata != "" {
		metadataArg = &metadata
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointment_history
			(id, appointment_id, previous_status, new_status,
			 previous_operational_status, new_operational_status,
			 actor_id, actor_role, reason, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, entry.AppointmentID, entry.PreviousStatus, entry.NewStatus,
		entry.PreviousOperationalStatus, entry.NewOperationalStatus,
		entry.ActorID, entry.ActorRole, entry.Reason, metadataArg, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (r *PgRepository) GetHistoryByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, previous_status, new_status,
		       previous_operational_status, new_operational_status,
		       actor_id, actor_role, reason, metadata, occurred_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY occurred_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var metadata *string
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.PreviousStatus, &e.NewStatus,
			&e.PreviousOperationalStatus, &e.NewOperationalStatus,
			&e.ActorID, &e.ActorRole, &e.Reason, &metadata, &e.OccurredAt); err != nil {
			return nil, err
		}
		if metadata != nil {
			if err := json.Unmarshal([]byte(*metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode history metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Scope changes

func (r *PgRepository) GetScopeChangeByID(ctx context.Context, id uuid.UUID) (*ScopeChangeRequest, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scopeChangeColumns+`
		FROM scope_change_requests
		WHERE id = $1
	`, id)
	sc, err := scanScopeChange(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadAttachments(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (r *PgRepository) GetPendingScopeChangeByAppointment(ctx context.Context, appointmentID uuid.UUID) (*ScopeChangeRequest, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scopeChangeColumns+`
		FROM scope_change_requests
		WHERE appointment_id = $1
		  AND status = 'PendingClientApproval'
		ORDER BY version DESC
		LIMIT 1
	`, appointmentID)
	return scanScopeChange(row)
}

func (r *PgRepository) GetScopeChangesByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*ScopeChangeRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scopeChangeColumns+`
		FROM scope_change_requests
		WHERE appointment_id = $1
		ORDER BY version
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collectScopeChanges(rows)
}

func (r *PgRepository) GetScopeChangesByServiceRequest(ctx context.Context, serviceRequestID uuid.UUID) ([]*ScopeChangeRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scopeChangeColumns+`
		FROM scope_change_requests
		WHERE service_request_id = $1
		ORDER BY requested_at
	`, serviceRequestID)
	if err != nil {
		return nil, err
	}
	return collectScopeChanges(rows)
}

func (r *PgRepository) AddScopeChange(ctx context.Context, sc *ScopeChangeRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scope_change_requests (`+scopeChangeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, sc.ID, sc.ServiceRequestID, sc.AppointmentID, sc.ProviderID, sc.Version, sc.Status,
		sc.Reason, sc.AdditionalScopeDescription, sc.IncrementalValueCents,
		sc.RequestedAt, sc.ClientRespondedAt, sc.ClientResponseReason, sc.PreviousVersionID,
		sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scope change: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateScopeChange(ctx context.Context, sc *ScopeChangeRequest) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scope_change_requests SET
			status = $2,
			client_responded_at = $3,
			client_response_reason = $4,
			updated_at = $5
		WHERE id = $1
	`, sc.ID, sc.Status, sc.ClientRespondedAt, sc.ClientResponseReason, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update scope change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScopeChangeNotFound
	}
	return nil
}

func (r *PgRepository) AddScopeChangeAttachment(ctx context.Context, a *ScopeChangeAttachment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scope_change_attachments
			(id, scope_change_request_id, uploaded_by_user_id, file_url, file_name,
			 content_type, media_kind, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.ScopeChangeRequestID, a.UploadedByUserID, a.FileURL, a.FileName,
		a.ContentType, a.MediaKind, a.SizeBytes, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scope change attachment: %w", err)
	}
	return nil
}

func (r *PgRepository) FindTimedOutPendingScopeChanges(ctx context.Context, requestedBefore time.Time, limit int) ([]*ScopeChangeRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scopeChangeColumns+`
		FROM scope_change_requests
		WHERE status = 'PendingClientApproval'
		  AND requested_at < $1
		ORDER BY requested_at
		LIMIT $2
	`, requestedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectScopeChanges(rows)
}

func (r *PgRepository) loadAttachments(ctx context.Context, sc *ScopeChangeRequest) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, scope_change_request_id, uploaded_by_user_id, file_url, file_name,
		       content_type, media_kind, size_bytes, created_at
		FROM scope_change_attachments
		WHERE scope_change_request_id = $1
		ORDER BY created_at
	`, sc.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a ScopeChangeAttachment
		if err := rows.Scan(&a.ID, &a.ScopeChangeRequestID, &a.UploadedByUserID,
			&a.FileURL, &a.FileName, &a.ContentType, &a.MediaKind, &a.SizeBytes, &a.CreatedAt); err != nil {
			return err
		}
		sc.Attachments = append(sc.Attachments, a)
	}
	return rows.Err()
}

// Completion terms

func (r *PgRepository) GetCompletionTermByAppointment(ctx context.Context, appointmentID uuid.UUID) (*CompletionTerm, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+completionTermColumns+`
		FROM completion_terms
		WHERE appointment_id = $1
	`, appointmentID)
	return scanCompletionTerm(row)
}

func (r *PgRepository) AddCompletionTerm(ctx context.Context, t *CompletionTerm) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO completion_terms (`+completionTermColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, t.ID, t.ServiceRequestID, t.AppointmentID, t.ProviderID, t.ClientID, t.Status, t.Summary,
		t.Payload, t.PayloadHash, t.PinHash, t.PinExpiresAt, t.PinFailedAttempts,
		t.AcceptedWithMethod, t.AcceptedSignatureName, t.AcceptedAt,
		t.ContestReason, t.ContestedAt, t.EscalatedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert completion term: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateCompletionTerm(ctx context.Context, t *CompletionTerm) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE completion_terms SET
			status = $2,
			pin_hash = $3,
			pin_expires_at = $4,
			pin_failed_attempts = $5,
			accepted_with_method = $6,
			accepted_signature_name = $7,
			accepted_at = $8,
			contest_reason = $9,
			contested_at = $10,
			escalated_at = $11,
			updated_at = $12
		WHERE id = $1
	`, t.ID, t.Status, t.PinHash, t.PinExpiresAt, t.PinFailedAttempts,
		t.AcceptedWithMethod, t.AcceptedSignatureName, t.AcceptedAt,
		t.ContestReason, t.ContestedAt, t.EscalatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update completion term: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCompletionTermNotFound
	}
	return nil
}

// Row collection helpers

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func collectScopeChanges(rows pgx.Rows) ([]*ScopeChangeRequest, error) {
	defer rows.Close()

	var result []*ScopeChangeRequest
	for rows.Next() {
		sc, err := scanScopeChange(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func appointmentArgs(a *Appointment) []any {
	return []any{
		a.ID, a.ServiceRequestID, a.ClientID, a.ProviderID, a.Status,
		a.WindowStart, a.WindowEnd, a.ExpiresAt, a.Reason,
		a.ProposedWindowStart, a.ProposedWindowEnd,
		a.RescheduleRequestedAt, a.RescheduleRequestedBy, a.RescheduleReason,
		a.PreNegotiationStatus,
		a.OperationalStatus, a.OperationalStatusUpdatedAt, a.OperationalStatusReason,
		a.ConfirmedAt, a.ArrivedAt, a.StartedAt, a.RejectedAt, a.CancelledAt, a.CompletedAt,
		a.ArrivedLatitude, a.ArrivedLongitude, a.ArrivedAccuracyMeters, a.ArrivedManualReason,
		a.ClientPresenceConfirmed, a.ClientPresenceRespondedAt, a.ClientPresenceReason,
		a.ProviderPresenceConfirmed, a.ProviderPresenceRespondedAt, a.ProviderPresenceReason,
		a.NoShowRiskScore, a.NoShowRiskLevel, a.NoShowRiskCalculatedAt, a.NoShowRiskReasons,
		a.CreatedAt, a.UpdatedAt,
	}
}
