package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Not-found sentinels returned by repositories. The service maps them to
// *Fault codes at the boundary; handlers never see them directly.
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrServiceRequestNotFound = errors.New("service request not found")
	ErrAppointmentNotFound    = errors.New("appointment not found")
	ErrRuleNotFound           = errors.New("availability rule not found")
	ErrExceptionNotFound      = errors.New("availability exception not found")
	ErrScopeChangeNotFound    = errors.New("scope change request not found")
	ErrCompletionTermNotFound = errors.New("completion term not found")
)

// Repository contains every persistence interaction the scheduling engine
// needs. Implementations must provide atomic single-entity reads and
// writes; cross-entity consistency is the service's job, under its locks.
type Repository interface {
	// Users.
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListActiveAdminIDs(ctx context.Context) ([]uuid.UUID, error)

	// Service requests (loaded with their proposals).
	GetServiceRequestByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	UpdateServiceRequest(ctx context.Context, request *ServiceRequest) error

	// Availability configuration.
	GetAvailabilityRulesByProvider(ctx context.Context, providerID uuid.UUID) ([]AvailabilityRule, error)
	GetAvailabilityRuleByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error)
	AddAvailabilityRule(ctx context.Context, rule *AvailabilityRule) error
	DeactivateAvailabilityRule(ctx context.Context, id uuid.UUID) error
	GetAvailabilityExceptionsByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error)
	GetAvailabilityExceptionByID(ctx context.Context, id uuid.UUID) (*AvailabilityException, error)
	AddAvailabilityException(ctx context.Context, exception *AvailabilityException) error
	DeactivateAvailabilityException(ctx context.Context, id uuid.UUID) error

	// Appointments.
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetProviderAppointmentsInRange(ctx context.Context, providerID uuid.UUID, from, to time.Time, statuses []Status) ([]*Appointment, error)
	GetAppointmentsByServiceRequest(ctx context.Context, serviceRequestID uuid.UUID) ([]*Appointment, error)
	ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, from, to *time.Time) ([]*Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, from, to *time.Time) ([]*Appointment, error)
	AddAppointment(ctx context.Context, appointment *Appointment) error
	UpdateAppointment(ctx context.Context, appointment *Appointment) error

	// Expiry sweeps.
	FindExpiredPendingAppointments(ctx context.Context, now time.Time, limit int) ([]*Appointment, error)
	FindTimedOutPendingScopeChanges(ctx context.Context, requestedBefore time.Time, limit int) ([]*ScopeChangeRequest, error)

	// History (append-only).
	AddHistory(ctx context.Context, entry *HistoryEntry) error
	GetHistoryByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error)

	// Scope-change requests.
	GetScopeChangeByID(ctx context.Context, id uuid.UUID) (*ScopeChangeRequest, error)
	GetPendingScopeChangeByAppointment(ctx context.Context, appointmentID uuid.UUID) (*ScopeChangeRequest, error)
	GetScopeChangesByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*ScopeChangeRequest, error)
	GetScopeChangesByServiceRequest(ctx context.Context, serviceRequestID uuid.UUID) ([]*ScopeChangeRequest, error)
	AddScopeChange(ctx context.Context, request *ScopeChangeRequest) error
	UpdateScopeChange(ctx context.Context, request *ScopeChangeRequest) error
	AddScopeChangeAttachment(ctx context.Context, attachment *ScopeChangeAttachment) error

	// Completion terms.
	GetCompletionTermByAppointment(ctx context.Context, appointmentID uuid.UUID) (*CompletionTerm, error)
	AddCompletionTerm(ctx context.Context, term *CompletionTerm) error
	UpdateCompletionTerm(ctx context.Context, term *CompletionTerm) error
}
