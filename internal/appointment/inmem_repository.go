package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemRepository is a map-backed Repository used by tests and the local
// tooling. All methods copy on the way in and out so callers never share
// mutable state with the store.
type InMemRepository struct {
	mu sync.RWMutex

	users           map[uuid.UUID]*User
	requests        map[uuid.UUID]*ServiceRequest
	rules           map[uuid.UUID]*AvailabilityRule
	exceptions      map[uuid.UUID]*AvailabilityException
	appointments    map[uuid.UUID]*Appointment
	history         map[uuid.UUID][]HistoryEntry
	scopeChanges    map[uuid.UUID]*ScopeChangeRequest
	attachments     map[uuid.UUID][]ScopeChangeAttachment
	completionTerms map[uuid.UUID]*CompletionTerm // keyed by appointment id
}

func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		users:           make(map[uuid.UUID]*User),
		requests:        make(map[uuid.UUID]*ServiceRequest),
		rules:           make(map[uuid.UUID]*AvailabilityRule),
		exceptions:      make(map[uuid.UUID]*AvailabilityException),
		appointments:    make(map[uuid.UUID]*Appointment),
		history:         make(map[uuid.UUID][]HistoryEntry),
		scopeChanges:    make(map[uuid.UUID]*ScopeChangeRequest),
		attachments:     make(map[uuid.UUID][]ScopeChangeAttachment),
		completionTerms: make(map[uuid.UUID]*CompletionTerm),
	}
}

// Seed helpers, not part of the Repository interface.

func (r *InMemRepository) PutUser(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
}

func (r *InMemRepository) PutServiceRequest(req *ServiceRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = copyRequest(req)
}

// Users

func (r *InMemRepository) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *InMemRepository) ListActiveAdminIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for _, u := range r.users {
		if u.Role == RoleAdmin && u.Active {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// Service requests

func (r *InMemRepository) GetServiceRequestByID(_ context.Context, id uuid.UUID) (*ServiceRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrServiceRequestNotFound
	}
	return copyRequest(req), nil
}

func (r *InMemRepository) UpdateServiceRequest(_ context.Context, req *ServiceRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[req.ID]; !ok {
		return ErrServiceRequestNotFound
	}
	r.requests[req.ID] = copyRequest(req)
	return nil
}

// Availability

func (r *InMemRepository) GetAvailabilityRulesByProvider(_ context.Context, providerID uuid.UUID) ([]AvailabilityRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rules []AvailabilityRule
	for _, rule := range r.rules {
		if rule.ProviderID == providerID {
			rules = append(rules, *rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Weekday != rules[j].Weekday {
			return rules[i].Weekday < rules[j].Weekday
		}
		return rules[i].StartMinute < rules[j].StartMinute
	})
	return rules, nil
}

func (r *InMemRepository) GetAvailabilityRuleByID(_ context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	cp := *rule
	return &cp, nil
}

func (r *InMemRepository) AddAvailabilityRule(_ context.Context, rule *AvailabilityRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *InMemRepository) DeactivateAvailabilityRule(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	rule.Active = false
	return nil
}

func (r *InMemRepository) GetAvailabilityExceptionsByProvider(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilityException, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []AvailabilityException
	for _, e := range r.exceptions {
		if e.ProviderID == providerID && e.StartsAt.Before(to) && e.EndsAt.After(from) {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartsAt.Before(result[j].StartsAt) })
	return result, nil
}

func (r *InMemRepository) GetAvailabilityExceptionByID(_ context.Context, id uuid.UUID) (*AvailabilityException, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exceptions[id]
	if !ok {
		return nil, ErrExceptionNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *InMemRepository) AddAvailabilityException(_ context.Context, e *AvailabilityException) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.exceptions[e.ID] = &cp
	return nil
}

func (r *InMemRepository) DeactivateAvailabilityException(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exceptions[id]
	if !ok {
		return ErrExceptionNotFound
	}
	e.Active = false
	return nil
}

// Appointments

func (r *InMemRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *InMemRepository) GetProviderAppointmentsInRange(_ context.Context, providerID uuid.UUID, from, to time.Time, statuses []Status) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	allowed := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}
	var result []*Appointment
	for _, a := range r.appointments {
		if a.ProviderID == providerID && allowed[a.Status] &&
			a.WindowStart.Before(to) && a.WindowEnd.After(from) {
			cp := *a
			result = append(result, &cp)
		}
	}
	sortByWindowStart(result)
	return result, nil
}

func (r *InMemRepository) GetAppointmentsByServiceRequest(_ context.Context, serviceRequestID uuid.UUID) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Appointment
	for _, a := range r.appointments {
		if a.ServiceRequestID == serviceRequestID {
			cp := *a
			result = append(result, &cp)
		}
	}
	sortByWindowStart(result)
	return result, nil
}

func (r *InMemRepository) ListAppointmentsByClient(_ context.Context, clientID uuid.UUID, from, to *time.Time) ([]*Appointment, error) {
	return r.listByParty(func(a *Appointment) bool { return a.ClientID == clientID }, from, to)
}

func (r *InMemRepository) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID, from, to *time.Time) ([]*Appointment, error) {
	return r.listByParty(func(a *Appointment) bool { return a.ProviderID == providerID }, from, to)
}

func (r *InMemRepository) listByParty(match func(*Appointment) bool, from, to *time.Time) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Appointment
	for _, a := range r.appointments {
		if !match(a) {
			continue
		}
		if from != nil && !a.WindowEnd.After(*from) {
			continue
		}
		if to != nil && !a.WindowStart.Before(*to) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sortByWindowStart(result)
	return result, nil
}

func (r *InMemRepository) AddAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.appointments[a.ID] = &cp
	return nil
}

func (r *InMemRepository) UpdateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	cp := *a
	r.appointments[a.ID] = &cp
	return nil
}

func (r *InMemRepository) FindExpiredPendingAppointments(_ context.Context, now time.Time, limit int) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Appointment
	for _, a := range r.appointments {
		if a.Status == StatusPendingProviderConfirmation &&
			a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			cp := *a
			result = append(result, &cp)
		}
	}
	sortByWindowStart(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// History

func (r *InMemRepository) AddHistory(_ context.Context, entry *HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[entry.AppointmentID] = append(r.history[entry.AppointmentID], *entry)
	return nil
}

func (r *InMemRepository) GetHistoryByAppointment(_ context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.history[appointmentID]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Scope changes

func (r *InMemRepository) GetScopeChangeByID(_ context.Context, id uuid.UUID) (*ScopeChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.scopeChanges[id]
	if !ok {
		return nil, ErrScopeChangeNotFound
	}
	return r.copyScopeChangeLocked(sc), nil
}

func (r *InMemRepository) GetPendingScopeChangeByAppointment(_ context.Context, appointmentID uuid.UUID) (*ScopeChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *ScopeChangeRequest
	for _, sc := range r.scopeChanges {
		if sc.AppointmentID == appointmentID && sc.Status == ScopeChangePendingClientApproval {
			if latest == nil || sc.Version > latest.Version {
				latest = sc
			}
		}
	}
	if latest == nil {
		return nil, ErrScopeChangeNotFound
	}
	return r.copyScopeChangeLocked(latest), nil
}

func (r *InMemRepository) GetScopeChangesByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*ScopeChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*ScopeChangeRequest
	for _, sc := range r.scopeChanges {
		if sc.AppointmentID == appointmentID {
			result = append(result, r.copyScopeChangeLocked(sc))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

func (r *InMemRepository) GetScopeChangesByServiceRequest(_ context.Context, serviceRequestID uuid.UUID) ([]*ScopeChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*ScopeChangeRequest
	for _, sc := range r.scopeChanges {
		if sc.ServiceRequestID == serviceRequestID {
			result = append(result, r.copyScopeChangeLocked(sc))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RequestedAt.Before(result[j].RequestedAt) })
	return result, nil
}

func (r *InMemRepository) AddScopeChange(_ context.Context, sc *ScopeChangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sc
	cp.Attachments = nil
	r.scopeChanges[sc.ID] = &cp
	return nil
}

func (r *InMemRepository) UpdateScopeChange(_ context.Context, sc *ScopeChangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.scopeChanges[sc.ID]
	if !ok {
		return ErrScopeChangeNotFound
	}
	stored.Status = sc.Status
	stored.ClientRespondedAt = sc.ClientRespondedAt
	stored.ClientResponseReason = sc.ClientResponseReason
	stored.UpdatedAt = sc.UpdatedAt
	return nil
}

func (r *InMemRepository) AddScopeChangeAttachment(_ context.Context, a *ScopeChangeAttachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scopeChanges[a.ScopeChangeRequestID]; !ok {
		return ErrScopeChangeNotFound
	}
	r.attachments[a.ScopeChangeRequestID] = append(r.attachments[a.ScopeChangeRequestID], *a)
	return nil
}

func (r *InMemRepository) FindTimedOutPendingScopeChanges(_ context.Context, requestedBefore time.Time, limit int) ([]*ScopeChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*ScopeChangeRequest
	for _, sc := range r.scopeChanges {
		if sc.Status == ScopeChangePendingClientApproval && sc.RequestedAt.Before(requestedBefore) {
			result = append(result, r.copyScopeChangeLocked(sc))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RequestedAt.Before(result[j].RequestedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Completion terms

func (r *InMemRepository) GetCompletionTermByAppointment(_ context.Context, appointmentID uuid.UUID) (*CompletionTerm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.completionTerms[appointmentID]
	if !ok {
		return nil, ErrCompletionTermNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *InMemRepository) AddCompletionTerm(_ context.Context, t *CompletionTerm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.completionTerms[t.AppointmentID] = &cp
	return nil
}

func (r *InMemRepository) UpdateCompletionTerm(_ context.Context, t *CompletionTerm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.completionTerms[t.AppointmentID]; !ok {
		return ErrCompletionTermNotFound
	}
	cp := *t
	r.completionTerms[t.AppointmentID] = &cp
	return nil
}

// Copy helpers

func (r *InMemRepository) copyScopeChangeLocked(sc *ScopeChangeRequest) *ScopeChangeRequest {
	cp := *sc
	attachments := r.attachments[sc.ID]
	cp.Attachments = make([]ScopeChangeAttachment, len(attachments))
	copy(cp.Attachments, attachments)
	return &cp
}

func copyRequest(req *ServiceRequest) *ServiceRequest {
	cp := *req
	cp.Proposals = make([]Proposal, len(req.Proposals))
	copy(cp.Proposals, req.Proposals)
	return &cp
}

func sortByWindowStart(appts []*Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].WindowStart.Before(appts[j].WindowStart)
	})
}
