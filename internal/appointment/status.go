package appointment

// Event is a lifecycle trigger applied against the primary state machine.
type Event string

const (
	EventConfirm                     Event = "Confirm"
	EventReject                      Event = "Reject"
	EventExpire                      Event = "Expire"
	EventRequestRescheduleByClient   Event = "RequestRescheduleByClient"
	EventRequestRescheduleByProvider Event = "RequestRescheduleByProvider"
	EventAcceptReschedule            Event = "AcceptReschedule"
	EventCancelByClient              Event = "CancelByClient"
	EventCancelByProvider            Event = "CancelByProvider"
	EventMarkArrived                 Event = "MarkArrived"
	EventStartExecution              Event = "StartExecution"
	EventComplete                    Event = "Complete"
)

// statusTransitions is the primary state machine. A missing (status, event)
// pair means the transition is invalid. Rejecting a reschedule is handled
// outside the table because its target is the stored pre-negotiation status.
var statusTransitions = map[Status]map[Event]Status{
	StatusPendingProviderConfirmation: {
		EventConfirm: StatusConfirmed,
		EventReject:  StatusRejectedByProvider,
		EventExpire:  StatusExpiredWithoutProviderAction,
	},
	StatusConfirmed: {
		EventRequestRescheduleByClient:   StatusRescheduleRequestedByClient,
		EventRequestRescheduleByProvider: StatusRescheduleRequestedByProvider,
		EventCancelByClient:              StatusCancelledByClient,
		EventCancelByProvider:            StatusCancelledByProvider,
		EventMarkArrived:                 StatusArrived,
	},
	StatusRescheduleConfirmed: {
		EventRequestRescheduleByClient:   StatusRescheduleRequestedByClient,
		EventRequestRescheduleByProvider: StatusRescheduleRequestedByProvider,
		EventCancelByClient:              StatusCancelledByClient,
		EventCancelByProvider:            StatusCancelledByProvider,
		EventMarkArrived:                 StatusArrived,
	},
	StatusRescheduleRequestedByClient: {
		EventAcceptReschedule: StatusRescheduleConfirmed,
	},
	StatusRescheduleRequestedByProvider: {
		EventAcceptReschedule: StatusRescheduleConfirmed,
	},
	StatusArrived: {
		EventStartExecution: StatusInProgress,
	},
	StatusInProgress: {
		EventComplete: StatusCompleted,
	},
}

// nextStatus resolves the target status for an event, reporting whether the
// transition is allowed from the current status.
func nextStatus(current Status, event Event) (Status, bool) {
	events, ok := statusTransitions[current]
	if !ok {
		return "", false
	}
	next, ok := events[event]
	return next, ok
}

// Terminal reports whether no further lifecycle transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejectedByProvider,
		StatusExpiredWithoutProviderAction,
		StatusCancelledByClient,
		StatusCancelledByProvider,
		StatusCompleted:
		return true
	}
	return false
}

// Blocking reports whether the status reserves calendar time.
func (s Status) Blocking() bool {
	for _, b := range BlockingStatuses {
		if s == b {
			return true
		}
	}
	return false
}

// RescheduleRequested reports whether a reschedule negotiation is pending.
func (s Status) RescheduleRequested() bool {
	return s == StatusRescheduleRequestedByClient || s == StatusRescheduleRequestedByProvider
}

// operationalTransitions is the parallel sub-state machine tracked once a
// booking is live. It joins the primary machine only at the sync points
// applied in UpdateOperationalStatus.
var operationalTransitions = map[OperationalStatus][]OperationalStatus{
	OperationalOnTheWay:     {OperationalOnSite},
	OperationalOnSite:       {OperationalInService},
	OperationalInService:    {OperationalWaitingParts, OperationalCompleted},
	OperationalWaitingParts: {OperationalInService},
	OperationalCompleted:    {},
}

func operationalTransitionAllowed(from, to OperationalStatus) bool {
	for _, next := range operationalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
