package appointment

import "errors"

// Stable fault codes returned across the service boundary. Validation and
// policy failures are values of *Fault; only repository and infrastructure
// errors propagate as plain wrapped errors.
const (
	CodeForbidden             = "forbidden"
	CodeAppointmentNotFound   = "appointment_not_found"
	CodeProviderNotFound      = "provider_not_found"
	CodeRequestNotFound       = "request_not_found"
	CodeRuleNotFound          = "rule_not_found"
	CodeExceptionNotFound     = "exception_not_found"
	CodeScopeChangeNotFound   = "scope_change_not_found"
	CodeTermNotFound          = "term_not_found"
	CodeInvalidState          = "invalid_state"
	CodeInvalidWindow         = "invalid_window"
	CodeInvalidRange          = "invalid_range"
	CodeInvalidSlotDuration   = "invalid_slot_duration"
	CodeInvalidReason         = "invalid_reason"
	CodeInvalidValue          = "invalid_value"
	CodeInvalidProvider       = "invalid_provider"
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidAttachment     = "invalid_attachment"
	CodeInvalidSignature      = "invalid_signature"
	CodePolicyViolation       = "policy_violation"
	CodeSlotUnavailable       = "slot_unavailable"
	CodeRequestWindowConflict = "request_window_conflict"
	CodeRequestClosed         = "request_closed"
	CodeProviderNotAssigned   = "provider_not_assigned"
	CodeScopeChangePending    = "scope_change_pending"
	CodeScopeChangeExpired    = "scope_change_expired"
	CodePinExpired            = "pin_expired"
	CodeInvalidPin            = "invalid_pin"
	CodePinLocked             = "pin_locked"
)

type Fault struct {
	Code    string
	Message string
}

func (f *Fault) Error() string {
	return f.Code + ": " + f.Message
}

func fault(code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// FaultCode extracts the stable code from an error, or "" for
// infrastructure errors.
func FaultCode(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsFault reports whether err is a business-rule failure rather than an
// infrastructure fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}
