package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/homefix/appointment-scheduling/internal/appointment"
	redisclient "github.com/homefix/appointment-scheduling/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps domain faults onto HTTP statuses. Infrastructure
// failures, including a Redis lock that could not be acquired, never leak
// their internals past a generic 5xx.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		writeError(w, http.StatusConflict, "resource_busy", "the resource is being modified, please retry shortly")
		return
	}

	code := appointment.FaultCode(err)
	if code == "" {
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
		return
	}

	writeError(w, statusForCode(code), code, err.Error())
}

func statusForCode(code string) int {
	switch code {
	case appointment.CodeForbidden:
		return http.StatusForbidden
	case appointment.CodeAppointmentNotFound,
		appointment.CodeProviderNotFound,
		appointment.CodeRequestNotFound,
		appointment.CodeRuleNotFound,
		appointment.CodeExceptionNotFound,
		appointment.CodeScopeChangeNotFound,
		appointment.CodeTermNotFound:
		return http.StatusNotFound
	case appointment.CodeInvalidState,
		appointment.CodeSlotUnavailable,
		appointment.CodeRequestWindowConflict,
		appointment.CodeRequestClosed,
		appointment.CodeProviderNotAssigned,
		appointment.CodeScopeChangePending,
		appointment.CodeScopeChangeExpired,
		appointment.CodePinLocked,
		appointment.CodePinExpired:
		return http.StatusConflict
	case appointment.CodePolicyViolation:
		return http.StatusUnprocessableEntity
	}
	if strings.HasPrefix(code, "invalid_") {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}
