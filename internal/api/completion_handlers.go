package api

import (
	"encoding/json"
	"net/http"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

func getCompletionTermHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		term, err := svc.GetCompletionTerm(r.Context(), actor.ID, actor.Role, appointmentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toTermResponse(term))
	}
}

func regeneratePinHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		pin, err := svc.RegenerateCompletionPin(r.Context(), actor.ID, actor.Role, appointmentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"completion_pin": pin})
	}
}

func confirmPinHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ConfirmPinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		term, err := svc.ConfirmCompletionByPin(r.Context(), actor.ID, actor.Role, appointmentID, req.Pin)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toTermResponse(term))
	}
}

func confirmSignatureHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ConfirmSignatureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		term, err := svc.ConfirmCompletionBySignature(r.Context(), actor.ID, actor.Role, appointmentID, req.SignatureName)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toTermResponse(term))
	}
}

func contestCompletionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ContestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		term, err := svc.ContestCompletion(r.Context(), actor.ID, actor.Role, appointmentID, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toTermResponse(term))
	}
}
