package api

import (
	"encoding/json"
	"net/http"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

func markArrivedHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ArrivalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		appt, err := svc.MarkArrived(r.Context(), actor.ID, actor.Role, id, appointment.ArrivalParams{
			Latitude:       req.Latitude,
			Longitude:      req.Longitude,
			AccuracyMeters: req.AccuracyMeters,
			ManualReason:   req.ManualReason,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func startExecutionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		appt, err := svc.StartExecution(r.Context(), actor.ID, actor.Role, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateOperationalStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req OperationalStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		target, ok := appointment.ParseOperationalStatus(req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_state", "unknown operational status")
			return
		}

		actor := actorFrom(r)
		result, err := svc.UpdateOperationalStatus(r.Context(), actor.ID, actor.Role, id, target, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, OperationalUpdateResponse{
			Appointment:   toAppointmentResponse(result.Appointment),
			CompletionPin: result.CompletionPin,
		})
	}
}

func respondPresenceHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req PresenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		appt, err := svc.RespondPresence(r.Context(), actor.ID, actor.Role, id, req.Confirmed, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
