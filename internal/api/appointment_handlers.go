package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		serviceRequestID, err := uuid.Parse(req.ServiceRequestID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "service_request_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider", "provider_id must be a valid UUID")
			return
		}
		windowStart, err := time.Parse(time.RFC3339, req.WindowStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "window_start must be RFC 3339")
			return
		}
		windowEnd, err := time.Parse(time.RFC3339, req.WindowEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "window_end must be RFC 3339")
			return
		}

		actor := actorFrom(r)
		appt, err := svc.Create(r.Context(), actor.ID, actor.Role, appointment.CreateParams{
			ServiceRequestID: serviceRequestID,
			ProviderID:       providerID,
			WindowStart:      windowStart,
			WindowEnd:        windowEnd,
			Reason:           req.Reason,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var from, to *time.Time
		if raw := r.URL.Query().Get("from"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_range", "from must be RFC 3339")
				return
			}
			from = &t
		}
		if raw := r.URL.Query().Get("to"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_range", "to must be RFC 3339")
				return
			}
			to = &t
		}

		actor := actorFrom(r)
		appts, err := svc.ListMine(r.Context(), actor.ID, actor.Role, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		appt, err := svc.GetByID(r.Context(), actor.ID, actor.Role, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getHistoryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		entries, err := svc.GetHistory(r.Context(), actor.ID, actor.Role, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toHistoryResponse(entries))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		appt, err := svc.Confirm(r.Context(), actor.ID, actor.Role, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rejectAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RejectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		appt, err := svc.Reject(r.Context(), actor.ID, actor.Role, id, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func requestRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		windowStart, err := time.Parse(time.RFC3339, req.WindowStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "window_start must be RFC 3339")
			return
		}
		windowEnd, err := time.Parse(time.RFC3339, req.WindowEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "window_end must be RFC 3339")
			return
		}

		actor := actorFrom(r)
		appt, err := svc.RequestReschedule(r.Context(), actor.ID, actor.Role, id, appointment.RescheduleParams{
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Reason:      req.Reason,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func respondRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleResponseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		appt, err := svc.RespondReschedule(r.Context(), actor.ID, actor.Role, id, req.Accept, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		appt, err := svc.Cancel(r.Context(), actor.ID, actor.Role, id, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
