package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

func getSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		query := r.URL.Query()
		from, err := time.Parse(time.RFC3339, query.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", "from must be RFC 3339")
			return
		}
		to, err := time.Parse(time.RFC3339, query.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", "to must be RFC 3339")
			return
		}

		slotDuration := 0
		if raw := query.Get("slot_duration_minutes"); raw != "" {
			slotDuration, err = strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_duration", "slot_duration_minutes must be an integer")
				return
			}
		}

		actor := actorFrom(r)
		slots, err := svc.GetAvailableSlots(r.Context(), actor.ID, actor.Role, providerID, from, to, slotDuration)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]SlotResponse, len(slots))
		for i, s := range slots {
			out[i] = SlotResponse{WindowStart: s.WindowStart, WindowEnd: s.WindowEnd}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getAvailabilityOverviewHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		overview, err := svc.GetAvailabilityOverview(r.Context(), actor.ID, actor.Role, providerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := AvailabilityOverviewResponse{
			ProviderID: overview.ProviderID,
			Rules:      make([]AvailabilityRuleResponse, len(overview.Rules)),
			Exceptions: make([]AvailabilityExceptionResponse, len(overview.Exceptions)),
		}
		for i, rule := range overview.Rules {
			resp.Rules[i] = toRuleResponse(rule)
		}
		for i, e := range overview.Exceptions {
			resp.Exceptions[i] = toExceptionResponse(e)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addAvailabilityRuleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req AvailabilityRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		rule, err := svc.AddAvailabilityRule(r.Context(), actor.ID, actor.Role, providerID, appointment.AvailabilityRuleParams{
			Weekday:             time.Weekday(req.Weekday),
			StartMinute:         req.StartMinute,
			EndMinute:           req.EndMinute,
			SlotDurationMinutes: req.SlotDurationMinutes,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRuleResponse(*rule))
	}
}

func removeAvailabilityRuleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}

		actor := actorFrom(r)
		if err := svc.RemoveAvailabilityRule(r.Context(), actor.ID, actor.Role, ruleID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addAvailabilityExceptionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req AvailabilityExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "starts_at must be RFC 3339")
			return
		}
		endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", "ends_at must be RFC 3339")
			return
		}

		actor := actorFrom(r)
		exception, err := svc.AddAvailabilityException(r.Context(), actor.ID, actor.Role, providerID, appointment.AvailabilityExceptionParams{
			StartsAt: startsAt,
			EndsAt:   endsAt,
			Reason:   req.Reason,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toExceptionResponse(*exception))
	}
}

func removeAvailabilityExceptionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exceptionID, ok := pathUUID(w, r, "exceptionID")
		if !ok {
			return
		}

		actor := actorFrom(r)
		if err := svc.RemoveAvailabilityException(r.Context(), actor.ID, actor.Role, exceptionID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
