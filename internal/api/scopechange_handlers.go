package api

import (
	"encoding/json"
	"net/http"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

func createScopeChangeHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ScopeChangeCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		sc, err := svc.CreateScopeChange(r.Context(), actor.ID, actor.Role, appointmentID, appointment.ScopeChangeParams{
			Reason:                     req.Reason,
			AdditionalScopeDescription: req.AdditionalScopeDescription,
			IncrementalValueCents:      req.IncrementalValueCents,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toScopeChangeResponse(sc))
	}
}

func listScopeChangesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		actor := actorFrom(r)
		changes, err := svc.ListScopeChanges(r.Context(), actor.ID, actor.Role, appointmentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]ScopeChangeResponse, len(changes))
		for i, sc := range changes {
			out[i] = toScopeChangeResponse(sc)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listRequestScopeChangesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := pathUUID(w, r, "requestID")
		if !ok {
			return
		}

		actor := actorFrom(r)
		changes, err := svc.ListScopeChangesForRequest(r.Context(), actor.ID, actor.Role, requestID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]ScopeChangeResponse, len(changes))
		for i, sc := range changes {
			out[i] = toScopeChangeResponse(sc)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func respondScopeChangeHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeChangeID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ScopeChangeResponseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		sc, err := svc.RespondScopeChange(r.Context(), actor.ID, actor.Role, scopeChangeID, req.Approve, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toScopeChangeResponse(sc))
	}
}

func addScopeChangeAttachmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeChangeID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ScopeChangeAttachmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		attachment, err := svc.AddScopeChangeAttachment(r.Context(), actor.ID, actor.Role, scopeChangeID, appointment.ScopeChangeAttachmentParams{
			FileURL:     req.FileURL,
			FileName:    req.FileName,
			ContentType: req.ContentType,
			SizeBytes:   req.SizeBytes,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"id":         attachment.ID.String(),
			"media_kind": attachment.MediaKind,
		})
	}
}
