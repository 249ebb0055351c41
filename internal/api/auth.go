package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

// Actor is the authenticated caller, resolved upstream by the gateway and
// forwarded in the X-User-Id and X-User-Role headers.
type Actor struct {
	ID   uuid.UUID
	Role appointment.ActorRole
}

const actorKey contextKey = "actor"

// ActorMiddleware rejects requests without a valid identity. The System
// role is reserved for internal workers and never accepted over HTTP.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get("X-User-Id"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "X-User-Id must be a valid UUID")
			return
		}
		role, ok := appointment.ParseActorRole(r.Header.Get("X-User-Role"))
		if !ok || role == appointment.RoleSystem {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "X-User-Role must be Client, Provider or Admin")
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) Actor {
	actor, _ := r.Context().Value(actorKey).(Actor)
	return actor
}
