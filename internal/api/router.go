package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/providers/{id}", func(r chi.Router) {
			r.Get("/slots", getSlotsHandler(cfg.Service))
			r.Get("/availability", getAvailabilityOverviewHandler(cfg.Service))
			r.Post("/availability/rules", addAvailabilityRuleHandler(cfg.Service))
			r.Post("/availability/exceptions", addAvailabilityExceptionHandler(cfg.Service))
		})
		r.Delete("/availability/rules/{ruleID}", removeAvailabilityRuleHandler(cfg.Service))
		r.Delete("/availability/exceptions/{exceptionID}", removeAvailabilityExceptionHandler(cfg.Service))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(cfg.Service))
			r.Get("/", listAppointmentsHandler(cfg.Service))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getAppointmentHandler(cfg.Service))
				r.Get("/history", getHistoryHandler(cfg.Service))
				r.Post("/confirm", confirmAppointmentHandler(cfg.Service))
				r.Post("/reject", rejectAppointmentHandler(cfg.Service))
				r.Post("/reschedule", requestRescheduleHandler(cfg.Service))
				r.Post("/reschedule/respond", respondRescheduleHandler(cfg.Service))
				r.Post("/cancel", cancelAppointmentHandler(cfg.Service))

				r.Post("/arrive", markArrivedHandler(cfg.Service))
				r.Post("/start", startExecutionHandler(cfg.Service))
				r.Post("/operational-status", updateOperationalStatusHandler(cfg.Service))
				r.Post("/presence", respondPresenceHandler(cfg.Service))

				r.Post("/scope-changes", createScopeChangeHandler(cfg.Service))
				r.Get("/scope-changes", listScopeChangesHandler(cfg.Service))

				r.Get("/completion-term", getCompletionTermHandler(cfg.Service))
				r.Post("/completion-term/regenerate-pin", regeneratePinHandler(cfg.Service))
				r.Post("/completion-term/confirm-pin", confirmPinHandler(cfg.Service))
				r.Post("/completion-term/confirm-signature", confirmSignatureHandler(cfg.Service))
				r.Post("/completion-term/contest", contestCompletionHandler(cfg.Service))
			})
		})

		r.Route("/scope-changes/{id}", func(r chi.Router) {
			r.Post("/respond", respondScopeChangeHandler(cfg.Service))
			r.Post("/attachments", addScopeChangeAttachmentHandler(cfg.Service))
		})

		r.Get("/service-requests/{requestID}/scope-changes", listRequestScopeChangesHandler(cfg.Service))
	})

	return r
}
