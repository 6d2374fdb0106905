package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Schedules    *schedule.Service
	Resolver     *availability.Resolver
	Health       *HealthHandler
	Logger       zerolog.Logger
	CORSOrigins  []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor-ID", "X-Actor-Role", "X-Clinic-IDs"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Appointments))
			r.Get("/", listAppointmentsHandler(cfg.Appointments))
			r.Post("/conflicts", checkConflictsHandler(cfg.Appointments))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getAppointmentHandler(cfg.Appointments))
				r.Patch("/", updateAppointmentHandler(cfg.Appointments))
				r.Delete("/", softDeleteHandler(cfg.Appointments))
				r.Post("/status", transitionStatusHandler(cfg.Appointments))
				r.Get("/audit", listAuditHandler(cfg.Appointments))
				r.Post("/restore", restoreHandler(cfg.Appointments))
				r.Delete("/purge", purgeHandler(cfg.Appointments))
			})
		})

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/slots", slotsHandler(cfg.Resolver))
			r.Get("/availability", availabilityHandler(cfg.Resolver))
			r.Get("/exceptions", listExceptionsHandler(cfg.Schedules))
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/blocks", listBlocksHandler(cfg.Schedules))
			r.Post("/blocks", createBlockHandler(cfg.Schedules))
			r.Delete("/blocks/{id}", deleteBlockHandler(cfg.Schedules))
			r.Post("/exceptions", createExceptionHandler(cfg.Schedules))
			r.Delete("/exceptions/{id}", deleteExceptionHandler(cfg.Schedules))
		})
	})

	return r
}
