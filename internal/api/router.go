package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-calendar/internal/appointment"
)

type RouterConfig struct {
	Service        *appointment.Service
	PgPool         PgPinger
	Redis          RedisPinger
	Env            string
	Version        string
	Logger         *zap.Logger
	AllowedOrigins []string
	// BookingRate caps booking attempts per second per client IP. Zero disables it.
	BookingRate int
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	r.Post("/doctors", createDoctorHandler(svc))
	r.Route("/doctors/{id}", func(r chi.Router) {
		r.Get("/", getDoctorHandler(svc))
		r.Put("/schedule", updateScheduleHandler(svc))
		r.Get("/slots", listSlotsHandler(svc))
		r.Get("/slots/stream", streamSlotsHandler(svc, log))
		r.Get("/appointments", listDoctorAppointmentsHandler(svc))
	})

	r.Post("/treatments", createTreatmentHandler(svc))

	r.Group(func(r chi.Router) {
		if cfg.BookingRate > 0 {
			r.Use(httprate.LimitByIP(cfg.BookingRate, time.Second))
		}
		r.Post("/appointments", createAppointmentHandler(svc))
	})
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc))
	r.Post("/appointments/{id}/status", updateStatusHandler(svc))

	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(svc))

	return r
}
