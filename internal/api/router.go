package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/payment"
)

type RouterConfig struct {
	Service  *appointment.Service
	Gateways []payment.Gateway
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health and metrics endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Gateway webhooks authenticate by payload signature, not actor headers
	for _, gw := range cfg.Gateways {
		r.Post("/webhooks/"+gw.Name(), webhookHandler(cfg.Service, gw))
	}

	// Everything else requires a verified actor
	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Post("/appointments", createAppointmentHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/booked-slots", bookedSlotsHandler(cfg.Service))
		r.Delete("/appointments/history", clearHistoryHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Put("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
		r.Put("/appointments/{id}/decline", declineAppointmentHandler(cfg.Service))
		r.Put("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Put("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
		r.Put("/appointments/{id}/mark-paid", markPaidHandler(cfg.Service))
		r.Post("/appointments/{id}/checkout", retryCheckoutHandler(cfg.Service))
		r.Get("/providers/{id}/slots", freeSlotsHandler(cfg.Service))
	})

	return r
}
