package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/brightsteps/clinic-booking/internal/booking"
	"github.com/brightsteps/clinic-booking/internal/observability/metrics"
)

// BookingService is what the handlers need from the booking layer. Satisfied
// by *booking.Service; stubbed in handler tests.
type BookingService interface {
	ComputeNextSlot(ctx context.Context, serviceType booking.ServiceType, date time.Time) (*booking.SlotAvailability, error)
	Book(ctx context.Context, serviceType booking.ServiceType, date time.Time, patientID uuid.UUID, notes string) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	ApproveBooking(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	RejectBooking(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	CompleteBooking(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	CancelBooking(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	DaySchedule(ctx context.Context, serviceType booking.ServiceType, date time.Time) ([]booking.Appointment, error)
}

type RouterConfig struct {
	Service  BookingService
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Env      string
	Version  string
	Logger   zerolog.Logger
	Metrics  *metrics.BookingMetrics
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Booking endpoints
	r.Get("/services", listServicesHandler())
	r.Get("/availability", availabilityHandler(cfg.Service))
	r.Get("/schedule", scheduleHandler(cfg.Service))
	r.Post("/bookings", createBookingHandler(cfg.Service, cfg.Metrics))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/approve", transitionBookingHandler(cfg.Service.ApproveBooking))
	r.Post("/bookings/{id}/reject", transitionBookingHandler(cfg.Service.RejectBooking))
	r.Post("/bookings/{id}/complete", transitionBookingHandler(cfg.Service.CompleteBooking))
	r.Post("/bookings/{id}/cancel", transitionBookingHandler(cfg.Service.CancelBooking))
	r.Get("/patients/{id}/bookings", listPatientBookingsHandler(cfg.Service))

	return r
}
