package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brightsteps/clinic-booking/internal/config"
	redisclient "github.com/brightsteps/clinic-booking/internal/redis"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingApproved  = "BOOKING_APPROVED"
	EventBookingRejected  = "BOOKING_REJECTED"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventBookingCancelled = "BOOKING_CANCELLED"
)

var (
	ErrCapacityExceeded        = errors.New("no slots remain for this date and service")
	ErrQueueBusy               = errors.New("queue is currently being booked, please retry")
	ErrInvalidDate             = errors.New("invalid appointment date")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger

	// injected clock, replaced in tests
	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// ValidateDate checks the booking window and weekday rules: at least
// MinLeadDays ahead, at most BookingWindowDays ahead, never a Sunday.
func (s *Service) ValidateDate(date time.Time) error {
	d := DateOnly(date)
	today := DateOnly(s.now())

	if d.Weekday() == time.Sunday {
		return fmt.Errorf("%w: clinic is closed on Sundays", ErrInvalidDate)
	}

	min := today.AddDate(0, 0, s.cfg.MinLeadDays)
	if d.Before(min) {
		return fmt.Errorf("%w: earliest bookable date is %s", ErrInvalidDate, min.Format(time.DateOnly))
	}

	max := today.AddDate(0, 0, s.cfg.BookingWindowDays)
	if d.After(max) {
		return fmt.Errorf("%w: latest bookable date is %s", ErrInvalidDate, max.Format(time.DateOnly))
	}

	return nil
}

// ComputeNextSlot reads the current queue high-water mark for
// (date, service type) and returns the number the next booking would get.
// Returns ErrCapacityExceeded once the daily capacity is reached.
func (s *Service) ComputeNextSlot(ctx context.Context, serviceType ServiceType, date time.Time) (*SlotAvailability, error) {
	if _, err := ParseServiceType(string(serviceType)); err != nil {
		return nil, err
	}
	if err := s.ValidateDate(date); err != nil {
		return nil, err
	}
	return s.nextSlot(ctx, serviceType, date)
}

// nextSlot is the capacity check without date validation, shared by the
// pre-check and the locked re-check inside Book.
func (s *Service) nextSlot(ctx context.Context, serviceType ServiceType, date time.Time) (*SlotAvailability, error) {
	current, err := s.repo.MaxQueueNumber(ctx, date, serviceType)
	if err != nil {
		return nil, fmt.Errorf("read queue high-water mark: %w", err)
	}

	maxSlots := serviceType.MaxSlots()
	if current >= maxSlots {
		return nil, ErrCapacityExceeded
	}

	// SlotsRemaining counts what is left after the offered slot is taken.
	return &SlotAvailability{
		ServiceType:     serviceType,
		Date:            DateOnly(date),
		NextQueueNumber: current + 1,
		SlotsRemaining:  maxSlots - current - 1,
	}, nil
}

// Book assigns the next queue number for (date, service type) and creates the
// appointment in pending status. The queue lock serializes concurrent bookers
// for the same queue; the partial unique index on
// (appointment_date, service_type, queue_number) backstops the lock, so a
// racing writer fails with ErrQueueNumberTaken instead of duplicating a
// number.
func (s *Service) Book(ctx context.Context, serviceType ServiceType, date time.Time, patientID uuid.UUID, notes string) (*Appointment, error) {
	if _, err := ParseServiceType(string(serviceType)); err != nil {
		return nil, err
	}
	if err := s.ValidateDate(date); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Appointment

	err := s.locker.WithQueueLock(ctx, DateOnly(date), string(serviceType), func(lockCtx context.Context) error {
		// Re-check availability at submit time, inside the critical section
		avail, err := s.nextSlot(lockCtx, serviceType, date)
		if err != nil {
			return err
		}

		appt, err := s.repo.CreatePendingAppointment(lockCtx, patientID, serviceType, date, avail.NextQueueNumber, notes)
		if err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventBookingCreated, map[string]any{
			"patient_id":   patientID.String(),
			"service_type": string(serviceType),
			"date":         DateOnly(date).Format(time.DateOnly),
			"queue_number": appt.QueueNumber,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrQueueBusy
		}
		return nil, err
	}

	return created, nil
}

// ApproveBooking moves a pending appointment to approved.
func (s *Service) ApproveBooking(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusApproved, EventBookingApproved)
}

// RejectBooking moves a pending appointment to rejected.
func (s *Service) RejectBooking(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusRejected, EventBookingRejected)
}

// CompleteBooking moves an approved appointment to completed.
func (s *Service) CompleteBooking(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventBookingCompleted)
}

// CancelBooking moves an approved appointment to cancelled. The queue number
// stays burned: cancelled rows are ignored by the capacity check but numbers
// are never handed out twice.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventBookingCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, eventType string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost the compare-and-set to a concurrent transition
			return nil, fmt.Errorf("%w: appointment %s changed concurrently", ErrInvalidStatusTransition, id)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, updated.ID, eventType, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})

	return updated, nil
}

// GetAppointment retrieves an appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListPatientAppointments retrieves appointments for a specific patient.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// DaySchedule retrieves the queue roster for one (date, service type) pair,
// ordered by queue number.
func (s *Service) DaySchedule(ctx context.Context, serviceType ServiceType, date time.Time) ([]Appointment, error) {
	if _, err := ParseServiceType(string(serviceType)); err != nil {
		return nil, err
	}

	appointments, err := s.repo.ListScheduleForDay(ctx, date, serviceType)
	if err != nil {
		return nil, fmt.Errorf("list day schedule: %w", err)
	}
	return appointments, nil
}

// RejectLapsedBookings is called by the lapse worker: pending appointments
// whose date has passed without staff action are rejected.
func (s *Service) RejectLapsedBookings(ctx context.Context) (int, error) {
	today := DateOnly(s.now())
	lapsed, err := s.repo.FindLapsedPending(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("find lapsed pending appointments: %w", err)
	}

	rejected := 0
	for _, appt := range lapsed {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusRejected)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("failed to reject lapsed appointment")
			continue
		}
		rejected++
		s.logEvent(ctx, appt.ID, EventBookingRejected, map[string]any{
			"reason": "lapsed",
			"date":   appt.AppointmentDate.Format(time.DateOnly),
		})
	}

	return rejected, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Stringer("appointment_id", appointmentID).Msg("failed to insert event log")
	}
}
