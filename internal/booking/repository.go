package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrQueueNumberTaken    = errors.New("queue number already taken for this date and service")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// MaxQueueNumber returns the highest queue number handed out for the
	// (date, service type) queue, ignoring cancelled rows. 0 when the queue
	// is empty. Store faults must propagate, never read as an empty queue.
	MaxQueueNumber(ctx context.Context, date time.Time, serviceType ServiceType) (int, error)

	// CreatePendingAppointment inserts the row with the given queue number in
	// pending status. Returns ErrQueueNumberTaken when another writer got the
	// same number first.
	CreatePendingAppointment(ctx context.Context, patientID uuid.UUID, serviceType ServiceType, date time.Time, queueNumber int, notes string) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListScheduleForDay(ctx context.Context, date time.Time, serviceType ServiceType) ([]Appointment, error)

	// Lapse worker
	FindLapsedPending(ctx context.Context, before time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
