package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/brightsteps/clinic-booking/internal/booking"
)

type CreateBookingRequest struct {
	PatientID   string `json:"patient_id"`
	ServiceType string `json:"service_type"`
	Date        string `json:"date"`
	Notes       string `json:"notes,omitempty"`
}

type BookingResponse struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patient_id"`
	ServiceType  string    `json:"service_type"`
	Date         string    `json:"date"`
	QueueNumber  int       `json:"queue_number"`
	Status       string    `json:"status"`
	PatientNotes string    `json:"patient_notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toBookingResponse(a *booking.Appointment) BookingResponse {
	return BookingResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		ServiceType:  string(a.ServiceType),
		Date:         a.AppointmentDate.Format(time.DateOnly),
		QueueNumber:  a.QueueNumber,
		Status:       string(a.Status),
		PatientNotes: a.PatientNotes,
		CreatedAt:    a.CreatedAt,
	}
}

type AvailabilityResponse struct {
	ServiceType     string `json:"service_type"`
	Date            string `json:"date"`
	Available       bool   `json:"available"`
	NextQueueNumber int    `json:"next_queue_number,omitempty"`
	SlotsRemaining  int    `json:"slots_remaining"`
}

type ServiceInfo struct {
	ServiceType string `json:"service_type"`
	MaxSlots    int    `json:"max_slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
