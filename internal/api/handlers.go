package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightsteps/clinic-booking/internal/booking"
	"github.com/brightsteps/clinic-booking/internal/observability/metrics"
)

func listServicesHandler() http.HandlerFunc {
	catalogue := make([]ServiceInfo, 0, len(booking.ServiceTypes()))
	for _, st := range booking.ServiceTypes() {
		catalogue = append(catalogue, ServiceInfo{
			ServiceType: string(st),
			MaxSlots:    st.MaxSlots(),
		})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, catalogue)
	}
}

func availabilityHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceType, date, ok := queryServiceAndDate(w, r)
		if !ok {
			return
		}

		avail, err := svc.ComputeNextSlot(r.Context(), serviceType, date)
		if err != nil {
			if errors.Is(err, booking.ErrCapacityExceeded) {
				writeJSON(w, http.StatusOK, AvailabilityResponse{
					ServiceType:    string(serviceType),
					Date:           date.Format(time.DateOnly),
					Available:      false,
					SlotsRemaining: 0,
				})
				return
			}
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ServiceType:     string(avail.ServiceType),
			Date:            avail.Date.Format(time.DateOnly),
			Available:       true,
			NextQueueNumber: avail.NextQueueNumber,
			SlotsRemaining:  avail.SlotsRemaining,
		})
	}
}

func createBookingHandler(svc BookingService, m *metrics.BookingMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		serviceType, err := booking.ParseServiceType(req.ServiceType)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_type", err.Error())
			return
		}

		date, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
			return
		}

		start := time.Now()
		appt, err := svc.Book(r.Context(), serviceType, date, patientID, req.Notes)
		m.ObserveAllocationLatency(string(serviceType), time.Since(start).Seconds())
		if err != nil {
			m.ObserveAttempt(string(serviceType), bookingOutcome(err))
			handleBookingError(w, err)
			return
		}
		m.ObserveAttempt(string(serviceType), "booked")

		writeJSON(w, http.StatusCreated, toBookingResponse(appt))
	}
}

func getBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(appt))
	}
}

func transitionBookingHandler(apply func(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		appt, err := apply(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(appt))
	}
}

func listPatientBookingsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListPatientAppointments(r.Context(), patientID, limit, offset)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]BookingResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toBookingResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func scheduleHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceType, date, ok := queryServiceAndDate(w, r)
		if !ok {
			return
		}

		appts, err := svc.DaySchedule(r.Context(), serviceType, date)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]BookingResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toBookingResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func queryServiceAndDate(w http.ResponseWriter, r *http.Request) (booking.ServiceType, time.Time, bool) {
	serviceType, err := booking.ParseServiceType(r.URL.Query().Get("service_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_service_type", err.Error())
		return "", time.Time{}, false
	}

	date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
		return "", time.Time{}, false
	}

	return serviceType, date, true
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, booking.ErrCapacityExceeded):
		return "capacity_exhausted"
	case errors.Is(err, booking.ErrInvalidDate):
		return "invalid_date"
	case errors.Is(err, booking.ErrQueueBusy), errors.Is(err, booking.ErrQueueNumberTaken):
		return "conflict"
	default:
		return "error"
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidDate):
		writeError(w, http.StatusUnprocessableEntity, "invalid_date", err.Error())
	case errors.Is(err, booking.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "capacity_exhausted", err.Error())
	case errors.Is(err, booking.ErrQueueBusy):
		writeError(w, http.StatusConflict, "queue_busy", "queue is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrQueueNumberTaken):
		writeError(w, http.StatusConflict, "queue_conflict", "another booking claimed this slot first, please retry")
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "booking store is unavailable, please retry")
	}
}
