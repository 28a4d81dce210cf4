package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// statusTransitions is the full lifecycle: pending is the only initial state,
// rejected/completed/cancelled are terminal.
var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ServiceType string

const (
	ServicePsychologicalTest         ServiceType = "psychological_test"
	ServiceNeuropsychologicalTest    ServiceType = "neuropsychological_test"
	ServiceNeuropsychiatricTest      ServiceType = "neuropsychiatric_test"
	ServiceMentalHealthConsultation  ServiceType = "mental_health_consultation"
	ServiceAppliedBehavioralAnalysis ServiceType = "applied_behavioral_analysis"
	ServicePlayTherapy               ServiceType = "play_therapy"
	ServiceAcademicTutor             ServiceType = "academic_tutor"
	ServiceSpedEvaluation            ServiceType = "sped_evaluation"
	ServiceBehavioralAssessment      ServiceType = "behavioral_assessment"
)

// serviceCapacities is the daily queue capacity per service type. The three
// test-administration services run larger batches than the one-on-one ones.
var serviceCapacities = map[ServiceType]int{
	ServicePsychologicalTest:         50,
	ServiceNeuropsychologicalTest:    50,
	ServiceNeuropsychiatricTest:      50,
	ServiceMentalHealthConsultation:  15,
	ServiceAppliedBehavioralAnalysis: 15,
	ServicePlayTherapy:               15,
	ServiceAcademicTutor:             15,
	ServiceSpedEvaluation:            15,
	ServiceBehavioralAssessment:      15,
}

func ParseServiceType(s string) (ServiceType, error) {
	st := ServiceType(s)
	if _, ok := serviceCapacities[st]; !ok {
		return "", fmt.Errorf("unknown service type %q", s)
	}
	return st, nil
}

// MaxSlots returns the daily capacity for the service type, or 0 when the
// type is unknown.
func (s ServiceType) MaxSlots() int {
	return serviceCapacities[s]
}

// ServiceTypes returns the full catalogue in a stable order.
func ServiceTypes() []ServiceType {
	return []ServiceType{
		ServicePsychologicalTest,
		ServiceNeuropsychologicalTest,
		ServiceNeuropsychiatricTest,
		ServiceMentalHealthConsultation,
		ServiceAppliedBehavioralAnalysis,
		ServicePlayTherapy,
		ServiceAcademicTutor,
		ServiceSpedEvaluation,
		ServiceBehavioralAssessment,
	}
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ServiceType     ServiceType
	AppointmentDate time.Time // date only, normalized to UTC midnight
	QueueNumber     int
	Status          Status
	PatientNotes    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SlotAvailability is the result of a capacity check for one
// (date, service type) queue.
type SlotAvailability struct {
	ServiceType     ServiceType
	Date            time.Time
	NextQueueNumber int
	SlotsRemaining  int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DateOnly strips the time component, keeping the calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
