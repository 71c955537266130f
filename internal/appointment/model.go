package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-calendar/internal/calendar"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// BookingRequest asks for treatment with a doctor starting at Start. The end
// is derived from the treatment duration.
type BookingRequest struct {
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	TreatmentID uuid.UUID
	Start       time.Time
	Notes       *string
}

// DoctorSchedule is the mutable scheduling configuration of a doctor.
type DoctorSchedule struct {
	WorkingHours calendar.WorkingHours
	SlotInterval int
	Status       calendar.DoctorStatus
}

// DaySlots is the slot listing for one doctor, treatment and clinic day.
type DaySlots struct {
	DoctorID    uuid.UUID
	TreatmentID uuid.UUID
	Date        time.Time
	Slots       []time.Time
}
