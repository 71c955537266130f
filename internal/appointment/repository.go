package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-calendar/internal/calendar"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrTreatmentNotFound   = errors.New("treatment not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetDoctorByID(ctx context.Context, id uuid.UUID) (*calendar.Doctor, error)
	CreateDoctor(ctx context.Context, d calendar.Doctor) (*calendar.Doctor, error)
	UpdateDoctorSchedule(ctx context.Context, id uuid.UUID, sched DoctorSchedule) (*calendar.Doctor, error)

	GetTreatmentByID(ctx context.Context, id uuid.UUID) (*calendar.Treatment, error)
	CreateTreatment(ctx context.Context, t calendar.Treatment) (*calendar.Treatment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*calendar.Appointment, error)
	// ListDoctorAppointments returns appointments intersecting [from, to), ordered by start.
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time, includeCancelled bool) ([]calendar.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]calendar.Appointment, error)

	// UpdateAppointmentStatus is a compare-and-set on status; it returns
	// ErrAppointmentNotFound when the row is not currently in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to calendar.Status) (*calendar.Appointment, error)

	// No-show worker
	FindOverdueRegistered(ctx context.Context, endedBefore time.Time, limit int) ([]calendar.Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithDoctorCalendar runs fn in one transaction that holds the doctor's
	// row lock, so the snapshot read, the validation and the insert done
	// through cal cannot interleave with another booking for that doctor.
	WithDoctorCalendar(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, cal CalendarTx) error) error
}

// CalendarTx is the view of one doctor's calendar inside WithDoctorCalendar.
type CalendarTx interface {
	Doctor() calendar.Doctor
	ActiveAppointments(ctx context.Context, from, to time.Time) ([]calendar.Appointment, error)
	InsertAppointment(ctx context.Context, a calendar.Appointment) (*calendar.Appointment, error)
	InsertEvent(ctx context.Context, ev EventLog) error
}
