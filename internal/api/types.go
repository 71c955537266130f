package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-calendar/internal/calendar"
)

type CreateDoctorRequest struct {
	Name         string                `json:"name" validate:"required"`
	Specialty    *string               `json:"specialty"`
	WorkingHours calendar.WorkingHours `json:"working_hours"`
	SlotInterval int                   `json:"slot_interval" validate:"required,gt=0,lte=1440"`
	Status       string                `json:"status" validate:"omitempty,oneof=active inactive"`
}

type UpdateScheduleRequest struct {
	WorkingHours calendar.WorkingHours `json:"working_hours"`
	SlotInterval int                   `json:"slot_interval" validate:"required,gt=0,lte=1440"`
	Status       string                `json:"status" validate:"required,oneof=active inactive"`
}

type CreateTreatmentRequest struct {
	Name            string `json:"name" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0,lte=1440"`
}

// CreateAppointmentRequest.Start is RFC 3339, or "2006-01-02T15:04" read in
// the clinic's timezone.
type CreateAppointmentRequest struct {
	DoctorID    string  `json:"doctor_id" validate:"required,uuid"`
	PatientID   string  `json:"patient_id" validate:"required,uuid"`
	TreatmentID string  `json:"treatment_id" validate:"required,uuid"`
	Start       string  `json:"start" validate:"required"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	TreatmentID uuid.UUID `json:"treatment_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      string    `json:"status"`
	Notes       *string   `json:"notes,omitempty"`
}

type SlotsResponse struct {
	DoctorID    uuid.UUID   `json:"doctor_id"`
	TreatmentID uuid.UUID   `json:"treatment_id"`
	Date        string      `json:"date"`
	Slots       []string    `json:"slots"`
	Starts      []time.Time `json:"starts"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *calendar.Appointment, loc *time.Location) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		DoctorID:    a.DoctorID,
		PatientID:   a.PatientID,
		TreatmentID: a.TreatmentID,
		Start:       a.Start.In(loc),
		End:         a.End.In(loc),
		Status:      string(a.Status),
		Notes:       a.Notes,
	}
}

func toAppointmentResponses(list []calendar.Appointment, loc *time.Location) []AppointmentResponse {
	out := make([]AppointmentResponse, len(list))
	for i := range list {
		out[i] = toAppointmentResponse(&list[i], loc)
	}
	return out
}
