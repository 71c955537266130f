package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DoctorStatus string

const (
	DoctorActive   DoctorStatus = "active"
	DoctorInactive DoctorStatus = "inactive"
)

type Status string

const (
	StatusRegistered     Status = "Registered"
	StatusEncounter      Status = "Encounter"
	StatusWaitingPayment Status = "Waiting Payment"
	StatusFinished       Status = "Finished"
	StatusCancelled      Status = "Cancelled"
	StatusNoShow         Status = "No Show"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusRegistered:     {StatusEncounter, StatusWaitingPayment, StatusCancelled, StatusNoShow},
	StatusEncounter:      {StatusFinished},
	StatusWaitingPayment: {StatusFinished},
}

// Valid reports whether s is one of the known appointment statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusEncounter, StatusWaitingPayment,
		StatusFinished, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusNoShow
}

// Occupies reports whether an appointment in this status blocks its interval.
func (s Status) Occupies() bool {
	return s != StatusCancelled
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition as an error.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

type Doctor struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Specialty    *string      `json:"specialty,omitempty"`
	WorkingHours WorkingHours `json:"working_hours"`
	SlotInterval int          `json:"slot_interval"`
	Status       DoctorStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate checks the scheduling configuration. A doctor that passes can be
// handed to GenerateSlots without further checks.
func (d Doctor) Validate() error {
	if d.SlotInterval <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSlotInterval, d.SlotInterval)
	}
	if d.Status != DoctorActive && d.Status != DoctorInactive {
		return fmt.Errorf("unknown doctor status %q", d.Status)
	}
	return d.WorkingHours.Validate()
}

func (d Doctor) Active() bool {
	return d.Status == DoctorActive
}

type Treatment struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Duration  int       `json:"duration_minutes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t Treatment) Validate() error {
	if t.Duration <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, t.Duration)
	}
	return nil
}

// Length is the treatment duration as a time.Duration.
func (t Treatment) Length() time.Duration {
	return time.Duration(t.Duration) * time.Minute
}

type Appointment struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	TreatmentID uuid.UUID `json:"treatment_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      Status    `json:"status"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
