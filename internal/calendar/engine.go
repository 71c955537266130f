package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConflict            = errors.New("requested time overlaps an existing appointment")
	ErrOutsideWorkingHours = errors.New("requested time is outside the doctor's working hours")
	ErrInvalidInterval     = errors.New("appointment end must be after start")
)

// Overlaps reports whether the half-open intervals [startA, endA) and
// [startB, endB) intersect. Touching intervals do not overlap.
func Overlaps(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}

// occupied keeps the appointments of doctorID that still hold their interval.
func occupied(doctorID uuid.UUID, appointments []Appointment) []Appointment {
	busy := make([]Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.DoctorID != doctorID || !a.Status.Occupies() {
			continue
		}
		busy = append(busy, a)
	}
	return busy
}

func firstConflict(busy []Appointment, start, end time.Time) (Appointment, bool) {
	for _, a := range busy {
		if Overlaps(start, end, a.Start, a.End) {
			return a, true
		}
	}
	return Appointment{}, false
}

// Midnight returns local midnight of date in date's location.
func Midnight(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, date.Location())
}

// At returns the instant of wall-clock c on date's local day.
func At(date time.Time, c Clock) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, int(c), 0, 0, date.Location())
}

// GenerateSlots lists the bookable start times for treatment with doctor on
// date, ascending. Candidates start at the opening time and advance by the
// doctor's slot interval while the treatment still ends by closing time; any
// candidate overlapping a non-cancelled appointment of the doctor is dropped.
//
// A day without working hours yields an empty list.
func GenerateSlots(doctor Doctor, treatment Treatment, date time.Time, appointments []Appointment) []time.Time {
	slots := make([]time.Time, 0)

	window, ok := doctor.WorkingHours.For(date.Weekday())
	if !ok || doctor.SlotInterval <= 0 || treatment.Duration <= 0 {
		return slots
	}

	busy := occupied(doctor.ID, appointments)
	duration := Clock(treatment.Duration)
	step := Clock(doctor.SlotInterval)

	closing := At(date, window.End)
	for m := window.Start; m+duration <= window.End; m += step {
		start := At(date, m)
		// Wall-clock times skipped by a DST jump do not exist that day.
		if ClockOf(start) != m {
			continue
		}
		end := start.Add(treatment.Length())
		if end.After(closing) {
			continue
		}
		if _, clash := firstConflict(busy, start, end); clash {
			continue
		}
		slots = append(slots, start)
	}

	return slots
}

// ValidateBooking checks a requested [start, end) for doctor against a fresh
// snapshot of appointments. It returns nil when the booking may be written,
// an error wrapping ErrOutsideWorkingHours when the interval is not contained
// in that day's working hours, or one wrapping ErrConflict when it overlaps a
// non-cancelled appointment. Times are read in start's location.
func ValidateBooking(doctor Doctor, start, end time.Time, appointments []Appointment) error {
	if !end.After(start) {
		return ErrInvalidInterval
	}

	window, ok := doctor.WorkingHours.For(start.Weekday())
	if !ok {
		return fmt.Errorf("%w: not scheduled on %s", ErrOutsideWorkingHours, start.Weekday())
	}

	open := At(start, window.Start)
	closing := At(start, window.End)
	end = end.In(start.Location())
	if start.Before(open) || end.After(closing) {
		return fmt.Errorf("%w: %s-%s not within %s-%s",
			ErrOutsideWorkingHours, ClockOf(start), ClockOf(end), window.Start, window.End)
	}

	if a, clash := firstConflict(occupied(doctor.ID, appointments), start, end); clash {
		return fmt.Errorf("%w: appointment %s (%s-%s)",
			ErrConflict, a.ID, ClockOf(a.Start.In(start.Location())), ClockOf(a.End.In(start.Location())))
	}

	return nil
}
